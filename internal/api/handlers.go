package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/crewbase/onramp/internal/aggregate"
	"github.com/crewbase/onramp/internal/catalog"
	"github.com/crewbase/onramp/internal/gate"
	"github.com/crewbase/onramp/internal/service"
	"github.com/crewbase/onramp/internal/types"
	"github.com/crewbase/onramp/internal/validation"
)

// ReadStore is the read-side slice of the store the handlers use directly.
type ReadStore interface {
	GetRecord(ctx context.Context, key types.RecordKey) (*types.TaskRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]types.ChangeEvent, error)
	LatestSequence(ctx context.Context) (int64, error)
}

// Handler implements the API handlers.
type Handler struct {
	service    *service.Progression
	aggregator *aggregate.Aggregator
	evaluator  *gate.Evaluator
	reads      ReadStore
	catalog    *catalog.Catalog
	apiKey     string
	version    string
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Progression, agg *aggregate.Aggregator, eval *gate.Evaluator, reads ReadStore, cat *catalog.Catalog, apiKey, version string) *Handler {
	return &Handler{
		service:    svc,
		aggregator: agg,
		evaluator:  eval,
		reads:      reads,
		catalog:    cat,
		apiKey:     apiKey,
		version:    version,
	}
}

type setDoneRequest struct {
	Done bool `json:"done"`
}

type recordRunRequest struct {
	DurationMs int64 `json:"duration_ms"`
}

type setApprovalRequest struct {
	Approved bool `json:"approved"`
}

type upsertStoreRequest struct {
	Name string `json:"name"`
}

type upsertTraineeRequest struct {
	StoreID     string `json:"store_id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

type changesResponse struct {
	Events         []types.ChangeEvent `json:"events"`
	LatestSequence int64               `json:"latest_sequence"`
}

// Health returns the health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.reads.CountRecords(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Sections:      len(h.catalog.Sections()),
		TotalTasks:    h.catalog.TotalTasks(),
		RecordCount:   count,
		SchemaVersion: 1,
	})
}

// SetDone handles PUT /trainees/{traineeID}/sections/{sectionID}/tasks/{taskID}/done.
func (h *Handler) SetDone(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKeyFromPath(w, r)
	if !ok {
		return
	}

	var req setDoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	actor := MustActorFromContext(r.Context())
	if err := h.service.SetDone(r.Context(), actor, key, req.Done); err != nil {
		slog.Error("set done failed", "key", key.Encode(), "error", err)
		MapStoreError(w, r, err)
		return
	}

	rec, err := h.reads.GetRecord(r.Context(), key)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// RecordRun handles POST /trainees/{traineeID}/sections/{sectionID}/tasks/{taskID}/runs.
func (h *Handler) RecordRun(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKeyFromPath(w, r)
	if !ok {
		return
	}

	var req recordRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if verr := validation.ValidatePositive("duration_ms", req.DurationMs); verr != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*verr})
		return
	}

	actor := MustActorFromContext(r.Context())
	stats, err := h.service.RecordTimedRun(r.Context(), actor, key, req.DurationMs)
	if err != nil {
		slog.Error("record run failed", "key", key.Encode(), "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, stats)
}

// SetApproval handles PUT /trainees/{traineeID}/sections/{sectionID}/tasks/{taskID}/approval.
func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	key, ok := recordKeyFromPath(w, r)
	if !ok {
		return
	}

	var req setApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	actor := MustActorFromContext(r.Context())
	if err := h.service.SetApproved(r.Context(), actor, key, req.Approved); err != nil {
		slog.Warn("set approval failed", "key", key.Encode(), "actor", actor.ID, "error", err)
		MapStoreError(w, r, err)
		return
	}

	rec, err := h.reads.GetRecord(r.Context(), key)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, rec)
}

// TraineeProgress handles GET /trainees/{traineeID}/progress.
func (h *Handler) TraineeProgress(w http.ResponseWriter, r *http.Request) {
	traineeID, ok := identifierFromPath(w, r, "traineeID")
	if !ok {
		return
	}

	summary, err := h.aggregator.TraineePercent(r.Context(), traineeID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

// SectionView handles GET /trainees/{traineeID}/sections/{sectionID}.
func (h *Handler) SectionView(w http.ResponseWriter, r *http.Request) {
	traineeID, ok := identifierFromPath(w, r, "traineeID")
	if !ok {
		return
	}
	sectionID := chi.URLParam(r, "sectionID")
	if !catalog.IsKnownSection(sectionID) {
		WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("unknown section %q", sectionID))
		return
	}

	view, err := h.aggregator.ListTasksWithState(r.Context(), traineeID, sectionID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, view)
}

// Gates handles GET /trainees/{traineeID}/gates.
func (h *Handler) Gates(w http.ResponseWriter, r *http.Request) {
	traineeID, ok := identifierFromPath(w, r, "traineeID")
	if !ok {
		return
	}

	entries, err := h.evaluator.SectionStatuses(r.Context(), traineeID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, types.GateView{TraineeID: traineeID, Sections: entries})
}

// StoreProgress handles GET /stores/{storeID}/progress.
func (h *Handler) StoreProgress(w http.ResponseWriter, r *http.Request) {
	storeID, ok := identifierFromPath(w, r, "storeID")
	if !ok {
		return
	}

	summary, err := h.aggregator.StorePercent(r.Context(), storeID)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

// Changes handles GET /changes?after_seq=N&limit=N for client replay.
// An optional scope parameter narrows the feed to one subscription
// scope; unknown scopes are rejected rather than silently empty.
func validScope(s types.Scope) bool {
	for _, known := range types.Scopes() {
		if s == known {
			return true
		}
	}
	return false
}

func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	afterSeq := int64(0)
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			WriteProblem(w, r, http.StatusBadRequest, "after_seq must be a non-negative integer")
			return
		}
		afterSeq = n
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	scope := types.Scope(r.URL.Query().Get("scope"))
	if scope != "" && !validScope(scope) {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("unknown scope %q", scope))
		return
	}

	events, err := h.reads.ChangesAfter(r.Context(), afterSeq, limit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if scope != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Scope == scope {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []types.ChangeEvent{}
	}

	// The feed head lets a client detect whether it is caught up
	// without issuing an extra request.
	latest, err := h.reads.LatestSequence(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, changesResponse{Events: events, LatestSequence: latest})
}

// UpsertStore handles PUT /stores/{storeID}.
func (h *Handler) UpsertStore(w http.ResponseWriter, r *http.Request) {
	storeID, ok := identifierFromPath(w, r, "storeID")
	if !ok {
		return
	}

	var req upsertStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	actor := MustActorFromContext(r.Context())
	if err := h.service.UpsertStore(r.Context(), actor, types.StoreInfo{ID: storeID, Name: req.Name}); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpsertTrainee handles PUT /trainees/{traineeID}/roster.
func (h *Handler) UpsertTrainee(w http.ResponseWriter, r *http.Request) {
	traineeID, ok := identifierFromPath(w, r, "traineeID")
	if !ok {
		return
	}

	var req upsertTraineeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateIdentifier("store_id", req.StoreID))
	c.Add(validation.ValidateMaxLength("display_name", req.DisplayName, 200))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	actor := MustActorFromContext(r.Context())
	trainee := types.Trainee{
		ID:          traineeID,
		StoreID:     req.StoreID,
		DisplayName: req.DisplayName,
		Active:      req.Active,
	}
	if err := h.service.UpsertTrainee(r.Context(), actor, trainee); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordKeyFromPath builds and validates the composite key from URL params.
func recordKeyFromPath(w http.ResponseWriter, r *http.Request) (types.RecordKey, bool) {
	key := types.RecordKey{
		TraineeID: chi.URLParam(r, "traineeID"),
		SectionID: chi.URLParam(r, "sectionID"),
		TaskID:    chi.URLParam(r, "taskID"),
	}

	var c validation.Collector
	c.Add(validation.ValidateIdentifier("trainee_id", key.TraineeID))
	c.Add(validation.ValidateIdentifier("section_id", key.SectionID))
	c.Add(validation.ValidateIdentifier("task_id", key.TaskID))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid record key", c.Errors())
		return types.RecordKey{}, false
	}
	return key, true
}

func identifierFromPath(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	value := chi.URLParam(r, param)
	if verr := validation.ValidateIdentifier(param, value); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid path parameter", []validation.ValidationError{*verr})
		return "", false
	}
	return value, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
