package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/crewbase/onramp/internal/aggregate"
	"github.com/crewbase/onramp/internal/api"
	"github.com/crewbase/onramp/internal/bus"
	"github.com/crewbase/onramp/internal/catalog"
	"github.com/crewbase/onramp/internal/gate"
	"github.com/crewbase/onramp/internal/service"
	"github.com/crewbase/onramp/internal/store"
	"github.com/crewbase/onramp/internal/types"
	"github.com/crewbase/onramp/internal/worker"
)

const apiKey = "e2e-test-key"

// day1Tasks mirrors the embedded default catalog.
var day1Tasks = []string{"tour", "safety", "till-basics"}

// stack wires the full service: store, bus, coordinator, and HTTP server.
type stack struct {
	srv *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "onramp.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	changeBus := bus.New()
	svc := service.New(st, cat, changeBus)
	agg := aggregate.New(cat, st)
	eval := gate.New(cat, st)

	coordinator := worker.NewGateCoordinator(eval, st, changeBus, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		changeBus.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("coordinator did not stop")
		}
	})

	h := api.NewHandler(svc, agg, eval, st, cat, apiKey, "e2e")
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)

	return &stack{srv: srv}
}

func (s *stack) do(t *testing.T, method, path string, body any, actorID string, role types.Role) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Actor-ID", actorID)
	req.Header.Set("X-Actor-Role", string(role))

	resp, err := s.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *stack) mustDo(t *testing.T, method, path string, body any, actorID string, role types.Role, wantStatus int) *http.Response {
	t.Helper()
	resp := s.do(t, method, path, body, actorID, role)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d", method, path, wantStatus, resp.StatusCode)
	}
	return resp
}

// gates fetches the gate view for a trainee.
func (s *stack) gates(t *testing.T, traineeID string) types.GateView {
	t.Helper()
	resp := s.mustDo(t, http.MethodGet, "/api/v1/trainees/"+traineeID+"/gates", nil, traineeID, types.RoleTrainee, http.StatusOK)
	var view types.GateView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode gates: %v", err)
	}
	return view
}

// waitForUnlock polls the gate view until the section reaches the wanted
// unlock state. Rollup recomputation is asynchronous behind the bus.
func (s *stack) waitForUnlock(t *testing.T, traineeID, sectionID string, want bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view := s.gates(t, traineeID)
		for _, entry := range view.Sections {
			if entry.SectionID == sectionID && entry.Unlocked == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("section %s never reached unlocked=%v", sectionID, want)
}

func completeAndApproveDay1(t *testing.T, s *stack, traineeID string) {
	t.Helper()
	for _, task := range day1Tasks {
		base := "/api/v1/trainees/" + traineeID + "/sections/day1/tasks/" + task
		s.mustDo(t, http.MethodPut, base+"/done",
			map[string]bool{"done": true}, traineeID, types.RoleTrainee, http.StatusOK)
		s.mustDo(t, http.MethodPut, base+"/approval",
			map[string]bool{"approved": true}, "sup1", types.RoleSupervisor, http.StatusOK)
	}
}

func TestFullSectionApprovalUnlocksNextSection(t *testing.T) {
	s := newStack(t)

	// Given: a fresh trainee, everything past day1 locked
	view := s.gates(t, "t1")
	if !view.Sections[0].Unlocked {
		t.Fatal("day1 must start unlocked")
	}
	if view.Sections[1].Unlocked {
		t.Fatal("week1 must start locked")
	}

	// When: every day1 task is done and approved
	completeAndApproveDay1(t, s, "t1")

	// Then: the coordinator flips the day1 rollup and week1 unlocks
	s.waitForUnlock(t, "t1", "week1", true)

	// And: later sections stay locked until their predecessors approve
	view = s.gates(t, "t1")
	for _, entry := range view.Sections {
		if entry.SectionID == "week2" && entry.Unlocked {
			t.Error("week2 should remain locked")
		}
	}
}

func TestApprovalRevocationRelocksDownstream(t *testing.T) {
	s := newStack(t)

	completeAndApproveDay1(t, s, "t1")
	s.waitForUnlock(t, "t1", "week1", true)

	// When: a supervisor revokes one day1 approval
	s.mustDo(t, http.MethodPut,
		"/api/v1/trainees/t1/sections/day1/tasks/tour/approval",
		map[string]bool{"approved": false}, "sup1", types.RoleSupervisor, http.StatusOK)

	// Then: week1 re-locks
	s.waitForUnlock(t, "t1", "week1", false)
}

func TestProgressRevocationRelocksDownstream(t *testing.T) {
	s := newStack(t)

	completeAndApproveDay1(t, s, "t1")
	s.waitForUnlock(t, "t1", "week1", true)

	// When: the trainee un-does a day1 task (approval stays, but a
	// section only counts tasks that are both done and approved)
	s.mustDo(t, http.MethodPut,
		"/api/v1/trainees/t1/sections/day1/tasks/safety/done",
		map[string]bool{"done": false}, "t1", types.RoleTrainee, http.StatusOK)

	s.waitForUnlock(t, "t1", "week1", false)
}

func TestChangeFeedCarriesSectionApprovalEvents(t *testing.T) {
	s := newStack(t)

	completeAndApproveDay1(t, s, "t1")
	s.waitForUnlock(t, "t1", "week1", true)

	resp := s.mustDo(t, http.MethodGet, "/api/v1/changes?after_seq=0&limit=100",
		nil, "t1", types.RoleTrainee, http.StatusOK)

	var feed struct {
		Events []types.ChangeEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		t.Fatalf("decode changes: %v", err)
	}

	var sawSectionApproval bool
	lastSeq := int64(0)
	for _, ev := range feed.Events {
		if ev.Sequence <= lastSeq {
			t.Fatalf("feed out of order: %d after %d", ev.Sequence, lastSeq)
		}
		lastSeq = ev.Sequence
		if ev.Scope == types.ScopeTraineeSectionApproval && ev.RecordKey == "t1_day1" {
			sawSectionApproval = true
		}
	}
	if !sawSectionApproval {
		t.Error("expected a t1_day1 section approval event in the feed")
	}
}

func TestStoreRollupOverRoster(t *testing.T) {
	s := newStack(t)

	// Given: a store with two active trainees
	s.mustDo(t, http.MethodPut, "/api/v1/stores/store-12",
		map[string]string{"name": "Twelfth Ave"}, "adm1", types.RoleAdmin, http.StatusNoContent)
	for _, id := range []string{"t1", "t2"} {
		s.mustDo(t, http.MethodPut, "/api/v1/trainees/"+id+"/roster",
			map[string]any{"store_id": "store-12", "display_name": id, "active": true},
			"adm1", types.RoleAdmin, http.StatusNoContent)
	}

	// When: one trainee finishes day1
	completeAndApproveDay1(t, s, "t1")

	// Then: the store mean counts both trainees
	resp := s.mustDo(t, http.MethodGet, "/api/v1/stores/store-12/progress",
		nil, "adm1", types.RoleAdmin, http.StatusOK)
	var summary types.StoreSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TraineeCount != 2 {
		t.Errorf("expected 2 trainees, got %d", summary.TraineeCount)
	}
	if summary.MeanPercent == 0 {
		t.Error("expected non-zero mean percent")
	}
}
