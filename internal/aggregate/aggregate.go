// Package aggregate computes the derived completion percentages used
// by dashboards. It is the ONE canonical percent implementation; every
// surface must call it rather than re-deriving percentages locally.
package aggregate

import (
	"context"
	"fmt"
	"math"

	"github.com/crewbase/onramp/internal/catalog"
	"github.com/crewbase/onramp/internal/gate"
	"github.com/crewbase/onramp/internal/types"
)

// Store is the slice of the progression store the aggregator needs.
type Store interface {
	ListRecords(ctx context.Context, traineeID string) ([]types.TaskRecord, error)
	ListSectionRecords(ctx context.Context, traineeID, sectionID string) ([]types.TaskRecord, error)
	GetSectionApprovals(ctx context.Context, traineeID string) (map[string]bool, error)
	ActiveTrainees(ctx context.Context, storeID string) ([]string, error)
}

// Aggregator derives completion summaries on read. Nothing here is
// persisted; summaries are always recomputed from records + catalog,
// so a growing catalog lowers everyone's percentage, which is the
// intended behavior.
type Aggregator struct {
	catalog *catalog.Catalog
	store   Store
}

// New creates an aggregator over the given catalog and store.
func New(cat *catalog.Catalog, st Store) *Aggregator {
	return &Aggregator{catalog: cat, store: st}
}

// TraineePercent computes round(100 * done / total) across every task
// currently in the catalog. Completions count whether or not their
// section is unlocked: working ahead of approval still counts. Records
// for tasks no longer in the catalog are ignored.
func (a *Aggregator) TraineePercent(ctx context.Context, traineeID string) (*types.ProgressSummary, error) {
	records, err := a.store.ListRecords(ctx, traineeID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	completed := 0
	for _, rec := range records {
		if !rec.Done {
			continue
		}
		if _, ok := a.catalog.Task(rec.SectionID, rec.TaskID); ok {
			completed++
		}
	}

	total := a.catalog.TotalTasks()
	summary := &types.ProgressSummary{
		TraineeID:      traineeID,
		CompletedCount: completed,
		TotalCount:     total,
	}
	if total > 0 {
		summary.Percent = int(math.Round(100 * float64(completed) / float64(total)))
	}
	return summary, nil
}

// StorePercent computes the arithmetic mean of the active trainees'
// percentages, each trainee weighted equally. Pooling completed/total
// across trainees would weight them by tenure, which is wrong.
func (a *Aggregator) StorePercent(ctx context.Context, storeID string) (*types.StoreSummary, error) {
	trainees, err := a.store.ActiveTrainees(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("active trainees: %w", err)
	}

	summary := &types.StoreSummary{StoreID: storeID, TraineeCount: len(trainees)}
	if len(trainees) == 0 {
		return summary, nil
	}

	sum := 0
	for _, traineeID := range trainees {
		ts, err := a.TraineePercent(ctx, traineeID)
		if err != nil {
			return nil, fmt.Errorf("trainee %s: %w", traineeID, err)
		}
		sum += ts.Percent
	}
	summary.MeanPercent = int(math.Round(float64(sum) / float64(len(trainees))))
	return summary, nil
}

// ListTasksWithState returns the composed read model for one section:
// ordered task definitions with the trainee's done/approved flags,
// plus the section's unlock and state machine position.
func (a *Aggregator) ListTasksWithState(ctx context.Context, traineeID, sectionID string) (*types.SectionView, error) {
	if !catalog.IsKnownSection(sectionID) {
		return nil, fmt.Errorf("unknown section %q", sectionID)
	}

	records, err := a.store.ListSectionRecords(ctx, traineeID, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list section records: %w", err)
	}
	approvals, err := a.store.GetSectionApprovals(ctx, traineeID)
	if err != nil {
		return nil, fmt.Errorf("get rollups: %w", err)
	}

	byTask := make(map[string]types.TaskRecord, len(records))
	for _, rec := range records {
		byTask[rec.TaskID] = rec
	}

	unlocked := gate.IsUnlocked(sectionID, approvals)
	view := &types.SectionView{
		SectionID: sectionID,
		Unlocked:  unlocked,
		Tasks:     []types.TaskState{},
	}

	allDone := true
	for _, task := range a.catalog.ListTasks(sectionID) {
		rec := byTask[task.TaskID] // zero value reads as done=false, approved=false
		view.Tasks = append(view.Tasks, types.TaskState{
			TaskDefinition: task,
			Done:           rec.Done,
			Approved:       rec.Approved,
		})
		if !rec.Done {
			allDone = false
		}
	}

	switch {
	case approvals[sectionID] && unlocked:
		view.Status = types.SectionApproved
	case !unlocked:
		view.Status = types.SectionLocked
	case allDone:
		view.Status = types.SectionPendingApproval
	default:
		view.Status = types.SectionInProgress
	}
	return view, nil
}
