// Package gate evaluates section approval rollups and unlock state for
// the fixed onboarding chain.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewbase/onramp/internal/catalog"
	"github.com/crewbase/onramp/internal/types"
)

// Store is the slice of the progression store the evaluator needs.
type Store interface {
	ListRecords(ctx context.Context, traineeID string) ([]types.TaskRecord, error)
	ListSectionRecords(ctx context.Context, traineeID, sectionID string) ([]types.TaskRecord, error)
	GetSectionApproval(ctx context.Context, traineeID, sectionID string) (bool, error)
	GetSectionApprovals(ctx context.Context, traineeID string) (map[string]bool, error)
	UpsertSectionApproval(ctx context.Context, traineeID, sectionID string, approved bool, at time.Time) error
}

// Evaluator computes rollup approvals and gate state.
type Evaluator struct {
	catalog *catalog.Catalog
	store   Store
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // trainee/section -> recompute lock
}

// New creates an evaluator over the given catalog and store.
func New(cat *catalog.Catalog, st Store) *Evaluator {
	return &Evaluator{
		catalog: cat,
		store:   st,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// sectionLock returns the mutex serializing recomputes for one
// (trainee, section) pair. Locks are never released back to the map;
// the key space is bounded by trainees x sections.
func (e *Evaluator) sectionLock(traineeID, sectionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := traineeID + "/" + sectionID
	l, ok := e.locks[k]
	if !ok {
		l = &sync.Mutex{}
		e.locks[k] = l
	}
	return l
}

// RecomputeSectionApproval re-derives the rollup for one section from
// scratch and persists it. It always re-reads every task's approval
// state at evaluation time; incremental counters are unsafe when task
// approvals land concurrently or partially fail. An approval only
// counts toward the rollup when the same record is also done, so an
// approval written against a not-done task can never unlock anything.
//
// A section with zero catalog tasks is vacuously approved. That
// silently unlocks the next section, which is a deliberate design
// choice the tests cover explicitly.
//
// Recomputes for the same (trainee, section) are serialized: the
// read-records/persist-rollup sequence is not atomic at the store, so
// two concurrent recomputes could otherwise interleave and persist a
// stale value after a fresh one, leaving downstream sections unlocked
// with no later event to correct them.
//
// Returns the computed value and whether it differs from the cached one.
func (e *Evaluator) RecomputeSectionApproval(ctx context.Context, traineeID, sectionID string) (bool, bool, error) {
	if !catalog.IsKnownSection(sectionID) {
		return false, false, fmt.Errorf("unknown section %q", sectionID)
	}

	lock := e.sectionLock(traineeID, sectionID)
	lock.Lock()
	defer lock.Unlock()

	tasks := e.catalog.ListTasks(sectionID)
	records, err := e.store.ListSectionRecords(ctx, traineeID, sectionID)
	if err != nil {
		return false, false, fmt.Errorf("list section records: %w", err)
	}

	byTask := make(map[string]types.TaskRecord, len(records))
	for _, rec := range records {
		byTask[rec.TaskID] = rec
	}

	approved := true
	for _, task := range tasks {
		rec, ok := byTask[task.TaskID]
		if !ok || !rec.Approved || !rec.Done {
			approved = false
			break
		}
	}

	prev, err := e.store.GetSectionApproval(ctx, traineeID, sectionID)
	if err != nil {
		return false, false, fmt.Errorf("get cached rollup: %w", err)
	}
	if err := e.store.UpsertSectionApproval(ctx, traineeID, sectionID, approved, e.now()); err != nil {
		return false, false, fmt.Errorf("persist rollup: %w", err)
	}

	return approved, approved != prev, nil
}

// IsUnlocked reports whether a section is open given the trainee's
// rollup approvals. The first section is always open; any later
// section requires every earlier section's rollup to be approved, so a
// rollup flipping back to false re-locks all downstream sections, not
// just its immediate successor.
func IsUnlocked(sectionID string, approvals map[string]bool) bool {
	for _, s := range catalog.SectionChain {
		if s == sectionID {
			return true
		}
		if !approvals[s] {
			return false
		}
	}
	return false // unknown section is never unlocked
}

// Unlocked fetches the trainee's rollups and evaluates one section.
func (e *Evaluator) Unlocked(ctx context.Context, traineeID, sectionID string) (bool, error) {
	approvals, err := e.store.GetSectionApprovals(ctx, traineeID)
	if err != nil {
		return false, fmt.Errorf("get rollups: %w", err)
	}
	return IsUnlocked(sectionID, approvals), nil
}

// SectionStatuses returns the state machine position of every section
// for one trainee, in chain order.
func (e *Evaluator) SectionStatuses(ctx context.Context, traineeID string) ([]types.SectionStatusEntry, error) {
	approvals, err := e.store.GetSectionApprovals(ctx, traineeID)
	if err != nil {
		return nil, fmt.Errorf("get rollups: %w", err)
	}
	records, err := e.store.ListRecords(ctx, traineeID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	doneByTask := make(map[string]bool, len(records))
	for _, rec := range records {
		doneByTask[rec.SectionID+"/"+rec.TaskID] = rec.Done
	}

	entries := make([]types.SectionStatusEntry, 0, len(catalog.SectionChain))
	for _, sectionID := range catalog.SectionChain {
		unlocked := IsUnlocked(sectionID, approvals)
		entries = append(entries, types.SectionStatusEntry{
			SectionID: sectionID,
			Unlocked:  unlocked,
			Status:    e.status(sectionID, unlocked, approvals[sectionID], doneByTask),
		})
	}
	return entries, nil
}

// status places one section in the 4-state machine:
// locked -> in_progress -> pending_approval -> approved.
func (e *Evaluator) status(sectionID string, unlocked, rollupApproved bool, doneByTask map[string]bool) types.SectionStatus {
	if rollupApproved && unlocked {
		return types.SectionApproved
	}
	if !unlocked {
		return types.SectionLocked
	}
	tasks := e.catalog.ListTasks(sectionID)
	for _, task := range tasks {
		if !doneByTask[sectionID+"/"+task.TaskID] {
			return types.SectionInProgress
		}
	}
	return types.SectionPendingApproval
}
