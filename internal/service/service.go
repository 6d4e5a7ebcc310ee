// Package service orchestrates the write path: role policy, the store
// write, the change-log append, and the bus publish happen here and
// nowhere else.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewbase/onramp/internal/bus"
	"github.com/crewbase/onramp/internal/catalog"
	"github.com/crewbase/onramp/internal/store"
	"github.com/crewbase/onramp/internal/types"
)

// Progression is the write-side facade used by the API handlers.
type Progression struct {
	store   store.Store
	catalog *catalog.Catalog
	bus     *bus.Bus
	now     func() time.Time
}

// New creates the progression service.
func New(st store.Store, cat *catalog.Catalog, b *bus.Bus) *Progression {
	return &Progression{store: st, catalog: cat, bus: b, now: time.Now}
}

// SetDone toggles a task's done flag for the acting trainee. The
// write is not retried on failure: optimistic-UI rollback and retry
// policy belong to the caller.
func (p *Progression) SetDone(ctx context.Context, actor types.Actor, key types.RecordKey, done bool) error {
	if !actor.Role.CanRecordProgress() {
		return fmt.Errorf("role %s cannot write progress: %w", actor.Role, store.ErrPermissionDenied)
	}
	if _, ok := p.catalog.Task(key.SectionID, key.TaskID); !ok {
		return fmt.Errorf("task %s/%s: %w", key.SectionID, key.TaskID, store.ErrNotFound)
	}

	if err := p.store.SetDone(ctx, key, done, p.now()); err != nil {
		return err
	}
	p.emit(ctx, types.ScopeTraineeProgress, key.Encode(), types.OperationDone, actor.ID)
	return nil
}

// RecordTimedRun folds one timed run into the task's aggregate and
// marks it done. Supervisors may run drills on a trainee's behalf.
func (p *Progression) RecordTimedRun(ctx context.Context, actor types.Actor, key types.RecordKey, durationMs int64) (*types.TimerStats, error) {
	if !actor.Role.CanRecordProgress() {
		return nil, fmt.Errorf("role %s cannot record runs: %w", actor.Role, store.ErrPermissionDenied)
	}
	if _, ok := p.catalog.Task(key.SectionID, key.TaskID); !ok {
		return nil, fmt.Errorf("task %s/%s: %w", key.SectionID, key.TaskID, store.ErrNotFound)
	}

	stats, err := p.store.RecordTimedRun(ctx, key, durationMs, p.now())
	if err != nil {
		return nil, err
	}
	p.emit(ctx, types.ScopeTraineeProgress, key.Encode(), types.OperationTimedRun, actor.ID)
	return stats, nil
}

// SetApproved writes a task approval, attributed to the acting
// supervisor/admin. The done precondition is enforced inside the
// store transaction.
func (p *Progression) SetApproved(ctx context.Context, actor types.Actor, key types.RecordKey, approved bool) error {
	if !actor.Role.CanApprove() {
		return fmt.Errorf("role %s cannot approve: %w", actor.Role, store.ErrPermissionDenied)
	}
	if _, ok := p.catalog.Task(key.SectionID, key.TaskID); !ok {
		return fmt.Errorf("task %s/%s: %w", key.SectionID, key.TaskID, store.ErrNotFound)
	}

	if err := p.store.SetApproved(ctx, key, approved, actor.ID, p.now()); err != nil {
		return err
	}
	p.emit(ctx, types.ScopeTraineeApprovals, key.Encode(), types.OperationApproval, actor.ID)
	return nil
}

// UpsertStore creates or renames a roster store. Admin/manager only.
func (p *Progression) UpsertStore(ctx context.Context, actor types.Actor, info types.StoreInfo) error {
	if actor.Role != types.RoleAdmin && actor.Role != types.RoleManager {
		return fmt.Errorf("role %s cannot manage the roster: %w", actor.Role, store.ErrPermissionDenied)
	}
	if err := p.store.UpsertStore(ctx, info); err != nil {
		return err
	}
	p.emit(ctx, types.ScopeStoreRoster, info.ID, types.OperationRoster, actor.ID)
	return nil
}

// UpsertTrainee creates or updates a roster membership. Admin/manager only.
func (p *Progression) UpsertTrainee(ctx context.Context, actor types.Actor, trainee types.Trainee) error {
	if actor.Role != types.RoleAdmin && actor.Role != types.RoleManager {
		return fmt.Errorf("role %s cannot manage the roster: %w", actor.Role, store.ErrPermissionDenied)
	}
	if err := p.store.UpsertTrainee(ctx, trainee); err != nil {
		return err
	}
	p.emit(ctx, types.ScopeStoreRoster, trainee.StoreID, types.OperationRoster, actor.ID)
	return nil
}

// emit appends the change to the durable log and publishes it on the
// bus. A log failure downgrades to at-least-once via client replay of
// earlier sequences; the publish still goes out.
func (p *Progression) emit(ctx context.Context, scope types.Scope, recordKey, operation, actorID string) {
	ev := types.ChangeEvent{
		ID:        ulid.Make().String(),
		Scope:     scope,
		RecordKey: recordKey,
		Operation: operation,
		ActorID:   actorID,
		CreatedAt: p.now().UTC(),
	}

	seq, err := p.store.AppendChange(ctx, &ev)
	if err != nil {
		slog.Error("change log append failed",
			"component", "service",
			"scope", scope,
			"key", recordKey,
			"error", err,
		)
	} else {
		ev.Sequence = seq
	}

	p.bus.Publish(ev)
}
