// Package worker hosts the background recomputation pipeline.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewbase/onramp/internal/bus"
	"github.com/crewbase/onramp/internal/gate"
	"github.com/crewbase/onramp/internal/types"
)

// ChangeAppender is the slice of the store the coordinator needs to
// record the section-approval changes it derives.
type ChangeAppender interface {
	AppendChange(ctx context.Context, event *types.ChangeEvent) (int64, error)
}

// GateCoordinator subscribes to progress and approval changes and
// recomputes the affected section rollup off the delivery goroutine.
// Recomputes are dispatched to a small worker pool so a burst of
// approvals does not serialize the propagation pipeline. When a rollup
// flips, a trainee-section-approval event is logged and published,
// which is what re-locks or unlocks downstream sections for viewers.
type GateCoordinator struct {
	evaluator *gate.Evaluator
	appender  ChangeAppender
	bus       *bus.Bus
	workers   int
}

// NewGateCoordinator creates a coordinator with the given pool size.
func NewGateCoordinator(evaluator *gate.Evaluator, appender ChangeAppender, b *bus.Bus, workers int) *GateCoordinator {
	if workers < 1 {
		workers = 1
	}
	return &GateCoordinator{evaluator: evaluator, appender: appender, bus: b, workers: workers}
}

// Run starts the coordinator loop. It blocks until ctx is cancelled or
// the bus closes. Duplicate and cross-scope out-of-order deliveries
// are harmless: recomputation always re-reads the full section state.
func (c *GateCoordinator) Run(ctx context.Context) {
	slog.Info("gate coordinator started",
		"component", "worker",
		"worker", "gate-coordinator",
		"pool_size", c.workers,
	)

	progress := c.bus.Subscribe(types.ScopeTraineeProgress)
	defer progress.Cancel()
	approvals := c.bus.Subscribe(types.ScopeTraineeApprovals)
	defer approvals.Cancel()

	jobs := make(chan types.ChangeEvent)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				c.recompute(ctx, ev)
			}
		}()
	}

	c.dispatch(ctx, jobs, progress, approvals)

	close(jobs)
	wg.Wait()
	slog.Info("gate coordinator stopped",
		"component", "worker",
		"worker", "gate-coordinator",
	)
}

// dispatch forwards events from both subscriptions to the pool until
// shutdown. Per-scope ordering is preserved up to the jobs channel;
// the recompute itself is order-insensitive.
func (c *GateCoordinator) dispatch(ctx context.Context, jobs chan<- types.ChangeEvent, subs ...*bus.Subscription) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *bus.Subscription) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub.Events():
					if !ok {
						return
					}
					select {
					case jobs <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub)
	}
	wg.Wait()
}

// recompute re-derives the rollup for the event's section and
// publishes a section-approval change if the value flipped.
func (c *GateCoordinator) recompute(ctx context.Context, ev types.ChangeEvent) {
	key, err := types.ParseRecordKey(ev.RecordKey)
	if err != nil {
		slog.Warn("skipping malformed record key",
			"component", "worker",
			"worker", "gate-coordinator",
			"key", ev.RecordKey,
			"error", err,
		)
		return
	}

	start := time.Now()
	approved, changed, err := c.evaluator.RecomputeSectionApproval(ctx, key.TraineeID, key.SectionID)
	if err != nil {
		if ctx.Err() != nil {
			return // graceful shutdown, don't log as error
		}
		slog.Error("rollup recompute failed",
			"component", "worker",
			"worker", "gate-coordinator",
			"trainee_id", key.TraineeID,
			"section_id", key.SectionID,
			"error", err,
		)
		return
	}

	slog.Debug("rollup recomputed",
		"component", "worker",
		"worker", "gate-coordinator",
		"trainee_id", key.TraineeID,
		"section_id", key.SectionID,
		"approved", approved,
		"changed", changed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if !changed {
		return
	}

	out := types.ChangeEvent{
		ID:        ulid.Make().String(),
		Scope:     types.ScopeTraineeSectionApproval,
		RecordKey: key.SectionKey(),
		Operation: types.OperationSectionApproval,
		CreatedAt: time.Now().UTC(),
	}
	if seq, err := c.appender.AppendChange(ctx, &out); err != nil {
		slog.Error("section approval change append failed",
			"component", "worker",
			"worker", "gate-coordinator",
			"key", out.RecordKey,
			"error", err,
		)
	} else {
		out.Sequence = seq
	}
	c.bus.Publish(out)

	slog.Info("section rollup flipped",
		"component", "worker",
		"worker", "gate-coordinator",
		"trainee_id", key.TraineeID,
		"section_id", key.SectionID,
		"approved", approved,
	)
}
