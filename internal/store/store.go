package store

import (
	"context"
	"time"

	"github.com/crewbase/onramp/internal/types"
)

// Store defines the interface contract for all progression storage
// operations. Writes to a single record are linearized by the backing
// database; progress and approval fields are updated by separate
// field-scoped statements so concurrent writers of different field
// groups never clobber each other.
type Store interface {
	// Progress writes (trainee path).
	SetDone(ctx context.Context, key types.RecordKey, done bool, at time.Time) error
	RecordTimedRun(ctx context.Context, key types.RecordKey, durationMs int64, at time.Time) (*types.TimerStats, error)

	// Approval writes (supervisor/admin path). Approving a record whose
	// done flag is false fails with ErrPreconditionFailed inside the
	// same transaction that reads the flag.
	SetApproved(ctx context.Context, key types.RecordKey, approved bool, approverID string, at time.Time) error

	// Reads.
	GetRecord(ctx context.Context, key types.RecordKey) (*types.TaskRecord, error)
	ListRecords(ctx context.Context, traineeID string) ([]types.TaskRecord, error)
	ListSectionRecords(ctx context.Context, traineeID, sectionID string) ([]types.TaskRecord, error)
	CountRecords(ctx context.Context) (int64, error)

	// Section-approval rollup cache.
	UpsertSectionApproval(ctx context.Context, traineeID, sectionID string, approved bool, at time.Time) error
	GetSectionApproval(ctx context.Context, traineeID, sectionID string) (bool, error)
	GetSectionApprovals(ctx context.Context, traineeID string) (map[string]bool, error)

	// Roster collaborator backing.
	UpsertStore(ctx context.Context, info types.StoreInfo) error
	UpsertTrainee(ctx context.Context, trainee types.Trainee) error
	ActiveTrainees(ctx context.Context, storeID string) ([]string, error)

	// Change log (at-least-once replay for intermittently-connected clients).
	AppendChange(ctx context.Context, event *types.ChangeEvent) (int64, error)
	ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]types.ChangeEvent, error)
	LatestSequence(ctx context.Context) (int64, error)

	Close() error
}
