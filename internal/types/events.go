package types

import "time"

// Scope identifies a slice of state a subscriber is interested in.
// Delivery is in-order within a scope; there is no ordering guarantee
// across scopes, so consumers must be idempotent.
type Scope string

const (
	ScopeTraineeProgress        Scope = "trainee-progress"
	ScopeTraineeApprovals       Scope = "trainee-approvals"
	ScopeTraineeSectionApproval Scope = "trainee-section-approval"
	ScopeStoreRoster            Scope = "store-roster"
)

// Scopes lists every valid subscription scope.
func Scopes() []Scope {
	return []Scope{
		ScopeTraineeProgress,
		ScopeTraineeApprovals,
		ScopeTraineeSectionApproval,
		ScopeStoreRoster,
	}
}

// Operation constants for change events.
const (
	OperationDone            = "done"
	OperationTimedRun        = "timed_run"
	OperationApproval        = "approval"
	OperationSectionApproval = "section_approval"
	OperationRoster          = "roster"
)

// ChangeEvent is published on every successful mutation. RecordKey is
// the canonical encoding of the affected record (or its section prefix
// for section-approval events, or a store ID for roster events).
type ChangeEvent struct {
	ID        string    `json:"id"`
	Sequence  int64     `json:"sequence"`
	Scope     Scope     `json:"scope"`
	RecordKey string    `json:"record_key"`
	Operation string    `json:"operation"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
