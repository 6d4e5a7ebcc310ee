package types

import (
	"encoding/json"
	"time"
)

// Role identifies the kind of actor performing a write.
type Role string

const (
	RoleTrainee    Role = "trainee"
	RoleSupervisor Role = "supervisor"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
)

// CanApprove reports whether the role may write approval fields.
func (r Role) CanApprove() bool {
	return r == RoleSupervisor || r == RoleManager || r == RoleAdmin
}

// CanRecordProgress reports whether the role may write progress fields.
// Supervisors run timed drills on behalf of trainees, so they qualify too.
func (r Role) CanRecordProgress() bool {
	return r == RoleTrainee || r.CanApprove()
}

// Actor is the identity attached to a request by the auth collaborator.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// TaskDefinition describes a single unit of trainee work within a section.
// Definitions are loaded once from the catalog and never mutated at runtime.
type TaskDefinition struct {
	SectionID string `json:"section_id" yaml:"-"`
	TaskID    string `json:"task_id" yaml:"id"`
	Order     int    `json:"order" yaml:"order"`
	Title     string `json:"title" yaml:"title"`
	Timed     bool   `json:"timed" yaml:"timed"`
}

// TaskRecord is the merged progress+approval record for one
// (trainee, section, task) triple. Progress fields are written by the
// trainee path, approval fields by the supervisor path; the store only
// ever updates the field group being written, so the two actor roles
// cannot clobber each other's untouched fields.
type TaskRecord struct {
	TraineeID string `json:"trainee_id"`
	SectionID string `json:"section_id"`
	TaskID    string `json:"task_id"`

	Done        bool       `json:"done"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	LastDurationMs *int64   `json:"last_duration_ms,omitempty"`
	BestDurationMs *int64   `json:"best_duration_ms,omitempty"`
	AvgDurationMs  *float64 `json:"avg_duration_ms,omitempty"`
	RunCount       int      `json:"run_count"`

	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the record's composite key.
func (r TaskRecord) Key() RecordKey {
	return RecordKey{TraineeID: r.TraineeID, SectionID: r.SectionID, TaskID: r.TaskID}
}

// TimerStats is the O(1) timed-run aggregate returned by RecordTimedRun.
type TimerStats struct {
	LastDurationMs int64   `json:"last_duration_ms"`
	BestDurationMs int64   `json:"best_duration_ms"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	RunCount       int     `json:"run_count"`
}

// SectionApproval is the materialized per-section rollup. It is derived
// state: recomputation from task records must always be safe and
// idempotent regardless of which actor triggers it.
type SectionApproval struct {
	TraineeID string    `json:"trainee_id"`
	SectionID string    `json:"section_id"`
	Approved  bool      `json:"approved"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SectionStatus is the per-trainee, per-section state machine position.
type SectionStatus string

const (
	SectionLocked          SectionStatus = "locked"
	SectionInProgress      SectionStatus = "in_progress"
	SectionPendingApproval SectionStatus = "pending_approval"
	SectionApproved        SectionStatus = "approved"
)

// TaskState is the composed read model dashboards bind to: a task
// definition plus the trainee's current done/approved flags.
type TaskState struct {
	TaskDefinition
	Done     bool `json:"done"`
	Approved bool `json:"approved"`
}

// SectionView is the full per-section read model returned to UIs.
type SectionView struct {
	SectionID string        `json:"section_id"`
	Unlocked  bool          `json:"unlocked"`
	Status    SectionStatus `json:"status"`
	Tasks     []TaskState   `json:"tasks"`
}

// GateView reports the unlock state of every section for one trainee.
type GateView struct {
	TraineeID string               `json:"trainee_id"`
	Sections  []SectionStatusEntry `json:"sections"`
}

// SectionStatusEntry is one row of a GateView.
type SectionStatusEntry struct {
	SectionID string        `json:"section_id"`
	Unlocked  bool          `json:"unlocked"`
	Status    SectionStatus `json:"status"`
}

// ProgressSummary is the canonical trainee completion aggregate.
type ProgressSummary struct {
	TraineeID      string `json:"trainee_id"`
	CompletedCount int    `json:"completed_count"`
	TotalCount     int    `json:"total_count"`
	Percent        int    `json:"percent"`
}

// StoreSummary is the per-store aggregate: the arithmetic mean of the
// active trainees' percentages, each trainee weighted equally.
type StoreSummary struct {
	StoreID      string `json:"store_id"`
	TraineeCount int    `json:"trainee_count"`
	MeanPercent  int    `json:"mean_percent"`
}

// StoreInfo is a roster store (a physical location, not a database).
type StoreInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Trainee is a roster membership record.
type Trainee struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Sections      int    `json:"sections"`
	TotalTasks    int    `json:"total_tasks"`
	RecordCount   int64  `json:"record_count"`
	SchemaVersion int    `json:"schema_version"`
}

// MarshalJSON ensures a nil task slice marshals as [] not null.
func (v SectionView) MarshalJSON() ([]byte, error) {
	if v.Tasks == nil {
		v.Tasks = []TaskState{}
	}
	type Alias SectionView
	return json.Marshal(Alias(v))
}

// MarshalJSON ensures a nil section slice marshals as [] not null.
func (v GateView) MarshalJSON() ([]byte, error) {
	if v.Sections == nil {
		v.Sections = []SectionStatusEntry{}
	}
	type Alias GateView
	return json.Marshal(Alias(v))
}
