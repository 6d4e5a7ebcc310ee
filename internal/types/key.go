package types

import (
	"fmt"
	"strings"
)

// RecordKey is the composite identity of a task record. The canonical
// string encoding is the three IDs joined by underscores
// ("traineeID_sectionID_taskID"); historical keys are looked up by
// exact match, so the encoding must never change. IDs therefore must
// not contain underscores, which validation enforces at the API edge.
type RecordKey struct {
	TraineeID string `json:"trainee_id"`
	SectionID string `json:"section_id"`
	TaskID    string `json:"task_id"`
}

// Encode returns the canonical string form of the key.
func (k RecordKey) Encode() string {
	return k.TraineeID + "_" + k.SectionID + "_" + k.TaskID
}

// String implements fmt.Stringer using the canonical encoding.
func (k RecordKey) String() string {
	return k.Encode()
}

// SectionKey returns the key's (trainee, section) prefix encoding,
// used for section-approval change entries that have no task component.
func (k RecordKey) SectionKey() string {
	return k.TraineeID + "_" + k.SectionID
}

// ParseRecordKey parses a canonical key string back into a RecordKey.
func ParseRecordKey(s string) (RecordKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 {
		return RecordKey{}, fmt.Errorf("invalid record key %q: expected 3 underscore-separated parts", s)
	}
	for _, p := range parts {
		if p == "" {
			return RecordKey{}, fmt.Errorf("invalid record key %q: empty component", s)
		}
	}
	return RecordKey{TraineeID: parts[0], SectionID: parts[1], TaskID: parts[2]}, nil
}
