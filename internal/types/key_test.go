package types

import "testing"

func TestRecordKey_EncodeRoundTrip(t *testing.T) {
	key := RecordKey{TraineeID: "t1", SectionID: "week2", TaskID: "task7"}

	encoded := key.Encode()
	if encoded != "t1_week2_task7" {
		t.Errorf("expected t1_week2_task7, got %s", encoded)
	}

	parsed, err := ParseRecordKey(encoded)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != key {
		t.Errorf("round trip mismatch: %+v != %+v", parsed, key)
	}
}

func TestParseRecordKey_Invalid(t *testing.T) {
	cases := []string{
		"",
		"t1",
		"t1_week2",
		"t1_week2_task7_extra",
		"t1__task7",
		"_week2_task7",
	}
	for _, c := range cases {
		if _, err := ParseRecordKey(c); err == nil {
			t.Errorf("expected error for %q", c)
		}
	}
}

func TestRecordKey_SectionKey(t *testing.T) {
	key := RecordKey{TraineeID: "t1", SectionID: "day1", TaskID: "greet"}
	if key.SectionKey() != "t1_day1" {
		t.Errorf("unexpected section key %s", key.SectionKey())
	}
}

func TestRole_Permissions(t *testing.T) {
	if RoleTrainee.CanApprove() {
		t.Error("trainee must not approve")
	}
	for _, r := range []Role{RoleSupervisor, RoleManager, RoleAdmin} {
		if !r.CanApprove() {
			t.Errorf("%s should approve", r)
		}
		if !r.CanRecordProgress() {
			t.Errorf("%s should be able to run timed drills", r)
		}
	}
	if !RoleTrainee.CanRecordProgress() {
		t.Error("trainee must record progress")
	}
}
