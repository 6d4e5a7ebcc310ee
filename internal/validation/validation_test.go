package validation

import "testing"

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"t1", "week1", "sandwich-drill", "abc-123"}
	for _, v := range valid {
		if err := ValidateIdentifier("id", v); err != nil {
			t.Errorf("%q rejected: %s", v, err.Message)
		}
	}

	invalid := []string{"", "  ", "has_underscore", "UPPER", "with space", "emoji🙂"}
	for _, v := range invalid {
		if err := ValidateIdentifier("id", v); err == nil {
			t.Errorf("%q accepted", v)
		}
	}
}

func TestValidatePositive(t *testing.T) {
	if err := ValidatePositive("duration_ms", 1); err != nil {
		t.Errorf("1 rejected: %s", err.Message)
	}
	for _, v := range []int64{0, -5} {
		if err := ValidatePositive("duration_ms", v); err == nil {
			t.Errorf("%d accepted", v)
		}
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("fresh collector has errors")
	}

	c.Add(nil)
	if c.HasErrors() {
		t.Error("nil add recorded an error")
	}

	c.Add(ValidateRequired("name", ""))
	c.Add(ValidateMaxLength("name", "toolong", 3))
	if len(c.Errors()) != 2 {
		t.Errorf("expected 2 errors, got %d", len(c.Errors()))
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"trainee", "supervisor"}
	if err := ValidateEnum("role", "trainee", allowed); err != nil {
		t.Errorf("trainee rejected: %s", err.Message)
	}
	if err := ValidateEnum("role", "intruder", allowed); err == nil {
		t.Error("intruder accepted")
	}
}
