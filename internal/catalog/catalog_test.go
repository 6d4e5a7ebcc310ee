package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_LoadsEmbeddedCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("load embedded catalog: %v", err)
	}

	if got := len(c.Sections()); got != 5 {
		t.Errorf("expected 5 sections, got %d", got)
	}
	if c.TotalTasks() == 0 {
		t.Error("embedded catalog has no tasks")
	}

	day1 := c.ListTasks("day1")
	if len(day1) != 3 {
		t.Fatalf("expected 3 day1 tasks, got %d", len(day1))
	}
	for i, task := range day1 {
		if task.SectionID != "day1" {
			t.Errorf("task %d missing section id", i)
		}
		if task.Order != i+1 {
			t.Errorf("task %d out of order: order=%d", i, task.Order)
		}
	}
}

func TestParse_OrderingFallbacks(t *testing.T) {
	// Mixed ordering: explicit order wins, then numeric suffix,
	// then insertion order for the rest.
	yaml := `
sections:
  - id: day1
    tasks:
      - id: step3
      - id: step1
      - id: zeta
      - id: alpha
      - id: pinned
        order: 1
`
	c := mustParse(t, yaml)
	tasks := c.ListTasks("day1")

	got := make([]string, len(tasks))
	for i, task := range tasks {
		got[i] = task.TaskID
	}
	want := []string{"pinned", "step1", "step3", "zeta", "alpha"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ordering mismatch: got %v want %v", got, want)
		}
	}
}

func TestParse_UnknownSectionRejected(t *testing.T) {
	if _, err := parse([]byte("sections:\n  - id: week9\n    tasks: []\n")); err == nil {
		t.Error("expected error for unknown section")
	}
}

func TestParse_DuplicateTaskRejected(t *testing.T) {
	yaml := `
sections:
  - id: day1
    tasks:
      - id: tour
      - id: tour
`
	if _, err := parse([]byte(yaml)); err == nil {
		t.Error("expected error for duplicate task id")
	}
}

func TestListTasks_EmptySection(t *testing.T) {
	// A section absent from the file has zero tasks and must not error.
	c := mustParse(t, "sections:\n  - id: day1\n    tasks:\n      - id: tour\n")

	if got := c.ListTasks("week3"); len(got) != 0 {
		t.Errorf("expected empty slice, got %d tasks", len(got))
	}
	if c.TotalTasks() != 1 {
		t.Errorf("expected total 1, got %d", c.TotalTasks())
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := "sections:\n  - id: day1\n    tasks:\n      - id: tour\n        title: Tour\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := c.Task("day1", "tour"); !ok {
		t.Error("task lookup failed")
	}
}

func mustParse(t *testing.T, yaml string) *Catalog {
	t.Helper()
	c, err := parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return c
}
