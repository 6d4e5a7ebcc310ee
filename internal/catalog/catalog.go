// Package catalog loads and serves the static, ordered task definitions
// for the onboarding program. The catalog is read-only at runtime.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crewbase/onramp/internal/types"
)

// SectionChain is the fixed, ordered gate chain. Section i+1 unlocks
// only when section i's rollup approval is true; day1 is always open.
var SectionChain = []string{"day1", "week1", "week2", "week3", "week4"}

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type fileSection struct {
	ID    string                 `yaml:"id"`
	Tasks []types.TaskDefinition `yaml:"tasks"`
}

type fileCatalog struct {
	Sections []fileSection `yaml:"sections"`
}

// Catalog is the loaded, ordered task catalog.
type Catalog struct {
	tasks map[string][]types.TaskDefinition
	total int
}

// Default loads the embedded catalog.
func Default() (*Catalog, error) {
	return parse(defaultCatalogYAML)
}

// Load reads a catalog YAML file from disk. An empty path falls back
// to the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{tasks: make(map[string][]types.TaskDefinition, len(SectionChain))}
	for _, sec := range fc.Sections {
		if !isKnownSection(sec.ID) {
			return nil, fmt.Errorf("unknown section %q: the program chain is fixed (%s)",
				sec.ID, strings.Join(SectionChain, " -> "))
		}
		if _, dup := c.tasks[sec.ID]; dup {
			return nil, fmt.Errorf("section %q defined twice", sec.ID)
		}

		defs := make([]types.TaskDefinition, len(sec.Tasks))
		seen := make(map[string]bool, len(sec.Tasks))
		for i, task := range sec.Tasks {
			if task.TaskID == "" {
				return nil, fmt.Errorf("section %q: task %d has no id", sec.ID, i)
			}
			if seen[task.TaskID] {
				return nil, fmt.Errorf("section %q: duplicate task id %q", sec.ID, task.TaskID)
			}
			seen[task.TaskID] = true
			task.SectionID = sec.ID
			defs[i] = task
		}
		sortTasks(defs)
		c.tasks[sec.ID] = defs
		c.total += len(defs)
	}
	return c, nil
}

// sortTasks orders tasks by the explicit order field when set, falling
// back to a numeric suffix in the task ID, then to insertion order.
// The sort is stable so the fallback tiers cannot reshuffle each other.
func sortTasks(defs []types.TaskDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		oi, oj := sortRank(defs[i]), sortRank(defs[j])
		return oi < oj
	})
}

func sortRank(d types.TaskDefinition) int {
	if d.Order > 0 {
		return d.Order
	}
	if n, ok := numericSuffix(d.TaskID); ok {
		return n
	}
	return int(^uint(0) >> 1) // unordered tasks sink to the end, insertion order preserved
}

// numericSuffix extracts a trailing integer from an identifier,
// e.g. "task12" -> 12.
func numericSuffix(id string) (int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func isKnownSection(id string) bool {
	for _, s := range SectionChain {
		if s == id {
			return true
		}
	}
	return false
}

// Sections returns the fixed section chain in gate order.
func (c *Catalog) Sections() []string {
	out := make([]string, len(SectionChain))
	copy(out, SectionChain)
	return out
}

// ListTasks returns the ordered task definitions for a section. A
// section with no tasks returns an empty slice; derived computations
// treat such sections as vacuously satisfied.
func (c *Catalog) ListTasks(sectionID string) []types.TaskDefinition {
	defs := c.tasks[sectionID]
	out := make([]types.TaskDefinition, len(defs))
	copy(out, defs)
	return out
}

// Task looks up a single definition.
func (c *Catalog) Task(sectionID, taskID string) (types.TaskDefinition, bool) {
	for _, d := range c.tasks[sectionID] {
		if d.TaskID == taskID {
			return d, true
		}
	}
	return types.TaskDefinition{}, false
}

// TotalTasks returns the number of tasks across the whole program.
func (c *Catalog) TotalTasks() int {
	return c.total
}

// IsKnownSection reports whether the ID is part of the fixed chain.
func IsKnownSection(id string) bool {
	return isKnownSection(id)
}
