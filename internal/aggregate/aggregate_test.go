package aggregate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewbase/onramp/internal/catalog"
	"github.com/crewbase/onramp/internal/types"
)

type fakeStore struct {
	records  map[string][]types.TaskRecord
	rollups  map[string]map[string]bool
	trainees map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string][]types.TaskRecord),
		rollups:  make(map[string]map[string]bool),
		trainees: make(map[string][]string),
	}
}

func (f *fakeStore) done(traineeID, sectionID, taskID string) {
	f.records[traineeID] = append(f.records[traineeID], types.TaskRecord{
		TraineeID: traineeID, SectionID: sectionID, TaskID: taskID, Done: true,
	})
}

func (f *fakeStore) ListRecords(_ context.Context, traineeID string) ([]types.TaskRecord, error) {
	return f.records[traineeID], nil
}

func (f *fakeStore) ListSectionRecords(_ context.Context, traineeID, sectionID string) ([]types.TaskRecord, error) {
	var out []types.TaskRecord
	for _, rec := range f.records[traineeID] {
		if rec.SectionID == sectionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSectionApprovals(_ context.Context, traineeID string) (map[string]bool, error) {
	return f.rollups[traineeID], nil
}

func (f *fakeStore) ActiveTrainees(_ context.Context, storeID string) ([]string, error) {
	return f.trainees[storeID], nil
}

func defaultCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func catalogFrom(t *testing.T, yaml string) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	c, err := catalog.Load(path)
	require.NoError(t, err)
	return c
}

func TestTraineePercent_CountsAcrossAllSections(t *testing.T) {
	fs := newFakeStore()
	cat := defaultCatalog(t)
	a := New(cat, fs)

	// Completing week3 tasks counts even though week3 is locked.
	fs.done("t1", "day1", "tour")
	fs.done("t1", "week3", "phone-orders")

	summary, err := a.TraineePercent(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CompletedCount)
	assert.Equal(t, cat.TotalTasks(), summary.TotalCount)
	assert.Equal(t, roundPct(2, cat.TotalTasks()), summary.Percent)
}

func TestTraineePercent_IgnoresStaleRecords(t *testing.T) {
	fs := newFakeStore()
	a := New(defaultCatalog(t), fs)

	fs.done("t1", "day1", "tour")
	fs.done("t1", "day1", "removed-task") // no longer in the catalog

	summary, err := a.TraineePercent(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompletedCount)
}

func TestTraineePercent_EmptyCatalog(t *testing.T) {
	fs := newFakeStore()
	a := New(catalogFrom(t, "sections: []\n"), fs)

	summary, err := a.TraineePercent(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Percent)
	assert.Equal(t, 0, summary.TotalCount)
}

func TestTraineePercent_CatalogGrowthLowersPercent(t *testing.T) {
	// Adding a task shrinks everyone's percentage. That is accepted
	// behavior, not something to compensate for.
	fs := newFakeStore()
	fs.done("t1", "day1", "task1")

	small := catalogFrom(t, `
sections:
  - id: day1
    tasks:
      - id: task1
`)
	big := catalogFrom(t, `
sections:
  - id: day1
    tasks:
      - id: task1
      - id: task2
`)

	before, err := New(small, fs).TraineePercent(context.Background(), "t1")
	require.NoError(t, err)
	after, err := New(big, fs).TraineePercent(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 100, before.Percent)
	assert.Equal(t, 50, after.Percent)
}

func TestStorePercent_EqualWeighting(t *testing.T) {
	fs := newFakeStore()
	cat := defaultCatalog(t)
	a := New(cat, fs)

	// Trainee A at 100%, trainee B at 0%: the mean is 50 regardless of
	// how many tasks each completed in absolute terms.
	for _, sectionID := range cat.Sections() {
		for _, task := range cat.ListTasks(sectionID) {
			fs.done("a", sectionID, task.TaskID)
		}
	}
	fs.trainees["store1"] = []string{"a", "b"}

	summary, err := a.StorePercent(context.Background(), "store1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TraineeCount)
	assert.Equal(t, 50, summary.MeanPercent)
}

func TestStorePercent_NoActiveTrainees(t *testing.T) {
	a := New(defaultCatalog(t), newFakeStore())

	summary, err := a.StorePercent(context.Background(), "ghost-store")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.MeanPercent)
	assert.Equal(t, 0, summary.TraineeCount)
}

func TestListTasksWithState_Composition(t *testing.T) {
	fs := newFakeStore()
	cat := defaultCatalog(t)
	a := New(cat, fs)
	ctx := context.Background()

	fs.records["t1"] = append(fs.records["t1"], types.TaskRecord{
		TraineeID: "t1", SectionID: "day1", TaskID: "tour", Done: true, Approved: true,
	})

	view, err := a.ListTasksWithState(ctx, "t1", "day1")
	require.NoError(t, err)
	assert.True(t, view.Unlocked, "day1 is always unlocked")
	assert.Equal(t, types.SectionInProgress, view.Status)
	require.Len(t, view.Tasks, len(cat.ListTasks("day1")))

	assert.Equal(t, "tour", view.Tasks[0].TaskID)
	assert.True(t, view.Tasks[0].Done)
	assert.True(t, view.Tasks[0].Approved)
	// Tasks with no record read as zero-value state.
	assert.False(t, view.Tasks[1].Done)
	assert.False(t, view.Tasks[1].Approved)
}

func TestListTasksWithState_LockedSection(t *testing.T) {
	a := New(defaultCatalog(t), newFakeStore())

	view, err := a.ListTasksWithState(context.Background(), "t1", "week2")
	require.NoError(t, err)
	assert.False(t, view.Unlocked)
	assert.Equal(t, types.SectionLocked, view.Status)
}

func TestListTasksWithState_UnknownSection(t *testing.T) {
	a := New(defaultCatalog(t), newFakeStore())
	_, err := a.ListTasksWithState(context.Background(), "t1", "week9")
	assert.Error(t, err)
}

func roundPct(done, total int) int {
	return int(float64(done)/float64(total)*100 + 0.5)
}
