package serve

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init())
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRunRoundTrip(t *testing.T) {
	store := testStore(t)

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.InsertRun(RunRecord{
		ID:          "run1",
		Pipeline:    "generation",
		ProjectName: "todo-api",
		Description: "a todo API",
		Status:      "running",
		StartedAt:   started,
	}))

	rec, err := store.GetRun("run1")
	require.NoError(t, err)
	assert.Equal(t, "generation", rec.Pipeline)
	assert.Equal(t, "todo-api", rec.ProjectName)
	assert.Equal(t, "running", rec.Status)
	assert.Nil(t, rec.FinishedAt)

	finished := started.Add(time.Minute)
	require.NoError(t, store.UpdateRun(RunRecord{
		ID:           "run1",
		Status:       "completed",
		InputTokens:  1000,
		OutputTokens: 400,
		CostUSD:      0.02,
		FinishedAt:   &finished,
	}))

	rec, err = store.GetRun("run1")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, 1000, rec.InputTokens)
	assert.Equal(t, 400, rec.OutputTokens)
	assert.InDelta(t, 0.02, rec.CostUSD, 1e-9)
	require.NotNil(t, rec.FinishedAt)

	_, err = store.GetRun("missing")
	assert.Error(t, err)
}

func TestStoreListRunsNewestFirst(t *testing.T) {
	store := testStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.InsertRun(RunRecord{
			ID:        id,
			Status:    "completed",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[2].ID)

	limited, err := store.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStoreRunEvents(t *testing.T) {
	store := testStore(t)

	now := time.Now().UTC()
	for i, typ := range []string{"run.started", "stage.started", "stage.completed"} {
		require.NoError(t, store.InsertRunEvent(RunEvent{
			RunID:     "run1",
			Type:      typ,
			Stage:     "plan",
			Timestamp: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.InsertRunEvent(RunEvent{
		RunID: "other", Type: "run.started", Timestamp: now,
	}))

	events, err := store.ListRunEvents("run1", 100)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "run.started", events[0].Type, "events come back oldest first")
	assert.Equal(t, "stage.completed", events[2].Type)

	empty, err := store.ListRunEvents("unknown", 100)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreEvolutionRoundTrip(t *testing.T) {
	store := testStore(t)

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.InsertEvolutionRun(EvolutionRecord{
		ID:        "evo1",
		Status:    "running",
		StartedAt: started,
	}))

	finished := started.Add(time.Hour)
	require.NoError(t, store.UpdateEvolutionRun(EvolutionRecord{
		ID:          "evo1",
		Status:      "completed",
		Generations: 12,
		BestFitness: 0.84,
		BestGenome:  `{"temperature":0.6}`,
		Stopped:     "converged",
		FinishedAt:  &finished,
	}))

	rec, err := store.GetEvolutionRun("evo1")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, 12, rec.Generations)
	assert.InDelta(t, 0.84, rec.BestFitness, 1e-9)
	assert.Equal(t, `{"temperature":0.6}`, rec.BestGenome)
	assert.Equal(t, "converged", rec.Stopped)
	require.NotNil(t, rec.FinishedAt)

	runs, err := store.ListEvolutionRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStoreGenerations(t *testing.T) {
	store := testStore(t)

	now := time.Now().UTC()
	for gen := 0; gen < 3; gen++ {
		require.NoError(t, store.InsertGeneration(GenerationRecord{
			EvolutionID: "evo1",
			Generation:  gen,
			BestFitness: float64(gen) * 0.1,
			At:          now,
		}))
	}

	gens, err := store.ListGenerations("evo1")
	require.NoError(t, err)
	require.Len(t, gens, 3)
	for i, g := range gens {
		assert.Equal(t, i, g.Generation)
	}

	empty, err := store.ListGenerations("unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreSchedules(t *testing.T) {
	store := testStore(t)

	sched := Schedule{
		Name:      "nightly",
		Cron:      "0 3 * * *",
		Enabled:   true,
		Spec:      `{"generations":5}`,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.UpsertSchedule(sched))

	// Upsert replaces.
	sched.Cron = "0 4 * * *"
	require.NoError(t, store.UpsertSchedule(sched))

	schedules, err := store.ListSchedules()
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "0 4 * * *", schedules[0].Cron)
	assert.True(t, schedules[0].Enabled)
	assert.Equal(t, `{"generations":5}`, schedules[0].Spec)

	require.NoError(t, store.DeleteSchedule("nightly"))
	assert.Error(t, store.DeleteSchedule("nightly"), "deleting twice should fail")
}

func TestStorePing(t *testing.T) {
	store := testStore(t)
	assert.NoError(t, store.Ping())
}
