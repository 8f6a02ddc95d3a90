package store

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := zerolog.New(io.Discard)
	s, err := New(dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store, ns string) {
	t.Helper()
	err := s.CreateProject(context.Background(), &Project{
		Namespace: ns,
		Name:      "test",
		RootPath:  "/tmp/test",
		Goal:      "build the thing",
		Phase:     "goal_clarification",
	})
	require.NoError(t, err)
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	tables := []string{
		"projects", "tasks", "artifacts", "artifact_history",
		"memory_records", "preferences", "processed_events",
		"escalations", "audit_log", "meta",
	}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var version string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key='schema_version'").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestTask_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	task := &Task{
		ID:        "task-1",
		Namespace: "proj_a",
		FromAgent: "conductor",
		ToAgent:   "specification_orchestrator",
		TaskType:  "phase_kickoff",
		Payload:   `{"intent":"write the spec"}`,
		Priority:  3,
	}
	require.NoError(t, s.InsertTask(ctx, task))
	assert.Equal(t, 1, task.Attempt)

	claimed, err := s.ClaimTask(ctx, "specification_orchestrator", "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "task-1", claimed.ID)
	assert.Equal(t, TaskInProgress, claimed.Status)
	assert.NotZero(t, claimed.StartedAt)

	// Second claim finds nothing.
	again, err := s.ClaimTask(ctx, "specification_orchestrator", "")
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, s.CompleteTask(ctx, "task-1", `{"ok":true}`))

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, got.Status)
	assert.Equal(t, `{"ok":true}`, got.Result)
	assert.NotZero(t, got.CompletedAt)
}

func TestClaimTask_PriorityThenFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	// Lower priority value is more urgent; ties break on insertion order.
	for i, spec := range []struct {
		id       string
		priority int
	}{
		{"bulk-1", 5},
		{"urgent", 1},
		{"bulk-2", 5},
	} {
		require.NoError(t, s.InsertTask(ctx, &Task{
			ID:        spec.id,
			Namespace: "proj_a",
			ToAgent:   "coder",
			TaskType:  "implement",
			Priority:  spec.priority,
			CreatedAt: int64(1000 + i),
		}))
	}

	var order []string
	for {
		claimed, err := s.ClaimTask(ctx, "coder", "")
		require.NoError(t, err)
		if claimed == nil {
			break
		}
		order = append(order, claimed.ID)
	}
	assert.Equal(t, []string{"urgent", "bulk-1", "bulk-2"}, order)
}

func TestClaimTask_ExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	require.NoError(t, s.InsertTask(ctx, &Task{
		ID:        "contested",
		Namespace: "proj_a",
		ToAgent:   "coder",
		TaskType:  "implement",
	}))

	const claimers = 16
	var wg sync.WaitGroup
	results := make(chan *Task, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimTask(ctx, "coder", "")
			assert.NoError(t, err)
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for r := range results {
		if r != nil {
			won++
			assert.Equal(t, "contested", r.ID)
		}
	}
	assert.Equal(t, 1, won, "exactly one claimer should win")
}

func TestClaimTask_SkipsInactiveNamespaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")
	require.NoError(t, s.InsertTask(ctx, &Task{
		ID: "t1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))

	_, err := s.CancelProject(ctx, "proj_a", "changed direction")
	require.NoError(t, err)

	claimed, err := s.ClaimTask(ctx, "coder", "")
	require.NoError(t, err)
	assert.Nil(t, claimed, "cancelled namespace tasks must not be claimable")
}

func TestCompleteTask_InvalidTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	require.NoError(t, s.InsertTask(ctx, &Task{
		ID: "t1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))

	// Completing a pending (unclaimed) task is rejected.
	err := s.CompleteTask(ctx, "t1", "{}")
	require.ErrorIs(t, err, oerrors.ErrInvalidStateTransition)

	claimed, err := s.ClaimTask(ctx, "coder", "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, s.CompleteTask(ctx, "t1", "{}"))

	// Double completion is rejected.
	err = s.CompleteTask(ctx, "t1", "{}")
	require.ErrorIs(t, err, oerrors.ErrInvalidStateTransition)

	// Unknown task is not found.
	err = s.CompleteTask(ctx, "nope", "{}")
	require.ErrorIs(t, err, oerrors.ErrNotFound)
}

func TestCancelProject_FailsLiveTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	require.NoError(t, s.InsertTask(ctx, &Task{
		ID: "pending-1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))
	require.NoError(t, s.InsertTask(ctx, &Task{
		ID: "running-1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))
	claimed, err := s.ClaimTask(ctx, "coder", "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	cancelled, err := s.CancelProject(ctx, "proj_a", "scope changed")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)

	p, err := s.GetProject(ctx, "proj_a")
	require.NoError(t, err)
	assert.Equal(t, ProjectCancelled, p.Status)

	for _, id := range []string{"pending-1", "running-1"} {
		task, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, TaskFailed, task.Status)
		assert.Contains(t, task.Error, "cancelled")
	}

	// Completing the previously claimed task after cancellation is rejected.
	err = s.CompleteTask(ctx, claimed.ID, "{}")
	require.ErrorIs(t, err, oerrors.ErrInvalidStateTransition)

	// Cancelling twice is rejected.
	_, err = s.CancelProject(ctx, "proj_a", "again")
	require.Error(t, err)
}

func TestStoreArtifact_VersionsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	art := &Artifact{
		Namespace:   "proj_a",
		FilePath:    "docs/mutual_understanding.md",
		MemoryType:  "mutual_understanding_document",
		ContentHash: "aaa",
	}
	v1, updated, err := s.StoreArtifact(ctx, art)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.True(t, updated)

	art.ContentHash = "bbb"
	v2, _, err := s.StoreArtifact(ctx, art)
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	art.ContentHash = "ccc"
	v3, _, err := s.StoreArtifact(ctx, art)
	require.NoError(t, err)
	assert.Equal(t, 3, v3)

	// Superseded versions are archived, not deleted.
	var history int
	err = s.db.QueryRow(`
	SELECT COUNT(*) FROM artifact_history
	WHERE namespace = 'proj_a' AND file_path = 'docs/mutual_understanding.md'`).Scan(&history)
	require.NoError(t, err)
	assert.Equal(t, 2, history)

	current, err := s.GetArtifact(ctx, "proj_a", "docs/mutual_understanding.md")
	require.NoError(t, err)
	assert.Equal(t, 3, current.Version)
	assert.Equal(t, "ccc", current.ContentHash)
}

func TestStoreArtifact_SameContentKeepsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	art := &Artifact{
		Namespace:   "proj_a",
		FilePath:    "docs/constraints.md",
		MemoryType:  "constraints_document",
		ContentHash: "aaa",
	}
	v1, updated, err := s.StoreArtifact(ctx, art)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.True(t, updated)

	// Re-applying the identical content is a no-op, not a version bump.
	v2, updated, err := s.StoreArtifact(ctx, art)
	require.NoError(t, err)
	assert.Equal(t, 1, v2)
	assert.False(t, updated)

	var history int
	err = s.db.QueryRow(`
	SELECT COUNT(*) FROM artifact_history
	WHERE namespace = 'proj_a' AND file_path = 'docs/constraints.md'`).Scan(&history)
	require.NoError(t, err)
	assert.Equal(t, 0, history, "nothing was superseded")
}

func TestArtifactTypesPresent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")
	seedProject(t, s, "proj_b")

	_, _, err := s.StoreArtifact(ctx, &Artifact{
		Namespace: "proj_a", FilePath: "a.md", MemoryType: "constraints_document",
	})
	require.NoError(t, err)

	present, err := s.ArtifactTypesPresent(ctx, "proj_a",
		[]string{"constraints_document", "mutual_understanding_document"})
	require.NoError(t, err)
	assert.True(t, present["constraints_document"])
	assert.False(t, present["mutual_understanding_document"])

	// Another namespace's artifacts are invisible.
	present, err = s.ArtifactTypesPresent(ctx, "proj_b", []string{"constraints_document"})
	require.NoError(t, err)
	assert.False(t, present["constraints_document"])
}

func TestMarkEventProcessed_Dedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	processed, err := s.EventProcessed(ctx, "complete:t1")
	require.NoError(t, err)
	assert.False(t, processed)

	first, err := s.MarkEventProcessed(ctx, "complete:t1", "t1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkEventProcessed(ctx, "complete:t1", "t1")
	require.NoError(t, err)
	assert.False(t, second)

	processed, err = s.EventProcessed(ctx, "complete:t1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestStaleTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "proj_a")

	require.NoError(t, s.InsertTask(ctx, &Task{
		ID: "t1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))
	claimed, err := s.ClaimTask(ctx, "coder", "")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stale, err := s.StaleTasks(ctx, time.Now().Add(-time.Minute).UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, stale, "a fresh claim is not stale")

	stale, err = s.StaleTasks(ctx, time.Now().Add(time.Minute).UnixMilli())
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "t1", stale[0].ID)
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPreference(ctx, "proj_a", "language", "go"))
	require.NoError(t, s.SetPreference(ctx, "proj_a", "language", "go 1.24"))
	require.NoError(t, s.SetPreference(ctx, "proj_a", "style", "terse"))

	prefs, err := s.Preferences(ctx, "proj_a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"language": "go 1.24", "style": "terse"}, prefs)
}

func TestEscalations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEscalation(ctx, &Escalation{
		ID: "esc-1", Namespace: "proj_a", TaskID: "t1",
		Reason: "retries_exhausted", Details: "executor kept timing out",
	}))

	open, err := s.OpenEscalations(ctx, "proj_a")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "retries_exhausted", open[0].Reason)

	require.NoError(t, s.ResolveEscalation(ctx, "esc-1"))

	open, err = s.OpenEscalations(ctx, "proj_a")
	require.NoError(t, err)
	assert.Empty(t, open)

	require.Error(t, s.ResolveEscalation(ctx, "esc-1"))
}
