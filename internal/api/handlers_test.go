package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/health"
	"github.com/p-blackswan/conductor/internal/phase"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	machine := phase.NewMachine(s, phase.Defaults(), nil, logger)
	q := queue.New(s, nil, queue.Options{}, logger)

	checker := health.NewChecker(logger)
	checker.Register("structured_store", func(ctx context.Context) health.Status {
		if err := s.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	return NewServer(":0", s, machine, q, checker, logger), s
}

func seedProject(t *testing.T, s *store.Store, ns string) {
	t.Helper()
	require.NoError(t, s.CreateProject(context.Background(), &store.Project{
		Namespace: ns, Name: "test", RootPath: "/tmp/test",
		Goal: "build an api", Phase: string(phase.GoalClarification),
	}))
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp.StatusCode, decoded
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ready"])
}

func TestNamespaceStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/namespaces/ghost/status", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "namespace_not_found", body["type"])
}

func TestNamespaceStatus_BlockedOnPrerequisites(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")

	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/namespaces/proj_a/status", "")
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "goal_clarification", body["phase"])
	assert.Equal(t, "blocked_on_prerequisites", body["state"])
	assert.ElementsMatch(t,
		[]interface{}{"mutual_understanding_document", "constraints_document"},
		body["missing"])
}

func TestNamespaceStatus_InProgress(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")
	require.NoError(t, s.InsertTask(context.Background(), &store.Task{
		ID: "t1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))

	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/namespaces/proj_a/status", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in_progress", body["state"])
}

func TestNamespaceStatus_BlockedOnFailedTask(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")
	require.NoError(t, s.SaveEscalation(context.Background(), &store.Escalation{
		ID: "esc-1", Namespace: "proj_a", Reason: "retries_exhausted",
	}))

	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/namespaces/proj_a/status", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "blocked_on_failed_task", body["state"])
	assert.Equal(t, float64(1), body["open_escalations"])
}

func TestAdvance_BlockedReturnsMissing(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")

	status, body := doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/advance", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["advanced"])
	assert.Len(t, body["missing"], 2)
}

func TestCancel(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")

	// Missing actor/reason is rejected.
	status, _ := doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/cancel", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/cancel",
		`{"actor":"ops","reason":"priorities changed"}`)
	require.Equal(t, http.StatusOK, status)

	p, err := s.GetProject(context.Background(), "proj_a")
	require.NoError(t, err)
	assert.Equal(t, store.ProjectCancelled, p.Status)

	// A second cancel conflicts.
	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/cancel",
		`{"actor":"ops","reason":"again"}`)
	assert.Equal(t, http.StatusConflict, status)
}

func TestForcePhase(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")

	status, _ := doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/force-phase",
		`{"phase":"implementation"}`)
	assert.Equal(t, http.StatusBadRequest, status, "actor and reason are mandatory")

	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/force-phase",
		`{"phase":"deployment","actor":"ops","reason":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status, "unknown phases are rejected")

	status, _ = doJSON(t, srv, http.MethodPost, "/api/v1/namespaces/proj_a/force-phase",
		`{"phase":"implementation","actor":"ops","reason":"prototype first"}`)
	require.Equal(t, http.StatusOK, status)

	p, err := s.GetProject(context.Background(), "proj_a")
	require.NoError(t, err)
	assert.Equal(t, "implementation", p.Phase)
}

func TestListTasks(t *testing.T) {
	srv, s := newTestServer(t)
	seedProject(t, s, "proj_a")
	require.NoError(t, s.InsertTask(context.Background(), &store.Task{
		ID: "t1", Namespace: "proj_a", ToAgent: "coder", TaskType: "implement",
	}))

	status, body := doJSON(t, srv, http.MethodGet, "/api/v1/namespaces/proj_a/tasks?status=pending", "")
	require.Equal(t, http.StatusOK, status)
	tasks, ok := body["tasks"].([]interface{})
	require.True(t, ok)
	assert.Len(t, tasks, 1)
}
