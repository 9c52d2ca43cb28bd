package chi

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	reconcileuc "github.com/kailas-cloud/imgdex/internal/usecase/reconcile"
)

// --- Mocks ---

type mockSearch struct {
	page result.Page
	err  error
	last *query.Query
}

func (m *mockSearch) Search(_ context.Context, q *query.Query) (result.Page, error) {
	m.last = q
	return m.page, m.err
}

type mockReconcile struct {
	quarantined []reconcileuc.Quarantine
	err         error
	gotID       string
	gotTeam     string
	listTeam    string
}

func (m *mockReconcile) Quarantined(teamID string) []reconcileuc.Quarantine {
	m.listTeam = teamID
	return m.quarantined
}

func (m *mockReconcile) Retrigger(_ context.Context, imageID, teamID string) error {
	m.gotID, m.gotTeam = imageID, teamID
	return m.err
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

// --- Helpers ---

type testEnv struct {
	router    http.Handler
	search    *mockSearch
	reconcile *mockReconcile
	health    *mockHealth
}

func newTestEnv(t *testing.T, keys map[string]string) *testEnv {
	t.Helper()
	env := &testEnv{
		search:    &mockSearch{},
		reconcile: &mockReconcile{},
		health:    &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}},
	}
	srv := NewServer(env.search, env.reconcile, env.health, query.Limits{}, zap.NewNop())

	r := chi.NewRouter()
	r.Use(TeamAuthMiddleware(keys))
	srv.Mount(r)
	env.router = r
	return env
}
