package chi

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	reconcileuc "github.com/kailas-cloud/imgdex/internal/usecase/reconcile"
)

// SearchService runs searches (the Search Orchestrator).
type SearchService interface {
	Search(ctx context.Context, q *query.Query) (result.Page, error)
}

// ReconcileService exposes the admin side of the Consistency Tracker.
type ReconcileService interface {
	Quarantined(teamID string) []reconcileuc.Quarantine
	Retrigger(ctx context.Context, imageID, teamID string) error
}

// HealthService aggregates component health.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}
