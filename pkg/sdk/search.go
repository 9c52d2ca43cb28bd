package imgdex

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
)

// SearchOption narrows or pages a search.
type SearchOption func(*query.Scope)

// Tags keeps only images carrying at least one of the tags.
func Tags(tags ...string) SearchOption {
	return func(s *query.Scope) { s.Tags = append(s.Tags, tags...) }
}

// MinScore drops hits below the similarity threshold (0..1).
// Text searches default to 0.5, other modes to 0.
func MinScore(v float64) SearchOption {
	return func(s *query.Scope) { s.MinScore = &v }
}

// PageNum selects a zero-based page.
func PageNum(n int) SearchOption {
	return func(s *query.Scope) { s.Page = n }
}

// PageSize sets the number of hits per page.
func PageSize(n int) SearchOption {
	return func(s *query.Scope) { s.PageSize = n }
}

// SearchService runs searches for one team.
type SearchService struct {
	teamID string
	svc    searchUseCase
	limits query.Limits
	obs    *observer
}

// Text finds images matching a natural-language description.
func (s *SearchService) Text(ctx context.Context, text string, opts ...SearchOption) (Page, error) {
	q, err := query.NewText(text, s.scope(opts), s.limits)
	return s.run(ctx, "search.text", q, err)
}

// Image finds images visually similar to the given picture.
func (s *SearchService) Image(ctx context.Context, data []byte, opts ...SearchOption) (Page, error) {
	q, err := query.NewImage(data, s.scope(opts), s.limits)
	return s.run(ctx, "search.image", q, err)
}

// Similar finds images similar to an already indexed one. The reference image
// itself is never returned.
func (s *SearchService) Similar(ctx context.Context, imageID string, opts ...SearchOption) (Page, error) {
	q, err := query.NewSimilar(imageID, s.scope(opts), s.limits)
	return s.run(ctx, "search.similar", q, err)
}

// Tags lists images carrying any of the tags, ordered by image ID. Every hit scores 1.
func (s *SearchService) Tags(ctx context.Context, tags []string, opts ...SearchOption) (Page, error) {
	scope := s.scope(opts)
	scope.Tags = append(scope.Tags, tags...)
	q, err := query.NewTagOnly(scope, s.limits)
	return s.run(ctx, "search.tags", q, err)
}

func (s *SearchService) scope(opts []SearchOption) query.Scope {
	scope := query.Scope{TeamID: s.teamID}
	for _, o := range opts {
		o(&scope)
	}
	return scope
}

func (s *SearchService) run(ctx context.Context, op string, q query.Query, err error) (_ Page, retErr error) {
	start := time.Now()
	defer func() { s.obs.observe(op, start, retErr) }()

	if err != nil {
		return Page{}, err
	}
	page, err := s.svc.Search(ctx, &q)
	if err != nil {
		return Page{}, fmt.Errorf("%s: %w", op, err)
	}
	return toPage(page), nil
}

func toPage(p result.Page) Page {
	hits := make([]Hit, len(p.Hits))
	for i, h := range p.Hits {
		hits[i] = Hit{ImageID: h.ImageID, Score: h.Score, Tags: h.Tags}
	}
	return Page{
		Hits:            hits,
		TotalEstimate:   p.TotalEstimate,
		TotalIsEstimate: p.Estimated,
		HasNext:         p.HasNext,
		Page:            p.Page,
		PageSize:        p.PageSize,
	}
}
