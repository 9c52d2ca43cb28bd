package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/search/filter"
	"github.com/kailas-cloud/imgdex/internal/domain/search/mode"
)

// MaxQueryLength is the maximum allowed text query length.
const MaxQueryLength = 4096

// Limits bounds pagination. Zero values fall back to package defaults.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	// MaxOffset bounds page*page_size.
	MaxOffset int
}

func (l Limits) withDefaults() Limits {
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = domain.DefaultMaxPageSize
	}
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = domain.DefaultPageSize
	}
	if l.DefaultPageSize > l.MaxPageSize {
		l.DefaultPageSize = l.MaxPageSize
	}
	if l.MaxOffset <= 0 {
		l.MaxOffset = domain.DefaultMaxOffset
	}
	return l
}

// Scope carries the fields shared by every mode.
// MinScore nil means "use the mode default".
type Scope struct {
	TeamID   string
	Tags     []string
	MinScore *float64
	Page     int
	PageSize int
}

// Query is a validated search request. Exactly one payload is set, selected by Mode.
type Query struct {
	mode        mode.Mode
	text        string
	image       []byte
	referenceID string

	teamID   string
	tags     []string
	minScore float64
	page     int
	pageSize int
}

// NewText creates a TEXT query. Text must be non-empty after trimming.
func NewText(text string, s Scope, l Limits) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, fmt.Errorf("%w: query text is required", domain.ErrInvalidInput)
	}
	if len(text) > MaxQueryLength {
		return Query{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidInput, MaxQueryLength)
	}
	q, err := newScoped(mode.Text, s, l, domain.DefaultTextMinScore)
	if err != nil {
		return Query{}, err
	}
	q.text = text
	return q, nil
}

// NewImage creates an IMAGE query from raw image bytes.
// Decoding is checked later by the embedding adapter.
func NewImage(image []byte, s Scope, l Limits) (Query, error) {
	if len(image) == 0 {
		return Query{}, fmt.Errorf("%w: image is required", domain.ErrInvalidInput)
	}
	q, err := newScoped(mode.Image, s, l, 0)
	if err != nil {
		return Query{}, err
	}
	q.image = image
	return q, nil
}

// NewSimilar creates a SIMILAR_TO_ID query for an already indexed image.
func NewSimilar(referenceID string, s Scope, l Limits) (Query, error) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return Query{}, fmt.Errorf("%w: reference image id is required", domain.ErrInvalidInput)
	}
	q, err := newScoped(mode.SimilarToID, s, l, 0)
	if err != nil {
		return Query{}, err
	}
	q.referenceID = referenceID
	return q, nil
}

// NewTagOnly creates a TAG_ONLY query. At least one tag is required.
func NewTagOnly(s Scope, l Limits) (Query, error) {
	q, err := newScoped(mode.TagOnly, s, l, 0)
	if err != nil {
		return Query{}, err
	}
	if len(q.tags) == 0 {
		return Query{}, fmt.Errorf("%w: at least one tag is required", domain.ErrInvalidInput)
	}
	return q, nil
}

func newScoped(m mode.Mode, s Scope, l Limits, defaultMinScore float64) (Query, error) {
	l = l.withDefaults()

	teamID := strings.TrimSpace(s.TeamID)
	if teamID == "" {
		return Query{}, fmt.Errorf("%w: team_id is required", domain.ErrInvalidInput)
	}
	minScore := defaultMinScore
	if s.MinScore != nil {
		minScore = *s.MinScore
	}
	if minScore < 0 || minScore > 1 {
		return Query{}, fmt.Errorf("%w: min_score must be between 0 and 1", domain.ErrInvalidInput)
	}
	if s.Page < 0 {
		return Query{}, fmt.Errorf("%w: page must be >= 0", domain.ErrInvalidInput)
	}
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = l.DefaultPageSize
	}
	if pageSize > l.MaxPageSize {
		pageSize = l.MaxPageSize
	}
	// деление вместо умножения: page*pageSize может переполниться
	if s.Page > l.MaxOffset/pageSize {
		return Query{}, fmt.Errorf("%w: page too deep (page*page_size must be <= %d)", domain.ErrInvalidInput, l.MaxOffset)
	}
	tags, err := normalizeTags(s.Tags)
	if err != nil {
		return Query{}, err
	}

	return Query{
		mode:     m,
		teamID:   teamID,
		tags:     tags,
		minScore: minScore,
		page:     s.Page,
		pageSize: pageSize,
	}, nil
}

// normalizeTags trims, drops empties and dedupes, returning a sorted set.
func normalizeTags(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if err := image.ValidateTag(t); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		out = append(out, t)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > filter.MaxConditionsPerGroup {
		return nil, fmt.Errorf("%w: too many tags (max %d)", domain.ErrInvalidInput, filter.MaxConditionsPerGroup)
	}
	return out, nil
}

// Mode returns the query discriminator.
func (q *Query) Mode() mode.Mode { return q.mode }

// Text returns the query text (TEXT mode only).
func (q *Query) Text() string { return q.text }

// Image returns the raw image bytes (IMAGE mode only).
func (q *Query) Image() []byte { return q.image }

// ReferenceID returns the reference image id (SIMILAR_TO_ID mode only).
func (q *Query) ReferenceID() string { return q.referenceID }

// TeamID returns the mandatory access scope.
func (q *Query) TeamID() string { return q.teamID }

// Tags returns the OR tag filter; empty means no tag filtering.
func (q *Query) Tags() []string { return q.tags }

// MinScore returns the minimum similarity threshold.
func (q *Query) MinScore() float64 { return q.minScore }

// Page returns the zero-based page number.
func (q *Query) Page() int { return q.page }

// PageSize returns the clamped page size.
func (q *Query) PageSize() int { return q.pageSize }

// Offset returns the index of the first item on the requested page.
func (q *Query) Offset() int { return q.page * q.pageSize }
