// Package ranking narrows raw index candidates into a deterministic result page.
//
// Everything here is a pure function of its input: no I/O, no clocks, no shared state.
package ranking

import (
	"slices"
	"strings"

	"github.com/kailas-cloud/imgdex/internal/domain/index"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
)

// Params describes one ranking pass.
type Params struct {
	MinScore float64
	// Tags is an OR filter; empty lets every candidate through.
	Tags     []string
	Page     int
	PageSize int
	// Exhausted reports whether the index returned every match it holds.
	Exhausted bool
}

// Rank filters, deduplicates, orders and paginates candidates.
func Rank(cands []index.Candidate, p Params) result.Page {
	return Paginate(Filter(cands, p.MinScore, p.Tags), p.Page, p.PageSize, p.Exhausted)
}

// Filter drops candidates under minScore or outside the tag filter, keeps the best
// score per image and returns the survivors ordered by (score desc, image_id asc).
// The input slice is not modified.
func Filter(cands []index.Candidate, minScore float64, tags []string) []index.Candidate {
	best := make(map[string]int, len(cands))
	out := make([]index.Candidate, 0, len(cands))

	for _, c := range cands {
		if c.Score < minScore || !anyTag(c.Tags, tags) {
			continue
		}
		// одно изображение может прийти из нескольких версий модели
		if i, ok := best[c.ImageID]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		best[c.ImageID] = len(out)
		out = append(out, c)
	}

	slices.SortStableFunc(out, Compare)
	return out
}

// Paginate slices sorted survivors into one page.
// TotalEstimate is the survivor count; it is a lower bound unless exhausted.
func Paginate(sorted []index.Candidate, page, pageSize int, exhausted bool) result.Page {
	if page < 0 {
		page = 0
	}
	if pageSize < 0 {
		pageSize = 0
	}

	start := len(sorted)
	if pageSize == 0 || page <= (len(sorted)-1)/pageSize {
		start = page * pageSize
	}
	end := start + min(pageSize, len(sorted)-start)

	hits := make([]result.Hit, 0, end-start)
	for _, c := range sorted[start:end] {
		hits = append(hits, result.Hit{
			ImageID: c.ImageID,
			Score:   c.Score,
			Tags:    slices.Clone(c.Tags),
		})
	}

	return result.Page{
		Hits:          hits,
		TotalEstimate: len(sorted),
		Estimated:     !exhausted,
		HasNext:       len(sorted) > end || !exhausted,
		Page:          page,
		PageSize:      pageSize,
	}
}

// Compare orders candidates by descending score, ties by ascending image ID.
func Compare(a, b index.Candidate) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	return strings.Compare(a.ImageID, b.ImageID)
}

func anyTag(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, t := range want {
		if slices.Contains(have, t) {
			return true
		}
	}
	return false
}
