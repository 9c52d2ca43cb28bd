// Package memindex is an in-memory brute-force Vector Index for tests and local runs.
//
// Readers work on an immutable snapshot loaded atomically, so queries never wait on
// writers. Writers are serialized and publish a fresh snapshot (copy-on-write of the
// affected model version only). A write is visible to every query started after it
// returns; queries already running keep the snapshot they started with.
package memindex

import (
	"container/heap"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/index"
)

var _ index.Index = (*Index)(nil)

// ctxCheckEvery bounds how many entries are scanned between cancellation checks.
const ctxCheckEvery = 1024

type partition struct {
	policy  index.Policy
	entries map[string]index.Entry
}

type snapshot struct {
	versions map[string]*partition
}

// Index is a brute-force cosine index partitioned by model version.
type Index struct {
	mu   sync.Mutex // writers only
	snap atomic.Pointer[snapshot]
}

// New creates an empty index.
func New() *Index {
	idx := &Index{}
	idx.snap.Store(&snapshot{versions: map[string]*partition{}})
	return idx
}

// Insert implements index.Index. The first insert under a model version records its
// dimension and normalization policy; later inserts must match it.
func (idx *Index) Insert(ctx context.Context, e index.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	policy := index.Policy{Dimensions: len(e.Vector), Normalize: !e.Normalized}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	old := cur.versions[e.ModelVersion]
	if old != nil {
		if old.policy.Dimensions != policy.Dimensions {
			return fmt.Errorf("%w: version %s stores %d dims, got %d",
				domain.ErrDimensionMismatch, e.ModelVersion, old.policy.Dimensions, policy.Dimensions)
		}
		if old.policy.Normalize != policy.Normalize {
			return fmt.Errorf("%w: version %s recorded %s", domain.ErrNormalizationConflict, e.ModelVersion, old.policy)
		}
	}

	stored := e
	stored.Tags = slices.Clone(e.Tags)
	if policy.Normalize {
		stored.Vector = domain.Normalize(e.Vector)
	} else {
		stored.Vector = slices.Clone(e.Vector)
	}

	next := &partition{policy: policy, entries: make(map[string]index.Entry, partitionLen(old)+1)}
	if old != nil {
		for id, ent := range old.entries {
			next.entries[id] = ent
		}
	}
	next.entries[e.ImageID] = stored

	idx.publish(cur, e.ModelVersion, next)
	return nil
}

// Delete implements index.Index. Deleting a missing entry is a no-op.
func (idx *Index) Delete(ctx context.Context, imageID, modelVersion string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	old := cur.versions[modelVersion]
	if old == nil {
		return nil
	}
	if _, ok := old.entries[imageID]; !ok {
		return nil
	}

	// Policy stays recorded even when the partition empties.
	next := &partition{policy: old.policy, entries: make(map[string]index.Entry, len(old.entries)-1)}
	for id, ent := range old.entries {
		if id != imageID {
			next.entries[id] = ent
		}
	}
	idx.publish(cur, modelVersion, next)
	return nil
}

func (idx *Index) publish(cur *snapshot, version string, part *partition) {
	versions := make(map[string]*partition, len(cur.versions)+1)
	for v, p := range cur.versions {
		versions[v] = p
	}
	versions[version] = part
	idx.snap.Store(&snapshot{versions: versions})
}

// Query implements index.Index with an exact top-k scan.
func (idx *Index) Query(ctx context.Context, q index.Query) (index.Result, error) {
	if err := ctx.Err(); err != nil {
		return index.Result{}, err
	}
	if q.TeamID == "" {
		return index.Result{}, fmt.Errorf("%w: team scope is required", domain.ErrInvalidInput)
	}
	if q.K <= 0 || len(q.Vector) == 0 {
		return index.Result{}, fmt.Errorf("%w: k and vector are required", domain.ErrInvalidInput)
	}

	snap := idx.snap.Load()
	h := &candidateHeap{}
	matched, scanned := 0, 0

	for _, version := range versionsToScan(snap, q.ModelVersions) {
		part := snap.versions[version]
		if part == nil || part.policy.Dimensions != len(q.Vector) {
			continue
		}
		for _, e := range part.entries {
			scanned++
			if scanned%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return index.Result{}, err
				}
			}
			if !matches(e, q.TeamID, q.Tags) || slices.Contains(q.ExcludeIDs, e.ImageID) {
				continue
			}
			matched++
			c := index.Candidate{
				ImageID:      e.ImageID,
				TeamID:       e.TeamID,
				Tags:         e.Tags,
				ModelVersion: e.ModelVersion,
				Score:        domain.Score(domain.Cosine(q.Vector, e.Vector)),
			}
			if h.Len() < q.K {
				heap.Push(h, c)
			} else if better(c, (*h)[0]) {
				(*h)[0] = c
				heap.Fix(h, 0)
			}
		}
	}

	out := make([]index.Candidate, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		c := heap.Pop(h).(index.Candidate)
		c.Tags = slices.Clone(c.Tags)
		out[i] = c
	}
	return index.Result{Candidates: out, Exhausted: matched <= q.K, Total: -1}, nil
}

// QueryTags implements index.Index. Every match scores 1.0; order is by image ID.
func (idx *Index) QueryTags(ctx context.Context, q index.TagQuery) (index.Result, error) {
	if err := ctx.Err(); err != nil {
		return index.Result{}, err
	}
	if q.TeamID == "" {
		return index.Result{}, fmt.Errorf("%w: team scope is required", domain.ErrInvalidInput)
	}

	part := idx.snap.Load().versions[q.ModelVersion]
	if part == nil {
		return index.Result{Exhausted: true}, nil
	}

	var out []index.Candidate
	for _, e := range part.entries {
		if !matches(e, q.TeamID, q.Tags) {
			continue
		}
		out = append(out, index.Candidate{
			ImageID:      e.ImageID,
			TeamID:       e.TeamID,
			Tags:         slices.Clone(e.Tags),
			ModelVersion: e.ModelVersion,
			Score:        1,
		})
	}
	slices.SortFunc(out, func(a, b index.Candidate) int {
		return strings.Compare(a.ImageID, b.ImageID)
	})

	total := len(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return index.Result{Candidates: out, Exhausted: len(out) == total, Total: total}, nil
}

// Lookup implements index.Index.
func (idx *Index) Lookup(ctx context.Context, imageID, modelVersion string) (index.Entry, error) {
	if err := ctx.Err(); err != nil {
		return index.Entry{}, err
	}
	part := idx.snap.Load().versions[modelVersion]
	if part == nil {
		return index.Entry{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
	}
	e, ok := part.entries[imageID]
	if !ok {
		return index.Entry{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
	}
	e.Tags = slices.Clone(e.Tags)
	e.Vector = slices.Clone(e.Vector)
	return e, nil
}

// Versions implements index.Index.
func (idx *Index) Versions(ctx context.Context, imageID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	for v, part := range idx.snap.Load().versions {
		if _, ok := part.entries[imageID]; ok {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Len returns the number of live entries across all versions.
func (idx *Index) Len() int {
	n := 0
	for _, part := range idx.snap.Load().versions {
		n += len(part.entries)
	}
	return n
}

// Policy returns the recorded policy of a model version.
func (idx *Index) Policy(modelVersion string) (index.Policy, bool) {
	part := idx.snap.Load().versions[modelVersion]
	if part == nil {
		return index.Policy{}, false
	}
	return part.policy, true
}

func versionsToScan(snap *snapshot, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	out := make([]string, 0, len(snap.versions))
	for v := range snap.versions {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// matches applies the hard team filter and the OR tag pre-filter.
func matches(e index.Entry, teamID string, tags []string) bool {
	if e.TeamID != teamID {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if slices.Contains(e.Tags, t) {
			return true
		}
	}
	return false
}

func partitionLen(p *partition) int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// better orders candidates by descending score, then ascending image ID.
func better(a, b index.Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ImageID < b.ImageID
}

// candidateHeap keeps the current top-k with the worst candidate at the root.
type candidateHeap []index.Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(index.Candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
