package index

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

// Entry is one indexed vector. At most one live entry exists per (ImageID, ModelVersion).
type Entry struct {
	ImageID      string
	TeamID       string
	Tags         []string
	ModelVersion string
	Vector       []float32
	// Normalized reports whether Vector is already unit length as produced by the model.
	Normalized  bool
	ProcessedAt time.Time
}

// NewEntry validates and creates an Entry. The vector is copied.
func NewEntry(
	imageID, teamID string, tags []string,
	modelVersion string, vector []float32, normalized bool,
) (Entry, error) {
	if err := image.ValidateID(imageID); err != nil {
		return Entry{}, err
	}
	if teamID == "" {
		return Entry{}, fmt.Errorf("team ID is required")
	}
	if modelVersion == "" {
		return Entry{}, fmt.Errorf("model version is required")
	}
	if len(vector) == 0 {
		return Entry{}, fmt.Errorf("vector is required")
	}
	return Entry{
		ImageID:      imageID,
		TeamID:       teamID,
		Tags:         slices.Clone(tags),
		ModelVersion: modelVersion,
		Vector:       slices.Clone(vector),
		Normalized:   normalized,
		ProcessedAt:  time.Now().UTC(),
	}, nil
}

// Validate checks the fields every backend relies on.
func (e Entry) Validate() error {
	if err := image.ValidateID(e.ImageID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if e.TeamID == "" || e.ModelVersion == "" || len(e.Vector) == 0 {
		return fmt.Errorf("%w: team, model version and vector are required", domain.ErrInvalidInput)
	}
	for _, tag := range e.Tags {
		if err := image.ValidateTag(tag); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	return nil
}

// Candidate is a raw neighbor returned by the index, before ranking.
type Candidate struct {
	ImageID      string
	TeamID       string
	Tags         []string
	ModelVersion string
	Score        float64
}

// Query is a k-nearest-neighbor request. TeamID is a hard filter.
// Tags, when present, are a coarse OR pre-filter.
type Query struct {
	Vector        []float32
	K             int
	TeamID        string
	Tags          []string
	ExcludeIDs    []string
	ModelVersions []string
}

// TagQuery lists entries by tag membership alone, ordered by image ID.
type TagQuery struct {
	TeamID       string
	Tags         []string
	ModelVersion string
	Limit        int
}

// Result is the index answer. Exhausted is true when the index returned every
// matching entry it holds, so asking for a larger k cannot yield more.
// Total is the exact match count when the backend knows it, -1 otherwise.
type Result struct {
	Candidates []Candidate
	Exhausted  bool
	Total      int
}

// Policy records how vectors of one model version are stored.
type Policy struct {
	Dimensions int
	Normalize  bool
}

func (p Policy) String() string {
	return fmt.Sprintf("dims=%d;normalize=%t", p.Dimensions, p.Normalize)
}

// Index is the vector index contract shared by the pluggable backends.
type Index interface {
	// Insert replaces the entry keyed by (ImageID, ModelVersion).
	Insert(ctx context.Context, e Entry) error
	// Delete removes one entry. Deleting a missing entry is a no-op.
	Delete(ctx context.Context, imageID, modelVersion string) error
	Query(ctx context.Context, q Query) (Result, error)
	QueryTags(ctx context.Context, q TagQuery) (Result, error)
	// Lookup returns the stored entry, or domain.ErrNotFound.
	Lookup(ctx context.Context, imageID, modelVersion string) (Entry, error)
	// Versions lists the model versions holding a live entry for the image.
	Versions(ctx context.Context, imageID string) ([]string, error)
}
