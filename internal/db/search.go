package db

import "github.com/kailas-cloud/imgdex/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// ListQuery is the input for a filter-only listing.
type ListQuery struct {
	IndexName    string
	Filters      filter.Expression
	SortBy       string
	Offset       int
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
// Total is the number of matching documents reported by the engine.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// StreamEntry is one record read from a stream.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}
