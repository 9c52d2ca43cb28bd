package imgdex

import "time"

// Image is a corpus entry owned by the client.
type Image struct {
	ID     string
	TeamID string
	Tags   []string
	Data   []byte
}

// Hit is a single ranked image.
type Hit struct {
	ImageID string
	Score   float64
	Tags    []string
}

// Page is one page of search results.
// When TotalIsEstimate is set, TotalEstimate is a lower bound.
type Page struct {
	Hits            []Hit
	TotalEstimate   int
	TotalIsEstimate bool
	HasNext         bool
	Page            int
	PageSize        int
}

// Quarantined is an image that failed indexing and needs Retrigger.
type Quarantined struct {
	ImageID  string
	Attempts int
	Cause    string
	At       time.Time
}
