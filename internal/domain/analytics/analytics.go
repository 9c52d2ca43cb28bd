package analytics

import (
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain/search/mode"
)

// Outcome is the terminal state of a search request.
type Outcome string

// Terminal outcomes.
const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
)

// Event is one search analytics record. Produced, never read back.
type Event struct {
	ID          string
	Mode        mode.Mode
	TeamID      string
	LatencyMS   int64
	ResultCount int
	Outcome     Outcome
	// ErrorClass is the boundary error name on failure, empty otherwise.
	ErrorClass string
	Timestamp  time.Time
}
