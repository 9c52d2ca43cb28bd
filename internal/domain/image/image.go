package image

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxIDLength is the maximum image identifier length.
const MaxIDLength = 256

// TagSeparator joins tags in storage and may not appear inside a tag.
const TagSeparator = ","

// Record is the corpus view of an image. The retrieval engine only reads it.
type Record struct {
	ID        string
	TeamID    string
	Tags      []string
	CreatedAt time.Time
}

// ValidateID checks an image identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("image ID is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("image ID too long (max %d)", MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("image ID %q contains unsupported characters", id)
	}
	return nil
}

// ValidateTag checks a single tag.
func ValidateTag(tag string) error {
	if strings.Contains(tag, TagSeparator) {
		return fmt.Errorf("tag %q must not contain %q", tag, TagSeparator)
	}
	if strings.ContainsFunc(tag, unicode.IsControl) {
		return fmt.Errorf("tag %q contains control characters", tag)
	}
	return nil
}

// New validates and creates a Record. Tags are copied and sorted.
func New(id, teamID string, tags []string, createdAt time.Time) (Record, error) {
	if err := ValidateID(id); err != nil {
		return Record{}, err
	}
	if teamID == "" {
		return Record{}, fmt.Errorf("team ID is required for image %q", id)
	}
	for _, tag := range tags {
		if err := ValidateTag(tag); err != nil {
			return Record{}, err
		}
	}
	t := slices.Clone(tags)
	slices.Sort(t)
	return Record{ID: id, TeamID: teamID, Tags: slices.Compact(t), CreatedAt: createdAt}, nil
}

// VisibleTo reports whether the record belongs to the given team.
func (r Record) VisibleTo(teamID string) bool {
	return teamID != "" && r.TeamID == teamID
}

// ChangeKind is the type of corpus mutation.
type ChangeKind string

// Change kinds emitted by the corpus feed.
const (
	Created     ChangeKind = "created"
	Updated     ChangeKind = "updated"
	Deleted     ChangeKind = "deleted"
	TeamChanged ChangeKind = "team_changed"
)

// IsValid checks if the kind is known.
func (k ChangeKind) IsValid() bool {
	return k == Created || k == Updated || k == Deleted || k == TeamChanged
}

// Change is a single corpus notification.
// Cursor is the feed position, opaque to consumers.
type Change struct {
	ImageID string
	Kind    ChangeKind
	Cursor  string
}

// Batch is one read from the change feed. Cursor is the feed position after the last
// entry read, including entries that could not be parsed.
type Batch struct {
	Changes []Change
	Cursor  string
}
