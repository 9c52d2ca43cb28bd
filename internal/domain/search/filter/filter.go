package filter

import "fmt"

// MaxConditionsPerGroup is the maximum number of conditions per filter group.
const MaxConditionsPerGroup = 32

// Indexed metadata fields usable in a pre-filter.
const (
	FieldTeamID       = "team_id"
	FieldTags         = "tags"
	FieldImageID      = "image_id"
	FieldModelVersion = "model_version"
)

// Expression is a structured filter with must/should/must_not boolean semantics.
// Should conditions are OR-ed together; the group as a whole is AND-ed with must.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates a filter Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	if len(must) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(should) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many should conditions (max %d)", MaxConditionsPerGroup)
	}
	if len(mustNot) > MaxConditionsPerGroup {
		return Expression{}, fmt.Errorf("too many must_not conditions (max %d)", MaxConditionsPerGroup)
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// Scoped builds the standard retrieval pre-filter: a mandatory team match,
// any-of the given tags, and exclusion of the listed image ids.
func Scoped(teamID string, tags, excludeIDs []string) (Expression, error) {
	team, err := NewMatch(FieldTeamID, teamID)
	if err != nil {
		return Expression{}, fmt.Errorf("team scope: %w", err)
	}
	should := make([]Condition, 0, len(tags))
	for _, t := range tags {
		c, err := NewMatch(FieldTags, t)
		if err != nil {
			return Expression{}, err
		}
		should = append(should, c)
	}
	mustNot := make([]Condition, 0, len(excludeIDs))
	for _, id := range excludeIDs {
		c, err := NewMatch(FieldImageID, id)
		if err != nil {
			return Expression{}, err
		}
		mustNot = append(mustNot, c)
	}
	return NewExpression([]Condition{team}, should, mustNot)
}

// Must returns the must conditions.
func (e Expression) Must() []Condition { return e.must }

// Should returns the should conditions.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns the must-not conditions.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// Condition is a single exact tag match clause.
type Condition struct {
	key   string
	match string
}

// NewMatch creates an exact tag match condition.
func NewMatch(key, match string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if match == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, match: match}, nil
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }
