package filter

import (
	"strings"
	"testing"
)

func TestNewMatch_Validation(t *testing.T) {
	if _, err := NewMatch("", "x"); err == nil {
		t.Error("expected error for empty key")
	}
	_, err := NewMatch(FieldTags, "")
	if err == nil || !strings.Contains(err.Error(), "tags") {
		t.Errorf("expected error naming key, got %v", err)
	}
	c, err := NewMatch(FieldTags, "cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Key() != FieldTags || c.Match() != "cat" {
		t.Errorf("unexpected condition %+v", c)
	}
}

func TestNewExpression_TooManyConditions(t *testing.T) {
	conds := make([]Condition, MaxConditionsPerGroup+1)
	for i := range conds {
		conds[i] = Condition{key: "k", match: "v"}
	}
	if _, err := NewExpression(conds, nil, nil); err == nil {
		t.Error("expected must overflow error")
	}
	if _, err := NewExpression(nil, conds, nil); err == nil {
		t.Error("expected should overflow error")
	}
	if _, err := NewExpression(nil, nil, conds); err == nil {
		t.Error("expected must_not overflow error")
	}
}

func TestScoped(t *testing.T) {
	e, err := Scoped("team-1", []string{"cat", "dog"}, []string{"img-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Must()) != 1 || e.Must()[0].Key() != FieldTeamID || e.Must()[0].Match() != "team-1" {
		t.Errorf("unexpected must: %+v", e.Must())
	}
	if len(e.Should()) != 2 {
		t.Errorf("expected 2 should conditions, got %d", len(e.Should()))
	}
	if len(e.MustNot()) != 1 || e.MustNot()[0].Key() != FieldImageID {
		t.Errorf("unexpected must_not: %+v", e.MustNot())
	}
	if e.IsEmpty() {
		t.Error("scoped expression must not be empty")
	}
}

func TestScoped_RequiresTeam(t *testing.T) {
	if _, err := Scoped("", nil, nil); err == nil {
		t.Error("expected error for missing team")
	}
}

func TestExpression_Empty(t *testing.T) {
	e, err := NewExpression(nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.IsEmpty() {
		t.Error("expected empty expression")
	}
}
