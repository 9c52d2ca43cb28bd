package image

import (
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		team    string
		wantErr bool
	}{
		{"valid", "img_01.jpg", "team-1", false},
		{"uuid-like", "4f1c:ab-9", "team-1", false},
		{"empty id", "", "team-1", true},
		{"bad chars", "img 1", "team-1", true},
		{"missing team", "img-1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.id, tt.team, nil, time.Time{})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_TagsSortedAndDeduped(t *testing.T) {
	in := []string{"dog", "cat", "dog"}
	r, err := New("img-1", "t1", in, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Tags) != 2 || r.Tags[0] != "cat" || r.Tags[1] != "dog" {
		t.Errorf("Tags = %v", r.Tags)
	}
	if in[0] != "dog" {
		t.Error("input tags mutated")
	}
}

func TestRecord_VisibleTo(t *testing.T) {
	r := Record{ID: "img-1", TeamID: "t1"}
	if !r.VisibleTo("t1") {
		t.Error("owner team should see record")
	}
	if r.VisibleTo("t2") || r.VisibleTo("") {
		t.Error("other teams must not see record")
	}
}

func TestChangeKind_IsValid(t *testing.T) {
	for _, k := range []ChangeKind{Created, Updated, Deleted, TeamChanged} {
		if !k.IsValid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if ChangeKind("moved").IsValid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestValidateTag(t *testing.T) {
	tests := []struct {
		tag     string
		wantErr bool
	}{
		{"cat", false},
		{"black & white", false},
		{"été", false},
		{"red,blue", true},
		{"tab\there", true},
		{"nul\x00", true},
	}
	for _, tt := range tests {
		if err := ValidateTag(tt.tag); (err != nil) != tt.wantErr {
			t.Errorf("ValidateTag(%q) err = %v, wantErr %v", tt.tag, err, tt.wantErr)
		}
	}
}

func TestNew_RejectsSeparatorInTag(t *testing.T) {
	if _, err := New("img-1", "t1", []string{"cat", "red,blue"}, time.Now()); err == nil {
		t.Fatal("expected error for a tag containing the separator")
	}
}
