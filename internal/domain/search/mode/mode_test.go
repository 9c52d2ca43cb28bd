package mode

import "testing"

func TestMode_IsValid(t *testing.T) {
	valid := []Mode{Text, Image, SimilarToID, TagOnly}
	for _, m := range valid {
		if !m.IsValid() {
			t.Errorf("%q should be valid", m)
		}
	}
	for _, m := range []Mode{"", "hybrid", "TEXT"} {
		if m.IsValid() {
			t.Errorf("%q should be invalid", m)
		}
	}
}

func TestMode_UsesVector(t *testing.T) {
	if TagOnly.UsesVector() {
		t.Error("tag_only must not resolve a vector")
	}
	for _, m := range []Mode{Text, Image, SimilarToID} {
		if !m.UsesVector() {
			t.Errorf("%q should resolve a vector", m)
		}
	}
}
