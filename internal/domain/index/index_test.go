package index

import "testing"

func TestNewEntry_Validation(t *testing.T) {
	vec := []float32{1, 0}
	tests := []struct {
		name    string
		id      string
		team    string
		version string
		vec     []float32
		wantErr bool
	}{
		{"valid", "img-1", "t1", "v1", vec, false},
		{"missing id", "", "t1", "v1", vec, true},
		{"missing team", "img-1", "", "v1", vec, true},
		{"missing version", "img-1", "t1", "", vec, true},
		{"empty vector", "img-1", "t1", "v1", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntry(tt.id, tt.team, nil, tt.version, tt.vec, false)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEntry() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewEntry_CopiesVector(t *testing.T) {
	vec := []float32{1, 2}
	e, err := NewEntry("img-1", "t1", []string{"cat"}, "v1", vec, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec[0] = 99
	if e.Vector[0] != 1 {
		t.Error("entry vector aliases caller slice")
	}
	if e.ProcessedAt.IsZero() {
		t.Error("ProcessedAt not set")
	}
}

func TestPolicy_String(t *testing.T) {
	p := Policy{Dimensions: 512, Normalize: true}
	if p.String() != "dims=512;normalize=true" {
		t.Errorf("String() = %q", p.String())
	}
}
