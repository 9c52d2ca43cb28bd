package imagebuf

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecode_PNG(t *testing.T) {
	raw := pngBytes(t, 4, 3)
	b, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Release()

	if b.Format() != "png" {
		t.Errorf("Format() = %q", b.Format())
	}
	if b.Width() != 4 || b.Height() != 3 {
		t.Errorf("size = %dx%d", b.Width(), b.Height())
	}
	if !bytes.Equal(b.Bytes(), raw) {
		t.Error("Bytes() differ from input")
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png header", pngBytes(t, 2, 2)[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRelease_Idempotent(t *testing.T) {
	before := Live()
	b, err := Decode(pngBytes(t, 1, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Live() != before+1 {
		t.Errorf("Live() = %d, want %d", Live(), before+1)
	}
	b.Release()
	b.Release()
	if Live() != before {
		t.Errorf("Live() = %d after release, want %d", Live(), before)
	}
	if b.Bytes() != nil {
		t.Error("Bytes() after Release should be nil")
	}

	var nilBuf *Buffer
	nilBuf.Release()
}
