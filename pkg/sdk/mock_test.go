package imgdex

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	domimage "github.com/kailas-cloud/imgdex/internal/domain/image"
	"github.com/kailas-cloud/imgdex/internal/domain/search/query"
	"github.com/kailas-cloud/imgdex/internal/domain/search/result"
	reconcileuc "github.com/kailas-cloud/imgdex/internal/usecase/reconcile"
)

// --- searchUseCase mock ---

type mockSearchUC struct {
	searchFn func(ctx context.Context, q *query.Query) (result.Page, error)
}

func (m *mockSearchUC) Search(ctx context.Context, q *query.Query) (result.Page, error) {
	return m.searchFn(ctx, q)
}

// --- reconcileUseCase mock ---

type mockTracker struct {
	applied     []domimage.Change
	applyErr    error
	quarantined []reconcileuc.Quarantine
}

func (m *mockTracker) Apply(_ context.Context, ch domimage.Change) error {
	m.applied = append(m.applied, ch)
	return m.applyErr
}

func (m *mockTracker) RetryDue(context.Context) int { return 0 }

func (m *mockTracker) Pending() int { return 0 }

func (m *mockTracker) Retrigger(context.Context, string, string) error { return nil }

func (m *mockTracker) Quarantined(string) []reconcileuc.Quarantine { return m.quarantined }

// --- helpers ---

func testClient(searchSvc searchUseCase, tracker reconcileUseCase) *Client {
	return &Client{
		corpus:    newMemCorpus(),
		searchSvc: searchSvc,
		tracker:   tracker,
		now:       time.Now,
	}
}

// testPNG returns a distinct valid image per shade.
func testPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: shade ^ 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

type mockEmbedder struct {
	text  []float32
	image []float32
	err   error
}

func (m *mockEmbedder) EmbedText(context.Context, string) ([]float32, error) { return m.text, m.err }

func (m *mockEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) { return m.image, m.err }
