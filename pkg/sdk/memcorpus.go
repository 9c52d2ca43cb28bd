package imgdex

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/image"
)

type memImage struct {
	rec  image.Record
	data []byte
}

// memCorpus keeps the corpus in process memory.
type memCorpus struct {
	mu     sync.RWMutex
	images map[string]memImage
}

func newMemCorpus() *memCorpus {
	return &memCorpus{images: map[string]memImage{}}
}

func (m *memCorpus) Record(_ context.Context, imageID string) (image.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[imageID]
	if !ok {
		return image.Record{}, fmt.Errorf("image %s: %w", imageID, domain.ErrNotFound)
	}
	rec := img.rec
	rec.Tags = slices.Clone(rec.Tags)
	return rec, nil
}

func (m *memCorpus) Bytes(_ context.Context, imageID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[imageID]
	if !ok {
		return nil, fmt.Errorf("image bytes %s: %w", imageID, domain.ErrNotFound)
	}
	return img.data, nil
}

func (m *memCorpus) Put(_ context.Context, rec image.Record, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[rec.ID] = memImage{rec: rec, data: slices.Clone(data)}
	return nil
}

func (m *memCorpus) Remove(_ context.Context, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, imageID)
	return nil
}
