// Package imagebuf holds validated image bytes for the lifetime of one request.
package imagebuf

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"sync"
	"sync/atomic"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// MaxSize is the largest accepted image payload.
const MaxSize = 20 << 20

var pool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

var live atomic.Int64

// Buffer is a decoded-image buffer. Release must be called once the bytes are no longer needed.
type Buffer struct {
	buf      *bytes.Buffer
	format   string
	width    int
	height   int
	released atomic.Bool
}

// Info describes a validated image.
type Info struct {
	Format string
	Width  int
	Height int
}

// Validate checks that raw decodes to a supported raster image with pixels.
// Unsupported or empty images fail with domain.ErrInvalidInput.
func Validate(raw []byte) (Info, error) {
	if len(raw) == 0 {
		return Info{}, fmt.Errorf("%w: empty image", domain.ErrInvalidInput)
	}
	if len(raw) > MaxSize {
		return Info{}, fmt.Errorf("%w: image too large (max %d bytes)", domain.ErrInvalidInput, MaxSize)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Info{}, fmt.Errorf("%w: unsupported image format: %v", domain.ErrInvalidInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: image has no pixels", domain.ErrInvalidInput)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Decode validates raw and copies it into a pooled buffer.
func Decode(raw []byte) (*Buffer, error) {
	info, err := Validate(raw)
	if err != nil {
		return nil, err
	}

	b := pool.Get().(*bytes.Buffer)
	b.Reset()
	b.Write(raw)
	live.Add(1)

	return &Buffer{buf: b, format: info.Format, width: info.Width, height: info.Height}, nil
}

// Bytes returns the image bytes. Nil after Release.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.released.Load() {
		return nil
	}
	return b.buf.Bytes()
}

// Format returns the decoder name (png, jpeg, gif).
func (b *Buffer) Format() string { return b.format }

// Width returns the image width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the image height in pixels.
func (b *Buffer) Height() int { return b.height }

// Release returns the buffer to the pool. Safe to call more than once and on nil.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.buf.Reset()
	pool.Put(b.buf)
	b.buf = nil
	live.Add(-1)
}

// Live returns the number of unreleased buffers in the process.
func Live() int64 { return live.Load() }
