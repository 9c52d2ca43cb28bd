// Package analytics delivers search analytics events to telemetry sinks.
//
// Emit never blocks and never fails the caller: events go into a bounded buffer
// drained by Run, and are dropped (and counted) when the buffer is full.
package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/kailas-cloud/imgdex/internal/domain/analytics"
	"github.com/kailas-cloud/imgdex/internal/metrics"
)

// DefaultBuffer is the event buffer size when none is configured.
const DefaultBuffer = 1024

// sinkTimeout bounds a single sink write.
const sinkTimeout = 2 * time.Second

// Sink receives analytics events.
type Sink interface {
	Write(ctx context.Context, ev domain.Event) error
}

// Emitter buffers events and fans them out to sinks from a single goroutine.
type Emitter struct {
	events chan domain.Event
	sinks  []Sink
	logger *zap.Logger
}

// NewEmitter creates an emitter. A non-positive buffer falls back to DefaultBuffer.
func NewEmitter(buffer int, logger *zap.Logger, sinks ...Sink) *Emitter {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		events: make(chan domain.Event, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

// Emit enqueues ev without blocking. Missing ID and Timestamp are filled in.
func (e *Emitter) Emit(ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case e.events <- ev:
		metrics.AnalyticsEventsTotal.WithLabelValues("emitted").Inc()
	default:
		metrics.AnalyticsEventsTotal.WithLabelValues("dropped").Inc()
		e.logger.Debug("Analytics buffer full, event dropped", zap.String("event_id", ev.ID))
	}
}

// Run delivers events until ctx is cancelled, then drains what is already buffered.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-e.events:
			e.deliver(ev)
		case <-ctx.Done():
			e.drain()
			return nil
		}
	}
}

func (e *Emitter) drain() {
	for {
		select {
		case ev := <-e.events:
			e.deliver(ev)
		default:
			return
		}
	}
}

func (e *Emitter) deliver(ev domain.Event) {
	for _, s := range e.sinks {
		// detached from the request context
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := s.Write(ctx, ev)
		cancel()
		if err != nil {
			metrics.AnalyticsEventsTotal.WithLabelValues("sink_error").Inc()
			e.logger.Warn("Analytics sink failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
}
