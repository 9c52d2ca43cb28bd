package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	domain "github.com/kailas-cloud/imgdex/internal/domain/analytics"
)

// LogSink writes one canonical log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink over logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, ev domain.Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("mode", string(ev.Mode)),
		zap.String("team_id", ev.TeamID),
		zap.Int64("latency_ms", ev.LatencyMS),
		zap.Int("result_count", ev.ResultCount),
		zap.String("outcome", string(ev.Outcome)),
		zap.Time("timestamp", ev.Timestamp),
	}
	if ev.ErrorClass != "" {
		fields = append(fields, zap.String("error_class", ev.ErrorClass))
	}
	s.logger.Info("search_event", fields...)
	return nil
}

// streamStore is the consumer interface for the stream sink (ISP).
type streamStore interface {
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error)
}

// StreamSink appends events to a capped Redis stream for an external telemetry consumer.
type StreamSink struct {
	store  streamStore
	stream string
	maxLen int64
}

// NewStreamSink creates a sink appending to stream, trimmed to roughly maxLen entries.
func NewStreamSink(s streamStore, stream string, maxLen int64) *StreamSink {
	return &StreamSink{store: s, stream: stream, maxLen: maxLen}
}

// Write implements Sink.
func (s *StreamSink) Write(ctx context.Context, ev domain.Event) error {
	fields := map[string]string{
		"event_id":     ev.ID,
		"mode":         string(ev.Mode),
		"team_id":      ev.TeamID,
		"latency_ms":   strconv.FormatInt(ev.LatencyMS, 10),
		"result_count": strconv.Itoa(ev.ResultCount),
		"outcome":      string(ev.Outcome),
		"timestamp":    ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if ev.ErrorClass != "" {
		fields["error_class"] = ev.ErrorClass
	}
	if _, err := s.store.XAdd(ctx, s.stream, s.maxLen, fields); err != nil {
		return fmt.Errorf("analytics xadd %s: %w", s.stream, err)
	}
	return nil
}
