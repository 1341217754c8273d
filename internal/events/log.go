package events

import (
	"context"
	"log/slog"
)

var _ Sink = (*LogSink)(nil)

// LogSink writes events to the structured log. It is the default when no
// topic is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Publish(ctx context.Context, event Event) error {
	s.logger.InfoContext(ctx, "event",
		"eventID", event.ID,
		"eventType", event.Type,
		"entityID", event.EntityID,
		"data", event.Data,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
