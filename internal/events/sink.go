// Package events provides EventSink implementations for lifecycle and
// delivery events.
package events

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "EventLog")}
}

func (s *LogSink) Emit(ctx context.Context, e push.Event) {
	attrs := []any{"event", e.Name, "platform", e.Platform}
	if e.EndpointRef != "" {
		attrs = append(attrs, "endpoint", e.EndpointRef)
	}
	if e.MessageID != "" {
		attrs = append(attrs, "message_id", e.MessageID)
	}
	if e.Error != "" {
		attrs = append(attrs, "err", e.Error)
		s.logger.WarnContext(ctx, "Push event", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "Push event", attrs...)
}

// Tee fans an event out to several sinks in order.
type Tee []push.EventSink

func (t Tee) Emit(ctx context.Context, e push.Event) {
	for _, s := range t {
		s.Emit(ctx, e)
	}
}
