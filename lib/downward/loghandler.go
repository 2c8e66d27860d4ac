// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
)

// LogHandlerOptions configures a LogHandler.
type LogHandlerOptions struct {
	// ActionID is stamped on every LogEvent.
	ActionID ActionID

	// LoggerName is carried as LogEvent.LoggerName.
	LoggerName string

	// Level is the minimum forwarded level. Nil means slog.LevelInfo.
	Level slog.Leveler
}

// LogHandler forwards slog records to the orchestrator as LogEvents.
// Handlers derived with WithAttrs and WithGroup share the parent's
// writer, so Detach on any of them silences all of them.
type LogHandler struct {
	sink       *logSink
	actionID   ActionID
	loggerName string
	level      slog.Leveler
	attrs      []slog.Attr
	prefix     string
}

type logSink struct {
	writer atomic.Pointer[EventWriter]
}

// NewLogHandler returns a handler writing to writer.
func NewLogHandler(writer *EventWriter, options LogHandlerOptions) *LogHandler {
	sink := &logSink{}
	sink.writer.Store(writer)
	level := options.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &LogHandler{
		sink:       sink,
		actionID:   options.ActionID,
		loggerName: options.LoggerName,
		level:      level,
	}
}

// Detach stops forwarding. Records handled afterwards are dropped.
func (h *LogHandler) Detach() {
	h.sink.writer.Store(nil)
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.sink.writer.Load() != nil && level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(_ context.Context, record slog.Record) error {
	writer := h.sink.writer.Load()
	if writer == nil {
		return nil
	}

	event := LogEvent{
		ActionID:    h.actionID,
		Level:       record.Level.String(),
		LoggerName:  h.loggerName,
		Message:     record.Message,
		TimestampMS: record.Time.UnixMilli(),
	}
	if len(h.attrs) > 0 || record.NumAttrs() > 0 {
		event.Attributes = make(map[string]string, len(h.attrs)+record.NumAttrs())
		for _, attr := range h.attrs {
			flattenAttr(event.Attributes, "", attr)
		}
		record.Attrs(func(attr slog.Attr) bool {
			flattenAttr(event.Attributes, h.prefix, attr)
			return true
		})
	}
	return writer.Write(event)
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func flattenAttr(into map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			flattenAttr(into, groupPrefix, member)
		}
		return
	}
	into[prefix+attr.Key] = attr.Value.String()
}

// ForwardLog replays a LogEvent received from a worker into logger at
// the event's level. Unknown level names are logged at Info.
func ForwardLog(ctx context.Context, logger *slog.Logger, event LogEvent) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(event.Level))); err != nil {
		level = slog.LevelInfo
	}
	if !logger.Enabled(ctx, level) {
		return
	}
	args := make([]any, 0, 2*len(event.Attributes)+4)
	if event.ActionID != "" {
		args = append(args, "action_id", string(event.ActionID))
	}
	if event.LoggerName != "" {
		args = append(args, "logger", event.LoggerName)
	}
	for key, value := range event.Attributes {
		args = append(args, key, value)
	}
	logger.Log(ctx, level, event.Message, args...)
}
