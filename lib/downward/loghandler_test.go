// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func readAll(t *testing.T, buffer *bytes.Buffer) []Event {
	t.Helper()
	// Append an EndEvent so ReadEvents terminates cleanly.
	if err := EncodingBinary.Codec().Write(buffer, EndEvent{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var events []Event
	if err := ReadEvents(buffer, nil, func(event Event) {
		if _, end := event.(EndEvent); !end {
			events = append(events, event)
		}
	}); err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	return events
}

func TestLogHandlerForwardsRecords(t *testing.T) {
	var buffer bytes.Buffer
	writer, err := NewEventWriter(&buffer, nil, EncodingBinary)
	if err != nil {
		t.Fatalf("NewEventWriter: %v", err)
	}
	handler := NewLogHandler(writer, LogHandlerOptions{ActionID: "a1", LoggerName: "external", Level: slog.LevelInfo})
	logger := slog.New(handler).With("build", "b1").WithGroup("step")

	logger.Debug("dropped")
	logger.Warn("copying", "source", "in.txt", slog.Group("limits", "bytes", 10))

	events := readAll(t, &buffer)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	event, ok := events[0].(LogEvent)
	if !ok {
		t.Fatalf("event = %T, want LogEvent", events[0])
	}
	if event.ActionID != "a1" || event.LoggerName != "external" || event.Level != "WARN" || event.Message != "copying" {
		t.Errorf("unexpected event header: %+v", event)
	}
	want := map[string]string{"build": "b1", "step.source": "in.txt", "step.limits.bytes": "10"}
	for key, value := range want {
		if event.Attributes[key] != value {
			t.Errorf("attribute %q = %q, want %q (all: %v)", key, event.Attributes[key], value, event.Attributes)
		}
	}
	if event.TimestampMS == 0 {
		t.Error("timestamp not set")
	}
}

func TestLogHandlerDetachSilencesDerivedLoggers(t *testing.T) {
	var buffer bytes.Buffer
	writer, err := NewEventWriter(&buffer, nil, EncodingBinary)
	if err != nil {
		t.Fatalf("NewEventWriter: %v", err)
	}
	handler := NewLogHandler(writer, LogHandlerOptions{})
	derived := slog.New(handler).With("k", "v")

	handler.Detach()
	derived.Error("after detach")
	if handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("detached handler reports Enabled")
	}

	if events := readAll(t, &buffer); len(events) != 0 {
		t.Errorf("detached handler forwarded %d events", len(events))
	}
}

func TestForwardLogReplaysAtEventLevel(t *testing.T) {
	var output strings.Builder
	logger := slog.New(slog.NewTextHandler(&output, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ForwardLog(context.Background(), logger, LogEvent{Level: "INFO", Message: "quiet"})
	ForwardLog(context.Background(), logger, LogEvent{ActionID: "a1", Level: "ERROR", Message: "loud", Attributes: map[string]string{"path": "x"}})

	text := output.String()
	if strings.Contains(text, "quiet") {
		t.Errorf("info record passed a warn-level logger: %s", text)
	}
	for _, fragment := range []string{"level=ERROR", "msg=loud", "action_id=a1", "path=x"} {
		if !strings.Contains(text, fragment) {
			t.Errorf("output %q missing %q", text, fragment)
		}
	}
}
