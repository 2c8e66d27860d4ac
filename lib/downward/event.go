// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"fmt"
)

// ActionID identifies one build action within a worker connection.
// At most one completion handle per ActionID is outstanding on a
// connection at any time.
type ActionID string

// String returns the identifier.
func (id ActionID) String() string { return string(id) }

// EventType is the tag that precedes every payload on the wire.
type EventType uint8

const (
	// EndOfStream is returned by Codec.ReadEventType when the stream
	// terminates cleanly at a frame boundary. It is never written.
	EndOfStream EventType = iota

	EventTypeStepStarted
	EventTypeStepFinished
	EventTypeResult
	EventTypePipelineFinished
	EventTypeEnd
	EventTypeLog
	EventTypeExternal
)

var eventTypeNames = [...]string{
	EndOfStream:               "END_OF_STREAM",
	EventTypeStepStarted:      "STEP_STARTED",
	EventTypeStepFinished:     "STEP_FINISHED",
	EventTypeResult:           "RESULT",
	EventTypePipelineFinished: "PIPELINE_FINISHED",
	EventTypeEnd:              "END",
	EventTypeLog:              "LOG",
	EventTypeExternal:         "EXTERNAL",
}

// String returns the wire name used by the TEXT encoding.
func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Valid reports whether t may appear on the wire.
func (t EventType) Valid() bool {
	return t >= EventTypeStepStarted && t <= EventTypeExternal
}

// ParseEventType maps a TEXT wire name back to its EventType.
func ParseEventType(name string) (EventType, error) {
	for index, candidate := range eventTypeNames {
		eventType := EventType(index)
		if candidate == name && eventType.Valid() {
			return eventType, nil
		}
	}
	return EndOfStream, fmt.Errorf("unknown event type %q", name)
}

// Event is the closed set of payloads carried by the protocol. Each
// payload type reports the tag it travels under.
type Event interface {
	EventType() EventType
}

// StepStartedEvent reports that a step of an action began executing.
type StepStartedEvent struct {
	ActionID    ActionID `json:"action_id"`
	StepID      int      `json:"step_id"`
	StepType    string   `json:"step_type"`
	Description string   `json:"description,omitempty"`
	TimestampMS int64    `json:"timestamp_ms"`
}

// StepFinishedEvent reports that a step finished, successfully or not.
type StepFinishedEvent struct {
	ActionID    ActionID `json:"action_id"`
	StepID      int      `json:"step_id"`
	StepType    string   `json:"step_type"`
	Description string   `json:"description,omitempty"`
	TimestampMS int64    `json:"timestamp_ms"`
	DurationMS  int64    `json:"duration_ms"`
	ExitCode    int      `json:"exit_code"`
}

// ResultEvent reports the outcome of one action. Exactly one is sent
// per action.
type ResultEvent struct {
	ActionID ActionID `json:"action_id"`
	ExitCode int      `json:"exit_code"`

	// Stderr is the captured standard error of the failing step.
	Stderr string `json:"stderr,omitempty"`

	// Cause is the human-readable failure cause. Empty on success.
	Cause string `json:"cause,omitempty"`
}

// Success reports whether the action exited zero.
func (e ResultEvent) Success() bool { return e.ExitCode == 0 }

// PipelineFinishedEvent marks that every action of a pipelined batch
// has reported its ResultEvent. It is always the batch's last event.
type PipelineFinishedEvent struct {
	ActionIDs []ActionID `json:"action_ids"`
}

// EndEvent terminates a connection.
type EndEvent struct{}

// LogEvent carries one log record from the worker.
type LogEvent struct {
	ActionID    ActionID          `json:"action_id,omitempty"`
	Level       string            `json:"level"`
	LoggerName  string            `json:"logger_name,omitempty"`
	Message     string            `json:"message"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	TimestampMS int64             `json:"timestamp_ms"`
}

// ExternalEvent carries free-form key/value data for the orchestrator's
// event bus.
type ExternalEvent struct {
	Data map[string]string `json:"data"`
}

func (StepStartedEvent) EventType() EventType { return EventTypeStepStarted }
func (StepFinishedEvent) EventType() EventType { return EventTypeStepFinished }
func (ResultEvent) EventType() EventType { return EventTypeResult }
func (PipelineFinishedEvent) EventType() EventType { return EventTypePipelineFinished }
func (EndEvent) EventType() EventType { return EventTypeEnd }
func (LogEvent) EventType() EventType { return EventTypeLog }
func (ExternalEvent) EventType() EventType { return EventTypeExternal }

// decodeEvent decodes a payload of type eventType. This is the single
// exhaustive dispatch over the event set; unmarshal is the
// encoding-specific payload decoder.
func decodeEvent(eventType EventType, unmarshal func(any) error) (Event, error) {
	switch eventType {
	case EventTypeStepStarted:
		return decodeAs[StepStartedEvent](unmarshal)
	case EventTypeStepFinished:
		return decodeAs[StepFinishedEvent](unmarshal)
	case EventTypeResult:
		return decodeAs[ResultEvent](unmarshal)
	case EventTypePipelineFinished:
		return decodeAs[PipelineFinishedEvent](unmarshal)
	case EventTypeEnd:
		return decodeAs[EndEvent](unmarshal)
	case EventTypeLog:
		return decodeAs[LogEvent](unmarshal)
	case EventTypeExternal:
		return decodeAs[ExternalEvent](unmarshal)
	default:
		return nil, protocolErrorf("cannot decode payload for event type %s", eventType)
	}
}

func decodeAs[E Event](unmarshal func(any) error) (Event, error) {
	var event E
	if err := unmarshal(&event); err != nil {
		return nil, err
	}
	return event, nil
}
