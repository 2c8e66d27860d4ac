// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workertool

import (
	"fmt"

	"github.com/bureau-foundation/buildexec/lib/codec"
	"github.com/bureau-foundation/buildexec/lib/downward"
)

// EnvCommandPipe names the environment variable holding the command
// pipe path. The event pipe uses the external action contract's
// BUREAU_EVENT_PIPE.
const EnvCommandPipe = "BUREAU_COMMAND_PIPE"

// CommandType discriminates command envelopes.
type CommandType string

const (
	// CommandExecute runs one action.
	CommandExecute CommandType = "execute"

	// CommandExecutePipelining runs an ordered batch of actions.
	CommandExecutePipelining CommandType = "execute_pipelining"

	// CommandStartNext releases the named queued action of a batch.
	CommandStartNext CommandType = "start_next"

	// CommandShutdown asks the worker to finish in-flight actions,
	// send its EndEvent, and exit.
	CommandShutdown CommandType = "shutdown"
)

// Command is the envelope sent to a worker. Payloads stay encoded so
// that the envelope decodes without knowing the action schema.
type Command struct {
	Type      CommandType         `cbor:"type"`
	ActionID  downward.ActionID   `cbor:"action_id,omitempty"`
	ActionIDs []downward.ActionID `cbor:"action_ids,omitempty"`
	Payload   codec.RawMessage    `cbor:"payload,omitempty"`
	Payloads  []codec.RawMessage  `cbor:"payloads,omitempty"`
}

// Validate checks that the fields required by the command type are
// present.
func (c *Command) Validate() error {
	switch c.Type {
	case CommandExecute:
		if c.ActionID == "" {
			return fmt.Errorf("%s command has no action_id", c.Type)
		}
	case CommandExecutePipelining:
		if len(c.ActionIDs) == 0 {
			return fmt.Errorf("%s command has no action_ids", c.Type)
		}
		if len(c.Payloads) != len(c.ActionIDs) {
			return fmt.Errorf("%s command has %d payloads for %d actions", c.Type, len(c.Payloads), len(c.ActionIDs))
		}
		seen := make(map[downward.ActionID]bool, len(c.ActionIDs))
		for _, id := range c.ActionIDs {
			if id == "" {
				return fmt.Errorf("%s command has an empty action id", c.Type)
			}
			if seen[id] {
				return fmt.Errorf("%s command repeats action %s", c.Type, id)
			}
			seen[id] = true
		}
	case CommandStartNext:
		if c.ActionID == "" {
			return fmt.Errorf("%s command has no action_id", c.Type)
		}
	case CommandShutdown:
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}
