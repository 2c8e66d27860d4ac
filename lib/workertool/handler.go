// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workertool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/buildexec/lib/codec"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/step"
)

// StepHandler executes payloads that are CBOR-encoded step.Commands,
// dispatching each to the external action it names in registry.
// Relative step paths resolve against cellRoot.
func StepHandler(registry *external.Registry, cellRoot string, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return HandlerFunc(func(ctx context.Context, actionID downward.ActionID, payload codec.RawMessage, events step.EventSink) downward.ResultEvent {
		var command step.Command
		if err := codec.Unmarshal(payload, &command); err != nil {
			return step.Failure(fmt.Errorf("decoding step command: %w", err)).Event(actionID)
		}
		stepContext := &step.Context{
			CellRoot: cellRoot,
			ActionID: actionID,
			Logger:   logger.With("action_id", string(actionID)),
		}
		return registry.Execute(ctx, stepContext, &command, events).Event(actionID)
	})
}
