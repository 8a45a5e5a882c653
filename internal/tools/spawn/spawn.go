// Package spawn lets the agent delegate a task to a subagent that runs
// concurrently and reports back on the system channel.
package spawn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/internal/tools"
)

// Tool starts a subagent per invocation. The subagent outlives the
// current turn; its result arrives as a system-channel message routed
// back to the originating chat.
type Tool struct {
	Subagent *agent.Subagent
	ToolCtx  *tools.Context
	Logger   *slog.Logger
}

func (t *Tool) Name() string { return "spawn" }

func (t *Tool) Description() string {
	return "Delegate a task to a background subagent. The result arrives later as a separate message."
}

func (t *Tool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"task":  tools.StringProp("What the subagent should do, stated completely"),
		"label": tools.StringProp("Short label for the task"),
	}, "task")
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	label, _ := args["label"].(string)
	if label == "" {
		label = "subagent"
	}

	channel, chatID := t.ToolCtx.Get()

	// The subagent must survive the turn that started it.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if err := t.Subagent.Run(runCtx, task, label, channel, chatID); err != nil {
			logger := t.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("subagent failed", "label", label, "error", err)
		}
	}()

	return fmt.Sprintf("Subagent %q started. Its result will arrive as a separate message.", label), nil
}
