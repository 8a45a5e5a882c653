package execx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/process"
	"github.com/sharphq/sharpbot/internal/tools"
)

// ProcessTool manages sessions started by the exec tool.
type ProcessTool struct {
	Processes *process.Manager
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background sessions: list, poll, log, write, kill, clear, remove."
}

func (t *ProcessTool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"action": map[string]any{
			"type":        "string",
			"enum":        []string{"list", "poll", "log", "write", "kill", "clear", "remove"},
			"description": "What to do",
		},
		"session_id": tools.StringProp("Target session id (all actions except list and clear)"),
		"data":       tools.StringProp("Data to write to stdin (write action)"),
		"eof":        map[string]any{"type": "boolean", "description": "Close stdin after writing"},
		"offset":     map[string]any{"type": "integer", "description": "Log start line; negative counts from the end"},
		"limit":      map[string]any{"type": "integer", "description": "Max log lines"},
	}, "action")
}

func (t *ProcessTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)

	switch action {
	case "list":
		infos := t.Processes.List()
		if len(infos) == 0 {
			return "No sessions.", nil
		}
		var sb strings.Builder
		for _, info := range infos {
			status := info.Status
			if status == "exited" {
				status = fmt.Sprintf("exited (%d)", info.ExitCode)
			}
			fmt.Fprintf(&sb, "%s  %-8s  pid=%d  %s  (%s)\n",
				info.ID, status, info.PID, info.Name, info.StartedAt.Format(time.TimeOnly))
		}
		return strings.TrimRight(sb.String(), "\n"), nil

	case "clear":
		n := t.Processes.ClearFinished()
		return fmt.Sprintf("Removed %d finished session(s).", n), nil
	}

	id, _ := args["session_id"].(string)
	if id == "" {
		return "", fmt.Errorf("session_id is required for %s", action)
	}
	session, ok := t.Processes.Get(id)
	if !ok && action != "remove" {
		return "", fmt.Errorf("session not found: %s", id)
	}

	switch action {
	case "poll":
		out := session.PollNewOutput()
		if out == "" {
			if session.Exited() {
				return fmt.Sprintf("(no new output; exited with code %d)", session.ExitCode()), nil
			}
			return "(no new output; still running)", nil
		}
		return out, nil

	case "log":
		return session.Log(intArg(args, "offset"), intArg(args, "limit")), nil

	case "write":
		data, _ := args["data"].(string)
		eof, _ := args["eof"].(bool)
		if err := session.WriteStdin(data, eof); err != nil {
			return "", err
		}
		return "Written.", nil

	case "kill":
		session.Kill()
		return "Killed.", nil

	case "remove":
		if !t.Processes.Remove(id) {
			return "", fmt.Errorf("session not found: %s", id)
		}
		return "Removed.", nil

	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}
