// Package crontool exposes the cron service to the agent.
package crontool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/cron"
	"github.com/sharphq/sharpbot/internal/tools"
)

// Tool manages scheduled jobs. Added jobs default to firing back into
// the conversation that created them.
type Tool struct {
	Service *cron.Service
	ToolCtx *tools.Context
}

func (t *Tool) Name() string { return "cron" }

func (t *Tool) Description() string {
	return "Schedule recurring prompts: add, list, remove, run. Schedules use cron syntax (optional seconds field) or @hourly/@daily/@weekly."
}

func (t *Tool) Schema() json.RawMessage {
	return tools.ObjectSchema(map[string]any{
		"action": map[string]any{
			"type": "string",
			"enum": []string{"add", "list", "remove", "run"},
		},
		"name":     tools.StringProp("Job name (add)"),
		"schedule": tools.StringProp("Cron expression or descriptor (add)"),
		"prompt":   tools.StringProp("Prompt injected when the job fires (add)"),
		"job_id":   tools.StringProp("Job id (remove, run)"),
	}, "action")
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action, _ := args["action"].(string)

	switch action {
	case "add":
		name, _ := args["name"].(string)
		schedule, _ := args["schedule"].(string)
		prompt, _ := args["prompt"].(string)
		if schedule == "" || prompt == "" {
			return "", fmt.Errorf("schedule and prompt are required for add")
		}
		channel, chatID := t.ToolCtx.Get()
		job, err := t.Service.Add(name, schedule, prompt, channel, chatID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Scheduled %q (%s)\nJob ID: %s", job.Name, job.Schedule, job.ID), nil

	case "list":
		jobs := t.Service.Jobs()
		if len(jobs) == 0 {
			return "No scheduled jobs.", nil
		}
		var sb strings.Builder
		for _, job := range jobs {
			last := "never"
			if !job.LastRun.IsZero() {
				last = job.LastRun.Format(time.RFC3339)
			}
			fmt.Fprintf(&sb, "%s  %-16s  %s -> %s:%s  (last run %s)\n",
				job.ID, job.Schedule, job.Name, job.Channel, job.ChatID, last)
		}
		return strings.TrimRight(sb.String(), "\n"), nil

	case "remove":
		id, _ := args["job_id"].(string)
		if id == "" {
			return "", fmt.Errorf("job_id is required for remove")
		}
		if err := t.Service.Remove(id); err != nil {
			return "", err
		}
		return "Removed.", nil

	case "run":
		id, _ := args["job_id"].(string)
		if id == "" {
			return "", fmt.Errorf("job_id is required for run")
		}
		if err := t.Service.RunNow(id); err != nil {
			return "", err
		}
		return "Triggered.", nil

	default:
		return "", fmt.Errorf("unknown action: %s", action)
	}
}
