package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/tools"
	"github.com/sharphq/sharpbot/pkg/models"
)

// DefaultSubagentIterations caps a subagent's loop.
const DefaultSubagentIterations = 15

// Subagent runs a delegated task with a minimal toolset and posts its
// result back to the bus on the system channel, chat id encoding the
// origin as "{channel}:{chatId}".
type Subagent struct {
	provider      Provider
	registry      *tools.Registry
	bus           *bus.Bus
	model         string
	maxTokens     int
	temperature   float32
	maxIterations int
	logger        *slog.Logger
}

// SubagentOptions configures a Subagent. Registry should hold only the
// minimal toolset (files, web, exec) — no messaging, no spawning.
type SubagentOptions struct {
	Provider      Provider
	Registry      *tools.Registry
	Bus           *bus.Bus
	Model         string
	MaxTokens     int
	Temperature   float32
	MaxIterations int
	Logger        *slog.Logger
}

// NewSubagent creates a subagent runner.
func NewSubagent(opts SubagentOptions) (*Subagent, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultSubagentIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Subagent{
		provider:      opts.Provider,
		registry:      opts.Registry,
		bus:           opts.Bus,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		maxIterations: opts.MaxIterations,
		logger:        opts.Logger.With("component", "subagent"),
	}, nil
}

// Run executes the task and posts the result. originChannel and
// originChatID name the conversation that spawned the subagent.
func (s *Subagent) Run(ctx context.Context, task, label, originChannel, originChatID string) error {
	started := time.Now()
	result := s.execute(ctx, task)
	s.logger.Info("subagent finished",
		"label", label,
		"duration", time.Since(started),
		"origin", originChannel+":"+originChatID)

	if s.bus == nil {
		return nil
	}
	content := fmt.Sprintf("Subagent %q finished:\n\n%s", label, result)
	return s.bus.PublishInbound(ctx, &models.InboundMessage{
		ID:         uuid.NewString(),
		Channel:    models.ChannelSystem,
		SenderID:   "subagent",
		ChatID:     originChannel + ":" + originChatID,
		Content:    content,
		ReceivedAt: time.Now(),
	})
}

func (s *Subagent) execute(ctx context.Context, task string) string {
	model := s.model
	if model == "" {
		model = s.provider.DefaultModel()
	}

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "You are a focused worker agent. Complete the assigned task using the available tools, then reply with a concise report of what you did and found. Do not ask questions; make reasonable assumptions."},
		{Role: models.RoleUser, Content: task},
	}
	defs := s.registry.Definitions()

	for i := 0; i < s.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return "Error: " + err.Error()
		}
		resp, err := s.provider.Chat(ctx, &ChatRequest{
			Model:       model,
			Messages:    messages,
			Tools:       defs,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		})
		if err != nil {
			return "Error: " + err.Error()
		}
		if !resp.HasToolCalls() {
			return resp.Content
		}
		messages = append(messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := s.registry.Execute(ctx, call.Name, call.Arguments)
			messages = append(messages, models.ChatMessage{
				Role:       models.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
	return "Error: subagent hit its iteration limit before finishing"
}
