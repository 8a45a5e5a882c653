// Package agent implements the turn loop that connects inbound
// messages, the LLM provider, and the tool registry.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sharphq/sharpbot/internal/compaction"
	"github.com/sharphq/sharpbot/internal/config"
	"github.com/sharphq/sharpbot/internal/prompt"
	"github.com/sharphq/sharpbot/internal/sessions"
	"github.com/sharphq/sharpbot/internal/skills"
	"github.com/sharphq/sharpbot/internal/tools"
	"github.com/sharphq/sharpbot/pkg/models"
)

// MaxIterationsContent is returned when the loop exhausts its
// iteration cap without a tool-free response.
const MaxIterationsContent = "I wasn't able to finish that within my step budget. The work so far is preserved; ask me to continue if you'd like."

// Loop runs agent turns. One Loop serves all sessions; turns for the
// same session must not overlap (the service consumes the inbound
// queue sequentially).
type Loop struct {
	provider  Provider
	registry  *tools.Registry
	store     sessions.Store
	prompts   *prompt.Builder
	compactor *compaction.Compactor
	skills    *skills.Manager
	toolCtx   *tools.Context

	model          string
	maxTokens      int
	temperature    float32
	modelOverrides map[string]config.ModelOverride
	maxIterations  int
	maxHistory     int

	observer func(Telemetry)
	logger   *slog.Logger
}

// Options configures a Loop.
type Options struct {
	Provider  Provider
	Registry  *tools.Registry
	Store     sessions.Store
	Prompts   *prompt.Builder
	Compactor *compaction.Compactor

	// Skills enables per-turn env injection. Optional.
	Skills *skills.Manager

	// ToolCtx receives the turn's (channel, chatID). Optional.
	ToolCtx *tools.Context

	Model          string
	MaxTokens      int
	Temperature    float32
	ModelOverrides map[string]config.ModelOverride
	MaxIterations  int
	MaxHistory     int

	// Observer receives per-turn telemetry. Optional.
	Observer func(Telemetry)

	Logger *slog.Logger
}

// New creates a Loop.
func New(opts Options) (*Loop, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.Store == nil {
		opts.Store = sessions.NewMemoryStore()
	}
	if opts.Prompts == nil {
		opts.Prompts = &prompt.Builder{}
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		provider:       opts.Provider,
		registry:       opts.Registry,
		store:          opts.Store,
		prompts:        opts.Prompts,
		compactor:      opts.Compactor,
		skills:         opts.Skills,
		toolCtx:        opts.ToolCtx,
		model:          opts.Model,
		maxTokens:      opts.MaxTokens,
		temperature:    opts.Temperature,
		modelOverrides: opts.ModelOverrides,
		maxIterations:  opts.MaxIterations,
		maxHistory:     opts.MaxHistory,
		observer:       opts.Observer,
		logger:         opts.Logger.With("component", "agent"),
	}, nil
}

// ProcessMessage runs one turn and returns the outbound reply.
func (l *Loop) ProcessMessage(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error) {
	return l.run(ctx, msg, nil)
}

// ProcessStream runs one turn, emitting StreamEvents as it goes. The
// events channel is closed when the turn finishes.
func (l *Loop) ProcessStream(ctx context.Context, msg *models.InboundMessage, events chan<- StreamEvent) (*models.OutboundMessage, error) {
	defer close(events)
	emit := func(ev StreamEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	return l.run(ctx, msg, emit)
}

func (l *Loop) run(ctx context.Context, msg *models.InboundMessage, emit func(StreamEvent)) (out *models.OutboundMessage, err error) {
	started := time.Now()

	// Subagents report results on the system channel with the origin
	// encoded in the chat id; route the reply back to where the
	// conversation lives.
	channel, chatID := msg.Channel, msg.ChatID
	if channel == models.ChannelSystem {
		channel, chatID = parseOrigin(msg.ChatID)
	}
	sessionKey := channel + ":" + chatID

	if l.toolCtx != nil {
		l.toolCtx.Set(channel, chatID)
	}

	tel := Telemetry{SessionKey: sessionKey, Channel: channel, Model: l.model}
	defer func() {
		tel.Duration = time.Since(started)
		tel.Failed = err != nil
		if l.observer != nil {
			l.observer(tel)
		}
	}()

	if l.skills != nil {
		restore := l.skills.AcquireEnv()
		defer restore()
	}

	session, err := l.store.GetOrCreate(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionKey, err)
	}
	history := sessions.TailWithoutSystem(session.Messages, l.maxHistory)

	systemPrompt := l.prompts.Build(ctx, channel, chatID, msg.Content)
	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: msg.Content})

	// turn collects everything this turn produces — the user message,
	// any assistant-with-tool_calls and tool messages, and the final
	// assistant message — so the persisted log keeps the full exchange
	// even when compaction rewrites the in-flight slice.
	turn := []models.ChatMessage{{Role: models.RoleUser, Content: msg.Content}}

	defs := l.registry.Definitions()
	model := l.model
	if model == "" {
		model = l.provider.DefaultModel()
	}
	tel.Model = model
	maxTokens, temperature := l.resolveParams(model)

	var finalContent string
	streamingText := true
	done := false

	for i := 0; i < l.maxIterations && !done; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tel.Iterations = i + 1

		if l.compactor != nil {
			compacted, did := l.compactor.CompactIfNeeded(ctx, messages, model)
			if did {
				messages = compacted
				tel.Compactions++
				l.logger.Info("compacted conversation", "session", sessionKey, "messages", len(messages))
				if emit != nil {
					emit(StreamEvent{Type: EventStatus, Status: "Summarizing earlier conversation to stay within the context window"})
				}
			}
		}

		req := &ChatRequest{
			Model:       model,
			Messages:    messages,
			Tools:       defs,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}

		var resp *Response
		if emit != nil && streamingText {
			resp, err = l.chatStreaming(ctx, req, emit)
		} else {
			resp, err = l.provider.Chat(ctx, req)
		}
		if err != nil {
			return nil, fmt.Errorf("llm call: %w", err)
		}
		tel.PromptTokens += resp.Usage.PromptTokens
		tel.CompletionTokens += resp.Usage.CompletionTokens

		if !resp.HasToolCalls() {
			finalContent = resp.Content
			done = true
			break
		}

		// Once tools come into play, later iterations only stream tool
		// events; the final text arrives whole in the completed event.
		streamingText = false

		assistantCall := models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantCall)
		turn = append(turn, assistantCall)

		for _, call := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tel.ToolCalls++
			if emit != nil {
				emit(StreamEvent{Type: EventToolStart, ToolName: call.Name})
			}
			result := l.registry.Execute(ctx, call.Name, call.Arguments)
			if emit != nil {
				emit(StreamEvent{Type: EventToolEnd, ToolName: call.Name, ToolResult: result})
			}
			toolMsg := models.ChatMessage{
				Role:       models.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			}
			messages = append(messages, toolMsg)
			turn = append(turn, toolMsg)
		}
	}

	if !done {
		finalContent = MaxIterationsContent
		tel.MaxedOut = true
		l.logger.Warn("turn hit iteration cap", "session", sessionKey, "iterations", l.maxIterations)
	}

	turn = append(turn, models.ChatMessage{Role: models.RoleAssistant, Content: finalContent})
	session.Append(turn...)
	if err := l.store.Save(ctx, session); err != nil {
		l.logger.Error("saving session failed", "session", sessionKey, "error", err)
	}

	if emit != nil {
		emit(StreamEvent{Type: EventCompleted, Content: finalContent, Stats: tel})
	}

	return &models.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: finalContent,
		ReplyTo: msg.ID,
	}, nil
}

// chatStreaming drains a provider stream, forwarding text deltas.
func (l *Loop) chatStreaming(ctx context.Context, req *ChatRequest, emit func(StreamEvent)) (*Response, error) {
	chunks, err := l.provider.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var final *Response
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return nil, chunk.Err
		case chunk.Response != nil:
			final = chunk.Response
		case chunk.TextDelta != "":
			emit(StreamEvent{Type: EventTextDelta, Delta: chunk.TextDelta})
		}
	}
	if final == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("stream ended without terminal response")
	}
	return final, nil
}

// resolveParams applies per-model overrides: exact match first, then
// case-insensitive substring match.
func (l *Loop) resolveParams(model string) (maxTokens int, temperature float32) {
	maxTokens, temperature = l.maxTokens, l.temperature

	if override, ok := l.modelOverrides[model]; ok {
		return applyOverride(maxTokens, temperature, override)
	}
	lower := strings.ToLower(model)
	for key, override := range l.modelOverrides {
		if strings.Contains(lower, strings.ToLower(key)) {
			return applyOverride(maxTokens, temperature, override)
		}
	}
	return maxTokens, temperature
}

func applyOverride(maxTokens int, temperature float32, o config.ModelOverride) (int, float32) {
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	return maxTokens, temperature
}

// parseOrigin decodes a system-channel chat id of the form
// "{channel}:{chatId}". Malformed values fall back to the CLI channel.
func parseOrigin(encoded string) (channel, chatID string) {
	if idx := strings.Index(encoded, ":"); idx > 0 && idx < len(encoded)-1 {
		return encoded[:idx], encoded[idx+1:]
	}
	return models.ChannelCLI, models.DefaultChatID
}
