package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider implements agent.Provider on the Anthropic messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider creates a provider. The API key is required.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages: %w", err)
	}

	out := &agent.Response{
		FinishReason: string(msg.StopReason),
		Usage: agent.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(variant.Input) > 0 {
				if err := json.Unmarshal(variant.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool input for %s: %w", variant.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req *agent.ChatRequest) (<-chan agent.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer stream.Close()

		final := &agent.Response{}
		var text strings.Builder
		var currentCall *models.ToolCall
		var currentInput strings.Builder

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				final.Usage.PromptTokens = int(start.Message.Usage.InputTokens)
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					use := block.AsToolUse()
					currentCall = &models.ToolCall{ID: use.ID, Name: use.Name}
					currentInput.Reset()
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						text.WriteString(delta.Text)
						chunks <- agent.StreamChunk{TextDelta: delta.Text}
					}
				case "input_json_delta":
					currentInput.WriteString(delta.PartialJSON)
				}
			case "content_block_stop":
				if currentCall != nil {
					args := map[string]any{}
					if raw := currentInput.String(); raw != "" {
						if err := json.Unmarshal([]byte(raw), &args); err != nil {
							chunks <- agent.StreamChunk{Err: fmt.Errorf("anthropic: decode tool input for %s: %w", currentCall.Name, err)}
							return
						}
					}
					currentCall.Arguments = args
					final.ToolCalls = append(final.ToolCalls, *currentCall)
					currentCall = nil
				}
			case "message_delta":
				delta := event.AsMessageDelta()
				if delta.Usage.OutputTokens > 0 {
					final.Usage.CompletionTokens = int(delta.Usage.OutputTokens)
				}
				if delta.Delta.StopReason != "" {
					final.FinishReason = string(delta.Delta.StopReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- agent.StreamChunk{Err: fmt.Errorf("anthropic: stream: %w", err)}
			return
		}
		final.Content = text.String()
		final.Usage.TotalTokens = final.Usage.PromptTokens + final.Usage.CompletionTokens
		chunks <- agent.StreamChunk{Response: final}
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			// The system prompt is carried separately in the Anthropic API.
			params.System = append(params.System, anthropic.TextBlockParam{Type: "text", Text: m.Content})
		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			isError := strings.HasPrefix(m.Content, "Error:")
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(m.Content)))
		}
	}

	for _, def := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			return params, fmt.Errorf("anthropic: invalid tool schema for %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(def.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}
