// Package providers implements the agent.Provider contract for the LLM
// backends sharpbot supports.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements agent.Provider on the OpenAI chat API.
// It also exposes Embed for the semantic memory layer.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional override for OpenAI-compatible endpoints
	DefaultModel string
}

// NewOpenAIProvider creates a provider. The API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: model,
	}, nil
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	choice := resp.Choices[0]
	out := &agent.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: agent.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call, err := decodeToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req *agent.ChatRequest) (<-chan agent.StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	chunks := make(chan agent.StreamChunk, 16)
	go func() {
		defer close(chunks)
		defer stream.Close()

		final := &agent.Response{}
		// Tool-call arguments arrive as JSON fragments keyed by index.
		type partialCall struct {
			id   string
			name string
			args []byte
		}
		partials := map[int]*partialCall{}
		var order []int

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				chunks <- agent.StreamChunk{Err: fmt.Errorf("openai: stream: %w", err)}
				return
			}
			if resp.Usage != nil {
				final.Usage = agent.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				final.FinishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				final.Content += choice.Delta.Content
				chunks <- agent.StreamChunk{TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc := partials[idx]
				if pc == nil {
					pc = &partialCall{}
					partials[idx] = pc
					order = append(order, idx)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args = append(pc.args, tc.Function.Arguments...)
			}
		}

		for _, idx := range order {
			pc := partials[idx]
			call, err := decodeToolCall(pc.id, pc.name, string(pc.args))
			if err != nil {
				chunks <- agent.StreamChunk{Err: err}
				return
			}
			final.ToolCalls = append(final.ToolCalls, call)
		}
		chunks <- agent.StreamChunk{Response: final}
	}()
	return chunks, nil
}

// Embed returns the embedding vector for content, for the semantic
// memory layer.
func (p *OpenAIProvider) Embed(ctx context.Context, model, content string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{content},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.ChatRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	for _, def := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

func toOpenAIMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		oai := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == models.RoleTool {
			oai.ToolCallID = m.ToolCallID
			oai.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.ArgumentsJSON()),
				},
			})
		}
		out = append(out, oai)
	}
	return out
}

func decodeToolCall(id, name, rawArgs string) (models.ToolCall, error) {
	call := models.ToolCall{ID: id, Name: name, Arguments: map[string]any{}}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &call.Arguments); err != nil {
			return call, fmt.Errorf("openai: decode tool arguments for %s: %w", name, err)
		}
	}
	return call, nil
}
