package providers

import (
	"math"
	"testing"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/pkg/models"
)

func TestAnthropicBuildParamsCarriesSampling(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test"})
	if err != nil {
		t.Fatal(err)
	}

	req := &agent.ChatRequest{
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   512,
		Temperature: 0.3,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "hi"},
		},
	}
	params, err := p.buildParams(req)
	if err != nil {
		t.Fatal(err)
	}
	if params.MaxTokens != 512 {
		t.Fatalf("max tokens: %d", params.MaxTokens)
	}
	if !params.Temperature.Valid() || math.Abs(params.Temperature.Value-0.3) > 1e-6 {
		t.Fatalf("temperature not carried: %+v", params.Temperature)
	}
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Fatalf("system prompt: %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Fatalf("messages: %+v", params.Messages)
	}

	// Zero means "not set"; the API default applies.
	req.Temperature = 0
	params, err = p.buildParams(req)
	if err != nil {
		t.Fatal(err)
	}
	if params.Temperature.Valid() {
		t.Fatalf("zero temperature should stay unset: %+v", params.Temperature)
	}
}
