package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/pkg/models"
)

func TestObserveTurn(t *testing.T) {
	m := New(nil)

	m.ObserveTurn(agent.Telemetry{
		Channel:          "telegram",
		Duration:         3 * time.Second,
		ToolCalls:        2,
		PromptTokens:     1200,
		CompletionTokens: 300,
		Compactions:      1,
	})
	m.ObserveTurn(agent.Telemetry{Channel: "telegram", Failed: true})
	m.ObserveTurn(agent.Telemetry{Channel: "slack", MaxedOut: true})

	expected := `
		# HELP sharpbot_turns_total Agent turns by channel and outcome
		# TYPE sharpbot_turns_total counter
		sharpbot_turns_total{channel="slack",status="maxed_out"} 1
		sharpbot_turns_total{channel="telegram",status="error"} 1
		sharpbot_turns_total{channel="telegram",status="success"} 1
	`
	if err := testutil.CollectAndCompare(m.Turns, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
	if got := testutil.ToFloat64(m.ToolCalls); got != 2 {
		t.Errorf("tool calls: %v", got)
	}
	if got := testutil.ToFloat64(m.Tokens.WithLabelValues("prompt")); got != 1200 {
		t.Errorf("prompt tokens: %v", got)
	}
}

func TestQueueDepthGauges(t *testing.T) {
	b := bus.New(4)
	m := New(b)

	ctx := context.Background()
	b.PublishInbound(ctx, &models.InboundMessage{ID: "1", Channel: "cli"})
	b.PublishInbound(ctx, &models.InboundMessage{ID: "2", Channel: "cli"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sharpbot_inbound_queue_depth 2") {
		t.Fatalf("gauge missing:\n%s", rec.Body.String())
	}
}

func TestMessageCounters(t *testing.T) {
	m := New(nil)
	m.MessageReceived("telegram")
	m.MessageReceived("telegram")
	m.MessageSent("telegram")

	if got := testutil.ToFloat64(m.Messages.WithLabelValues("telegram", "inbound")); got != 2 {
		t.Errorf("inbound: %v", got)
	}
	if got := testutil.ToFloat64(m.Messages.WithLabelValues("telegram", "outbound")); got != 1 {
		t.Errorf("outbound: %v", got)
	}
}

// Two instances must not collide on a shared registry.
func TestNewIsIsolated(t *testing.T) {
	_ = New(nil)
	_ = New(nil)
}
