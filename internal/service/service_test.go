package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/internal/approval"
	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/config"
	"github.com/sharphq/sharpbot/internal/metrics"
	"github.com/sharphq/sharpbot/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Workspace = t.TempDir()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "test-key"
	cfg.Cron.Enabled = true
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	s, err := New(testConfig(t), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, name := range []string{
		"read_file", "write_file", "edit_file", "list_dir",
		"exec", "process",
		"web_search", "web_fetch", "http_request",
		"message", "spawn", "cron", "load_skill",
	} {
		if !s.Registry.Has(name) {
			t.Errorf("tool %s not registered", name)
		}
	}
	// Memory disabled by default; its tools stay out.
	if s.Registry.Has("memory_search") || s.Registry.Has("memory_index") {
		t.Error("memory tools registered without memory store")
	}
	if s.Loop == nil || s.Subagent == nil || s.Heartbeat == nil || s.Cron == nil {
		t.Fatal("core components missing")
	}
	if s.Browser != nil {
		t.Error("browser manager built while disabled")
	}
}

func TestNewDegradedOnProviderConfigError(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "watson"
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("provider misconfig should not abort startup: %v", err)
	}
	defer s.Close()

	if s.Ready() {
		t.Fatal("service reported ready without a provider")
	}
	if s.StartupErr() == nil {
		t.Fatal("startup error not recorded")
	}
	if s.Loop != nil || s.Heartbeat != nil {
		t.Fatal("agent components built without a provider")
	}

	rec := httptest.NewRecorder()
	s.statusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code: %d", rec.Code)
	}
	var body struct {
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Ready || !strings.Contains(body.Error, "watson") {
		t.Fatalf("status body: %+v", body)
	}

	// Messages that arrive while degraded still get an answer.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.consumeLoop(ctx)
	if err := s.Bus.PublishInbound(ctx, &models.InboundMessage{
		ID: "m1", Channel: "cli", ChatID: "direct", Content: "hi",
	}); err != nil {
		t.Fatal(err)
	}
	out, ok := s.Bus.TryConsumeOutbound(ctx, 3*time.Second)
	if !ok {
		t.Fatal("no reply while degraded")
	}
	if !strings.Contains(out.Content, "isn't configured") {
		t.Fatalf("reply: %q", out.Content)
	}
}

// failingProvider errors on every call, standing in for a provider
// outage.
type failingProvider struct{}

func (failingProvider) Name() string         { return "failing" }
func (failingProvider) DefaultModel() string { return "test-model" }

func (failingProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Response, error) {
	return nil, errors.New("upstream 503")
}

func (failingProvider) ChatStream(ctx context.Context, req *agent.ChatRequest) (<-chan agent.StreamChunk, error) {
	return nil, errors.New("upstream 503")
}

func TestConsumeLoopApologizesOnProviderFailure(t *testing.T) {
	b := bus.New(8)
	loop, err := agent.New(agent.Options{Provider: failingProvider{}})
	if err != nil {
		t.Fatal(err)
	}
	s := &Service{
		Config:  config.Default(),
		Bus:     b,
		Loop:    loop,
		Metrics: metrics.New(nil),
		logger:  slog.Default(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.consumeLoop(ctx)

	if err := b.PublishInbound(ctx, &models.InboundMessage{
		ID: "m1", Channel: "telegram", ChatID: "42", SenderID: "u1", Content: "hi",
	}); err != nil {
		t.Fatal(err)
	}

	out, ok := b.TryConsumeOutbound(ctx, 3*time.Second)
	if !ok {
		t.Fatal("no apology delivered")
	}
	if out.Channel != "telegram" || out.ChatID != "42" {
		t.Fatalf("apology routing: %+v", out)
	}
	if !strings.Contains(out.Content, "try again") {
		t.Fatalf("apology content: %q", out.Content)
	}
}

// blockingProvider parks every chat call until released.
type blockingProvider struct {
	release chan struct{}
}

func (p *blockingProvider) Name() string         { return "blocking" }
func (p *blockingProvider) DefaultModel() string { return "test-model" }

func (p *blockingProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.Response, error) {
	select {
	case <-p.release:
		return &agent.Response{Content: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingProvider) ChatStream(ctx context.Context, req *agent.ChatRequest) (<-chan agent.StreamChunk, error) {
	return nil, errors.New("not used")
}

func TestCommandsWorkWhileTurnBlocked(t *testing.T) {
	b := bus.New(8)
	provider := &blockingProvider{release: make(chan struct{})}
	loop, err := agent.New(agent.Options{Provider: provider})
	if err != nil {
		t.Fatal(err)
	}
	approvals, err := approval.NewManager(t.TempDir()+"/approvals.json", nil, time.Minute, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := &Service{
		Bus:       b,
		Loop:      loop,
		Approvals: approvals,
		Metrics:   metrics.New(nil),
		logger:    slog.Default(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.consumeLoop(ctx)

	// This turn parks inside the provider.
	b.PublishInbound(ctx, &models.InboundMessage{ID: "m1", Channel: "cli", ChatID: "direct", Content: "run something"})
	// The command behind it must still be answered.
	b.PublishInbound(ctx, &models.InboundMessage{ID: "m2", Channel: "cli", ChatID: "direct", Content: "/approvals"})

	out, ok := b.TryConsumeOutbound(ctx, 3*time.Second)
	if !ok {
		t.Fatal("command reply never arrived")
	}
	if out.Content != "No pending approvals." {
		t.Fatalf("unexpected reply: %q", out.Content)
	}

	close(provider.release)
	out, ok = b.TryConsumeOutbound(ctx, 3*time.Second)
	if !ok || out.Content != "done" {
		t.Fatalf("turn reply after release: %+v", out)
	}
}

func TestHandleCommandResolvesApprovals(t *testing.T) {
	b := bus.New(4)
	approvals, err := approval.NewManager(t.TempDir()+"/approvals.json", nil, time.Minute, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := &Service{Bus: b, Approvals: approvals, logger: slog.Default()}
	ctx := context.Background()

	msg := &models.InboundMessage{Channel: "cli", ChatID: "direct", Content: "/approve nope-123"}
	if !s.handleCommand(ctx, msg) {
		t.Fatal("command not intercepted")
	}
	out, ok := b.TryConsumeOutbound(ctx, time.Second)
	if !ok || !strings.Contains(out.Content, "Error:") {
		t.Fatalf("unknown id should error: %+v", out)
	}

	msg.Content = "/approvals"
	if !s.handleCommand(ctx, msg) {
		t.Fatal("list not intercepted")
	}
	out, _ = b.TryConsumeOutbound(ctx, time.Second)
	if out == nil || out.Content != "No pending approvals." {
		t.Fatalf("pending list: %+v", out)
	}

	msg.Content = "/weather tomorrow"
	if s.handleCommand(ctx, msg) {
		t.Fatal("unrelated slash text consumed")
	}
}

func TestApologizeSkipsSystemChannel(t *testing.T) {
	b := bus.New(4)
	s := &Service{Bus: b, logger: slog.Default()}

	s.apologize(context.Background(), &models.InboundMessage{
		ID: "m1", Channel: models.ChannelSystem, ChatID: "telegram:42",
	})

	if _, ok := b.TryConsumeOutbound(context.Background(), 100*time.Millisecond); ok {
		t.Fatal("apology sent for system message")
	}
}
