// Package service wires configuration into running components and
// owns the process run loop.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sharphq/sharpbot/internal/agent"
	"github.com/sharphq/sharpbot/internal/approval"
	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/channels"
	"github.com/sharphq/sharpbot/internal/channels/discord"
	"github.com/sharphq/sharpbot/internal/channels/slack"
	"github.com/sharphq/sharpbot/internal/channels/telegram"
	"github.com/sharphq/sharpbot/internal/compaction"
	"github.com/sharphq/sharpbot/internal/config"
	"github.com/sharphq/sharpbot/internal/cron"
	"github.com/sharphq/sharpbot/internal/heartbeat"
	"github.com/sharphq/sharpbot/internal/memory"
	"github.com/sharphq/sharpbot/internal/metrics"
	"github.com/sharphq/sharpbot/internal/process"
	"github.com/sharphq/sharpbot/internal/prompt"
	"github.com/sharphq/sharpbot/internal/providers"
	"github.com/sharphq/sharpbot/internal/sessions"
	"github.com/sharphq/sharpbot/internal/skills"
	"github.com/sharphq/sharpbot/internal/tools"
	"github.com/sharphq/sharpbot/internal/tools/browser"
	"github.com/sharphq/sharpbot/internal/tools/crontool"
	"github.com/sharphq/sharpbot/internal/tools/execx"
	"github.com/sharphq/sharpbot/internal/tools/files"
	"github.com/sharphq/sharpbot/internal/tools/memtool"
	"github.com/sharphq/sharpbot/internal/tools/msgtool"
	"github.com/sharphq/sharpbot/internal/tools/skilltool"
	"github.com/sharphq/sharpbot/internal/tools/spawn"
	"github.com/sharphq/sharpbot/internal/tools/web"
	"github.com/sharphq/sharpbot/pkg/models"
)

// providerApology is sent when a turn fails on the provider side. The
// session is left untouched so the user can simply retry.
const providerApology = "I ran into a problem reaching my language model and couldn't finish that. Please try again in a moment."

// consumePoll bounds how long the run loop waits on an empty queue
// before re-checking for shutdown.
const consumePoll = 500 * time.Millisecond

// Service holds the wired components of a running sharpbot instance.
type Service struct {
	Config    *config.Config
	Bus       *bus.Bus
	Store     sessions.Store
	Provider  agent.Provider
	Registry  *tools.Registry
	Loop      *agent.Loop
	Subagent  *agent.Subagent
	Skills    *skills.Manager
	Memory    *memory.Store
	Cron      *cron.Service
	Heartbeat *heartbeat.Runner
	Processes *process.Manager
	Approvals *approval.Manager
	Channels  *channels.Registry
	Metrics   *metrics.Metrics
	Browser   *browser.Manager

	toolCtx    *tools.Context
	logger     *slog.Logger
	startupErr error
}

// New builds a Service from config. Nothing is started; call Run.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.DataDir, cfg.Workspace} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	s := &Service{
		Config:  cfg,
		Bus:     bus.New(cfg.Server.BusCapacity),
		toolCtx: tools.NewContext(),
		logger:  logger,
	}
	s.Metrics = metrics.New(s.Bus)

	store, err := sessions.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	s.Store = store

	// A missing or invalid provider config keeps the agent offline but
	// the rest of the service still comes up, so channels, tools, and
	// the status endpoint remain reachable.
	if err := s.buildProvider(); err != nil {
		s.startupErr = err
		logger.Error("llm provider unavailable; starting degraded", "error", err)
	}
	s.buildSkills()
	if s.Provider != nil {
		if err := s.buildMemory(); err != nil {
			return nil, err
		}
	}
	if err := s.buildTools(); err != nil {
		return nil, err
	}
	if s.Provider != nil {
		if err := s.buildAgent(); err != nil {
			return nil, err
		}
	}
	s.buildChannels()

	if s.Loop != nil {
		s.Heartbeat = heartbeat.NewRunner(heartbeat.Options{
			Loop:        s.Loop,
			Bus:         s.Bus,
			Workspace:   cfg.Workspace,
			Interval:    cfg.Heartbeat.Interval,
			Channel:     cfg.Heartbeat.Channel,
			ChatID:      cfg.Heartbeat.ChatID,
			ActiveStart: cfg.Heartbeat.ActiveStart,
			ActiveEnd:   cfg.Heartbeat.ActiveEnd,
			Logger:      logger,
		})
	}
	return s, nil
}

// Ready reports whether the agent loop can take turns. A degraded
// start (bad provider config) leaves the service running but not ready.
func (s *Service) Ready() bool { return s.Loop != nil }

// StartupErr returns the error that left the service degraded, if any.
func (s *Service) StartupErr() error { return s.startupErr }

// statusHandler reports readiness as JSON. Degraded starts answer 503
// with the startup error.
func (s *Service) statusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{"ready": s.Ready()}
		if s.startupErr != nil {
			body["error"] = s.startupErr.Error()
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (s *Service) buildProvider() error {
	cfg := s.Config.LLM
	switch cfg.Provider {
	case "", "openai":
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return err
		}
		s.Provider = p
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
		if err != nil {
			return err
		}
		s.Provider = p
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return nil
}

func (s *Service) buildSkills() {
	cfg := s.Config.Skills
	entries := make(map[string]*skills.Entry, len(cfg.Entries))
	for name, e := range cfg.Entries {
		entries[name] = &skills.Entry{Enabled: e.Enabled, APIKey: e.APIKey, Env: e.Env}
	}
	s.Skills = skills.NewManager(skills.Dirs{
		Workspace: filepath.Join(s.Config.Workspace, "skills"),
		Managed:   cfg.ManagedDir,
		Builtin:   filepath.Join(s.Config.DataDir, "skills"),
		Extra:     cfg.ExtraDirs,
	}, entries, s.Config.IsTruthy, s.logger)
}

// buildMemory opens the semantic store when enabled. Embeddings come
// from the OpenAI provider; with an Anthropic chat provider a separate
// embedding client is built from OPENAI_API_KEY, and memory is
// disabled with a warning when that is missing too.
func (s *Service) buildMemory() error {
	if !s.Config.Memory.Enabled {
		return nil
	}
	embedder, ok := s.Provider.(*providers.OpenAIProvider)
	if !ok {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			s.logger.Warn("memory enabled but no embedding credentials; disabling")
			return nil
		}
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: key})
		if err != nil {
			return err
		}
		embedder = p
	}
	model := s.Config.Memory.EmbeddingModel
	embed := func(ctx context.Context, content string) ([]float32, error) {
		return embedder.Embed(ctx, model, content)
	}
	store, err := memory.Open(filepath.Join(s.Config.DataDir, "memory.db"), embed, s.logger)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	s.Memory = store
	return nil
}

func (s *Service) buildTools() error {
	cfg := s.Config
	s.Registry = tools.NewRegistry()

	resolver := files.Resolver{Home: cfg.DataDir}
	if cfg.Tools.Exec.RestrictToWorkspace {
		resolver.Root = cfg.Workspace
	}
	s.Registry.Register(&files.ReadTool{Resolver: resolver})
	s.Registry.Register(&files.WriteTool{Resolver: resolver})
	s.Registry.Register(&files.EditTool{Resolver: resolver})
	s.Registry.Register(&files.ListTool{Resolver: resolver})

	approvals, err := approval.NewManager(
		filepath.Join(cfg.DataDir, "exec_approvals.json"),
		s.notifyApproval,
		cfg.Tools.Exec.AskTimeout,
		cfg.Tools.Exec.AskFallback == "allow",
		s.logger,
	)
	if err != nil {
		return fmt.Errorf("open approval store: %w", err)
	}
	s.Approvals = approvals
	s.Processes = process.NewManager(0, cfg.Tools.Exec.BackgroundTimeout, 0, s.logger)

	s.Registry.Register(execx.New(execx.Options{
		Processes:           s.Processes,
		Approvals:           approvals,
		Security:            execx.Security(cfg.Tools.Exec.Security),
		Ask:                 execx.AskMode(cfg.Tools.Exec.Ask),
		Workspace:           cfg.Workspace,
		RestrictToWorkspace: cfg.Tools.Exec.RestrictToWorkspace,
		Timeout:             cfg.Tools.Exec.Timeout,
	}))
	s.Registry.Register(&execx.ProcessTool{Processes: s.Processes})

	s.Registry.Register(web.NewSearchTool(cfg.Tools.Web.SearchAPIKey))
	s.Registry.Register(web.NewFetchTool())
	s.Registry.Register(web.NewRequestTool())

	if cfg.Tools.Browser.Enabled {
		s.Browser = browser.NewManager(cfg.Tools.Browser.Headless, s.logger)
		for _, tool := range browser.All(s.Browser) {
			s.Registry.Register(tool)
		}
	}

	s.Registry.Register(&msgtool.Tool{Bus: s.Bus, ToolCtx: s.toolCtx})
	s.Registry.Register(&skilltool.Tool{Manager: s.Skills})

	if s.Memory != nil {
		s.Registry.Register(&memtool.SearchTool{Store: s.Memory})
		s.Registry.Register(&memtool.IndexTool{Store: s.Memory})
	}

	if cfg.Cron.Enabled {
		service, err := cron.NewService(filepath.Join(cfg.DataDir, "cron.json"), s.Bus, s.logger)
		if err != nil {
			return fmt.Errorf("load cron jobs: %w", err)
		}
		s.Cron = service
		s.Registry.Register(&crontool.Tool{Service: service, ToolCtx: s.toolCtx})
	}
	return nil
}

func (s *Service) buildAgent() error {
	cfg := s.Config

	builder := &prompt.Builder{
		Workspace: cfg.Workspace,
		Skills:    s.Skills,
		Memory:    s.Memory,
		TopK:      cfg.Memory.TopK,
		MinScore:  cfg.Memory.MinScore,
		Logger:    s.logger,
	}
	compactor := compaction.New(s.summarize, 0, s.logger)

	// Subagents get the side-effect-light toolset: no messaging, no
	// spawning, no cron.
	subRegistry := tools.NewRegistry()
	for _, name := range []string{
		"read_file", "write_file", "edit_file", "list_dir",
		"exec", "web_search", "web_fetch", "http_request",
	} {
		if tool, ok := s.Registry.Get(name); ok {
			subRegistry.Register(tool)
		}
	}
	subagent, err := agent.NewSubagent(agent.SubagentOptions{
		Provider:      s.Provider,
		Registry:      subRegistry,
		Bus:           s.Bus,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		MaxIterations: cfg.Agent.SubagentMaxIterations,
		Logger:        s.logger,
	})
	if err != nil {
		return err
	}
	s.Subagent = subagent
	s.Registry.Register(&spawn.Tool{Subagent: subagent, ToolCtx: s.toolCtx, Logger: s.logger})

	loop, err := agent.New(agent.Options{
		Provider:       s.Provider,
		Registry:       s.Registry,
		Store:          s.Store,
		Prompts:        builder,
		Compactor:      compactor,
		Skills:         s.Skills,
		ToolCtx:        s.toolCtx,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		ModelOverrides: cfg.LLM.ModelOverrides,
		MaxIterations:  cfg.Agent.MaxIterations,
		MaxHistory:     cfg.Agent.MaxHistory,
		Observer:       s.Metrics.ObserveTurn,
		Logger:         s.logger,
	})
	if err != nil {
		return err
	}
	s.Loop = loop
	return nil
}

func (s *Service) buildChannels() {
	cfg := s.Config.Channels
	s.Channels = channels.NewRegistry()

	if cfg.Telegram.Enabled {
		a, err := telegram.NewAdapter(telegram.Config{
			Token:          cfg.Telegram.BotToken,
			AllowedSenders: cfg.Telegram.AllowedSenders,
			Logger:         s.logger,
		}, s.Bus)
		if err != nil {
			s.logger.Error("telegram adapter disabled", "error", err)
		} else {
			s.Channels.Register(a)
		}
	}
	if cfg.Slack.Enabled {
		a, err := slack.NewAdapter(slack.Config{
			BotToken:       cfg.Slack.BotToken,
			AppToken:       cfg.Slack.AppToken,
			AllowedSenders: cfg.Slack.AllowedSenders,
			Logger:         s.logger,
		}, s.Bus)
		if err != nil {
			s.logger.Error("slack adapter disabled", "error", err)
		} else {
			s.Channels.Register(a)
		}
	}
	if cfg.Discord.Enabled {
		a, err := discord.NewAdapter(discord.Config{
			Token:          cfg.Discord.BotToken,
			AllowedSenders: cfg.Discord.AllowedSenders,
			Logger:         s.logger,
		}, s.Bus)
		if err != nil {
			s.logger.Error("discord adapter disabled", "error", err)
		} else {
			s.Channels.Register(a)
		}
	}
}

// RegisterCLI adds the stdin/stdout adapter, used by interactive chat.
func (s *Service) RegisterCLI(in io.Reader, out io.Writer) {
	s.Channels.Register(&channels.CLIAdapter{
		Bus:    s.Bus,
		In:     in,
		Out:    out,
		Logger: s.logger,
	})
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Channels.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Channels.StopAll(stopCtx); err != nil {
			s.logger.Warn("adapter shutdown", "error", err)
		}
	}()

	if s.Cron != nil {
		s.Cron.Start(ctx)
	}
	s.Processes.StartReaper(ctx)
	if s.Config.Skills.Watch {
		if err := s.Skills.Watch(ctx); err != nil {
			s.logger.Warn("skill watcher unavailable", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		(&channels.Dispatcher{Bus: s.Bus, Registry: s.Channels, Logger: s.logger}).Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.consumeLoop(ctx)
		return nil
	})
	if s.Config.Heartbeat.Enabled && s.Heartbeat != nil {
		g.Go(func() error {
			s.Heartbeat.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return s.Metrics.Serve(ctx, s.Config.Server.MetricsPort, s.statusHandler(), s.logger)
	})

	s.logger.Info("sharpbot running",
		"adapters", len(s.Channels.All()),
		"tools", s.Registry.Count(),
	)
	return g.Wait()
}

// consumeLoop drains the inbound queue. Operator commands are handled
// inline so they still work while a turn is blocked (for example on an
// exec approval); everything else is queued to the serial turn runner
// in arrival order.
func (s *Service) consumeLoop(ctx context.Context) {
	turns := make(chan *models.InboundMessage)
	go s.turnLoop(ctx, turns)

	var pending []*models.InboundMessage
	for {
		if ctx.Err() != nil {
			return
		}
		if len(pending) > 0 {
			select {
			case turns <- pending[0]:
				pending = pending[1:]
				continue
			default:
			}
		}
		msg, ok := s.Bus.TryConsumeInbound(ctx, consumePoll)
		if !ok {
			continue
		}
		s.Metrics.MessageReceived(msg.Channel)
		if s.handleCommand(ctx, msg) {
			continue
		}
		pending = append(pending, msg)
	}
}

// turnLoop runs turns one at a time, which keeps turns for the same
// session from overlapping.
func (s *Service) turnLoop(ctx context.Context, turns <-chan *models.InboundMessage) {
	for {
		var msg *models.InboundMessage
		select {
		case <-ctx.Done():
			return
		case msg = <-turns:
		}

		if s.Loop == nil {
			s.notReady(ctx, msg)
			continue
		}
		reply, err := s.Loop.ProcessMessage(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("turn failed", "session", msg.SessionKey(), "error", err)
			s.apologize(ctx, msg)
			continue
		}
		if reply == nil || reply.Content == "" {
			continue
		}
		if err := s.Bus.PublishOutbound(ctx, reply); err != nil {
			s.logger.Warn("reply dropped", "session", msg.SessionKey(), "error", err)
			continue
		}
		s.Metrics.MessageSent(reply.Channel)
	}
}

// handleCommand intercepts operator slash-commands before they reach
// the agent. Returns true when the message was consumed.
func (s *Service) handleCommand(ctx context.Context, msg *models.InboundMessage) bool {
	if s.Approvals == nil || !strings.HasPrefix(msg.Content, "/") {
		return false
	}
	fields := strings.Fields(msg.Content)
	var reply string
	switch fields[0] {
	case "/approve":
		if len(fields) < 2 {
			reply = "Usage: /approve <id> [always]"
			break
		}
		decision := approval.AllowOnce
		if len(fields) > 2 && fields[2] == "always" {
			decision = approval.AllowAlways
		}
		if err := s.Approvals.Resolve(fields[1], decision); err != nil {
			reply = fmt.Sprintf("Error: %v", err)
		} else {
			reply = fmt.Sprintf("Approved %s (%s).", fields[1], decision)
		}
	case "/deny":
		if len(fields) < 2 {
			reply = "Usage: /deny <id>"
			break
		}
		if err := s.Approvals.Resolve(fields[1], approval.Deny); err != nil {
			reply = fmt.Sprintf("Error: %v", err)
		} else {
			reply = fmt.Sprintf("Denied %s.", fields[1])
		}
	case "/approvals":
		pending := s.Approvals.Pending()
		if len(pending) == 0 {
			reply = "No pending approvals."
			break
		}
		var b strings.Builder
		b.WriteString("Pending approvals:\n")
		for _, req := range pending {
			fmt.Fprintf(&b, "%s  %s\n", req.ID, req.Command)
		}
		reply = strings.TrimRight(b.String(), "\n")
	default:
		return false
	}
	out := &models.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply}
	if err := s.Bus.PublishOutbound(ctx, out); err != nil {
		s.logger.Warn("command reply dropped", "error", err)
	}
	return true
}

// notReady answers messages that arrive while the agent is offline.
func (s *Service) notReady(ctx context.Context, msg *models.InboundMessage) {
	if msg.Channel == models.ChannelSystem {
		return
	}
	content := "My language model isn't configured, so I can't take messages right now."
	if s.startupErr != nil {
		content = fmt.Sprintf("%s (%v)", content, s.startupErr)
	}
	out := &models.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: content}
	if err := s.Bus.PublishOutbound(ctx, out); err != nil {
		s.logger.Warn("not-ready notice dropped", "session", msg.SessionKey(), "error", err)
	}
}

func (s *Service) apologize(ctx context.Context, msg *models.InboundMessage) {
	channel, chatID := msg.Channel, msg.ChatID
	if channel == models.ChannelSystem {
		// System messages have no user to apologize to.
		return
	}
	out := &models.OutboundMessage{Channel: channel, ChatID: chatID, Content: providerApology}
	if err := s.Bus.PublishOutbound(ctx, out); err != nil {
		s.logger.Warn("apology dropped", "session", msg.SessionKey(), "error", err)
	}
}

// summarize adapts the provider to the compactor's summarizer hook.
func (s *Service) summarize(ctx context.Context, system, transcript string) (string, error) {
	resp, err := s.Provider.Chat(ctx, &agent.ChatRequest{
		Model: s.Config.LLM.Model,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// notifyApproval surfaces a pending exec approval in the conversation
// whose turn raised it.
func (s *Service) notifyApproval(ctx context.Context, req *approval.Request) {
	channel, chatID := s.toolCtx.Get()
	if channel == "" {
		channel, chatID = models.ChannelCLI, models.DefaultChatID
	}
	text := fmt.Sprintf("Approval needed for command:\n\n    %s\n\nReply /approve %s (or /deny %s).", req.Command, req.ID, req.ID)
	if err := s.Bus.PublishOutbound(ctx, &models.OutboundMessage{
		Channel: channel, ChatID: chatID, Content: text,
	}); err != nil {
		s.logger.Warn("approval notice dropped", "id", req.ID, "error", err)
	}
	s.logger.Info("approval pending", "id", req.ID, "command", req.Command)
}

// Close releases stores and the browser. Safe after a failed New.
func (s *Service) Close() error {
	var first error
	if s.Browser != nil {
		s.Browser.Close()
	}
	if s.Memory != nil {
		if err := s.Memory.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
