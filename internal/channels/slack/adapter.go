// Package slack implements the Slack channel adapter over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/channels"
	"github.com/sharphq/sharpbot/pkg/models"
)

// slackMaxMessage keeps replies well under Slack's block limits.
const slackMaxMessage = 12000

// Config holds the Slack adapter settings. Socket Mode needs both a bot
// token (xoxb-) and an app-level token (xapp-).
type Config struct {
	BotToken string
	AppToken string

	// AllowedSenders restricts accepted user ids/names; "|" aliases.
	AllowedSenders []string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	config  Config
	bus     *bus.Bus
	allow   *channels.AllowList
	dedup   *channels.Dedup
	chunker *channels.Chunker
	logger  *slog.Logger

	mu      sync.Mutex
	api     *slack.Client
	socket  *socketmode.Client
	botID   string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAdapter creates a Slack adapter.
func NewAdapter(config Config, b *bus.Bus) (*Adapter, error) {
	if config.BotToken == "" || config.AppToken == "" {
		return nil, fmt.Errorf("slack: bot_token and app_token are required")
	}
	if !strings.HasPrefix(config.AppToken, "xapp-") {
		return nil, fmt.Errorf("slack: app_token must start with xapp-")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config:  config,
		bus:     b,
		allow:   channels.NewAllowList(config.AllowedSenders),
		dedup:   channels.NewDedup(0),
		chunker: channels.NewChunker(slackMaxMessage),
		logger:  logger.With("adapter", "slack"),
	}, nil
}

func (a *Adapter) Name() string { return "slack" }

// Start authenticates and begins the Socket Mode event loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("slack adapter already started")
	}

	api := slack.New(a.config.BotToken, slack.OptionAppLevelToken(a.config.AppToken))
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	socket := socketmode.New(api)

	ctx, cancel := context.WithCancel(ctx)
	a.api = api
	a.socket = socket
	a.botID = auth.UserID
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.eventLoop(ctx)
	go func() {
		if err := socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("socket mode ended", "error", err)
		}
	}()
	a.logger.Info("slack adapter started", "bot_id", a.botID)
	return nil
}

func (a *Adapter) eventLoop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnected:
				a.logger.Info("connected to slack")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("slack connection error", "data", event.Data)
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				// Acknowledged but unused.
				if event.Request != nil {
					a.socket.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch inner := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ctx, inner)
	case *slackevents.AppMentionEvent:
		a.handleMessage(ctx, &slackevents.MessageEvent{
			User:            inner.User,
			Channel:         inner.Channel,
			Text:            inner.Text,
			TimeStamp:       inner.TimeStamp,
			ThreadTimeStamp: inner.ThreadTimeStamp,
		})
	}
}

func (a *Adapter) handleMessage(ctx context.Context, event *slackevents.MessageEvent) {
	// Skip our own messages, edits, and other subtyped events.
	if event.User == "" || event.User == a.botID || event.SubType != "" {
		return
	}
	if a.dedup.Seen(event.Channel + ":" + event.TimeStamp) {
		return
	}
	if !a.allow.Allowed(event.User, event.Username) {
		a.logger.Debug("ignoring message from disallowed sender", "user", event.User)
		return
	}

	inbound := &models.InboundMessage{
		ID:       "slack_" + event.Channel + "_" + event.TimeStamp,
		Channel:  "slack",
		SenderID: event.User,
		ChatID:   event.Channel,
		Content:  event.Text,
		Metadata: map[string]string{
			"ts": event.TimeStamp,
		},
		ReceivedAt: time.Now(),
	}
	if event.ThreadTimeStamp != "" {
		inbound.Metadata["thread_ts"] = event.ThreadTimeStamp
	}
	if err := a.bus.PublishInbound(ctx, inbound); err != nil {
		a.logger.Warn("inbound dropped", "channel", event.Channel, "error", err)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	select {
	case <-done:
		a.logger.Info("slack adapter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts a reply; ReplyTo carries a thread timestamp when present.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return fmt.Errorf("slack: adapter not started")
	}

	for _, chunk := range a.chunker.Chunk(msg.Content) {
		options := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if msg.ReplyTo != "" {
			options = append(options, slack.MsgOptionTS(msg.ReplyTo))
		}
		if _, _, err := api.PostMessageContext(ctx, msg.ChatID, options...); err != nil {
			return fmt.Errorf("slack: post to %s: %w", msg.ChatID, err)
		}
	}
	return nil
}

func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
