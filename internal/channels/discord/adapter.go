// Package discord implements the Discord channel adapter over the
// gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/channels"
	"github.com/sharphq/sharpbot/pkg/models"
)

// discordMaxMessage is the hard message length limit.
const discordMaxMessage = 2000

// Config holds the Discord adapter settings.
type Config struct {
	// Token is the bot token (without the "Bot " prefix).
	Token string

	// AllowedSenders restricts accepted user ids/names; "|" aliases.
	AllowedSenders []string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	config  Config
	bus     *bus.Bus
	allow   *channels.AllowList
	dedup   *channels.Dedup
	chunker *channels.Chunker
	logger  *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
	running bool
	cancel  context.CancelFunc
	ctx     context.Context
}

// NewAdapter creates a Discord adapter.
func NewAdapter(config Config, b *bus.Bus) (*Adapter, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
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
		chunker: channels.NewChunker(discordMaxMessage),
		logger:  logger.With("adapter", "discord"),
	}, nil
}

func (a *Adapter) Name() string { return "discord" }

// Start opens the gateway connection. Message events arrive on
// discordgo's own goroutines.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("discord adapter already started")
	}

	session, err := discordgo.New("Bot " + a.config.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	session.AddHandler(a.handleMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.session = session
	a.cancel = cancel
	a.ctx = ctx
	a.running = true
	a.logger.Info("discord adapter started")
	return nil
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if a.dedup.Seen(m.ID) {
		return
	}
	if !a.allow.Allowed(m.Author.ID, m.Author.Username, m.Author.GlobalName) {
		a.logger.Debug("ignoring message from disallowed sender", "user", m.Author.ID)
		return
	}

	inbound := &models.InboundMessage{
		ID:       "discord_" + m.ID,
		Channel:  "discord",
		SenderID: m.Author.ID,
		ChatID:   m.ChannelID,
		Content:  m.Content,
		Metadata: map[string]string{
			"sender_name": m.Author.Username,
			"message_id":  m.ID,
		},
		ReceivedAt: time.Now(),
	}
	for _, att := range m.Attachments {
		inbound.Media = append(inbound.Media, att.URL)
	}
	if m.MessageReference != nil {
		inbound.Metadata["reply_to"] = m.MessageReference.MessageID
	}

	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		return
	}
	if err := a.bus.PublishInbound(ctx, inbound); err != nil {
		a.logger.Warn("inbound dropped", "channel", m.ChannelID, "error", err)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	session, cancel := a.session, a.cancel
	a.mu.Unlock()

	cancel()
	if err := session.Close(); err != nil {
		return fmt.Errorf("discord: close gateway: %w", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

// Send delivers a reply, splitting it across Discord's 2000-char limit.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord: adapter not started")
	}

	for i, chunk := range a.chunker.Chunk(msg.Content) {
		if i == 0 && msg.ReplyTo != "" {
			_, err := session.ChannelMessageSendReply(msg.ChatID, chunk, &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChatID,
			})
			if err != nil {
				return fmt.Errorf("discord: reply in %s: %w", msg.ChatID, err)
			}
			continue
		}
		if _, err := session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("discord: send to %s: %w", msg.ChatID, err)
		}
	}
	return nil
}

func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
