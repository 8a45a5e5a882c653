// Package telegram implements the Telegram channel adapter over the Bot
// API with long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/internal/channels"
	"github.com/sharphq/sharpbot/pkg/models"
)

// telegramMaxMessage is the Bot API text limit.
const telegramMaxMessage = 4096

// Config holds the Telegram adapter settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// AllowedSenders restricts who the bot listens to; entries may use
	// "id|username" alias form. Empty allows everyone.
	AllowedSenders []string

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	config  Config
	bus     *bus.Bus
	allow   *channels.AllowList
	dedup   *channels.Dedup
	chunker *channels.Chunker
	logger  *slog.Logger

	mu      sync.Mutex
	bot     *bot.Bot
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(config Config, b *bus.Bus) (*Adapter, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
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
		chunker: channels.NewChunker(telegramMaxMessage),
		logger:  logger.With("adapter", "telegram"),
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Start connects the bot and begins long polling on its own goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("telegram adapter already started")
	}

	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.bot = b
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go func() {
		defer close(a.done)
		b.Start(ctx)
	}()
	a.logger.Info("telegram adapter started")
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" && len(msg.Photo) == 0 && msg.Document == nil {
		return
	}
	if a.dedup.Seen(fmt.Sprintf("%d:%d", msg.Chat.ID, msg.ID)) {
		return
	}

	var identities []string
	if msg.From != nil {
		identities = []string{
			strconv.FormatInt(msg.From.ID, 10),
			msg.From.Username,
			msg.From.FirstName,
		}
	}
	if !a.allow.Allowed(identities...) {
		a.logger.Debug("ignoring message from disallowed sender", "chat_id", msg.Chat.ID)
		return
	}

	inbound := a.convert(msg)
	if err := a.bus.PublishInbound(ctx, inbound); err != nil {
		a.logger.Warn("inbound dropped", "chat_id", msg.Chat.ID, "error", err)
	}
}

// convert maps a Telegram message onto the unified inbound shape. Media
// is referenced by file id; the agent fetches on demand.
func (a *Adapter) convert(msg *tgmodels.Message) *models.InboundMessage {
	senderID := ""
	senderName := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		senderName = msg.From.FirstName
	}

	inbound := &models.InboundMessage{
		ID:       fmt.Sprintf("tg_%d_%d", msg.Chat.ID, msg.ID),
		Channel:  "telegram",
		SenderID: senderID,
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		Content:  msg.Text,
		Metadata: map[string]string{
			"sender_name": senderName,
			"message_id":  strconv.Itoa(msg.ID),
		},
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
	if inbound.Content == "" {
		inbound.Content = msg.Caption
	}
	if len(msg.Photo) > 0 {
		inbound.Media = append(inbound.Media, "telegram-file:"+msg.Photo[len(msg.Photo)-1].FileID)
	}
	if msg.Document != nil {
		inbound.Media = append(inbound.Media, "telegram-file:"+msg.Document.FileID)
	}
	if msg.ReplyToMessage != nil {
		inbound.Metadata["reply_to"] = strconv.Itoa(msg.ReplyToMessage.ID)
	}
	return inbound
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
		a.logger.Info("telegram adapter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send delivers a reply, splitting it across the Bot API text limit.
func (a *Adapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	a.mu.Lock()
	b := a.bot
	a.mu.Unlock()
	if b == nil {
		return fmt.Errorf("telegram: adapter not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}

	for i, chunk := range a.chunker.Chunk(msg.Content) {
		params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
		// reply_to only applies to the first chunk.
		if i == 0 && msg.ReplyTo != "" {
			if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
				params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyID}
			}
		}
		if _, err := b.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram: send to %d: %w", chatID, err)
		}
	}
	return nil
}

func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
