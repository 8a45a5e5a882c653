package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/pkg/models"
)

// CLIAdapter reads user messages line by line and prints replies. It is
// the adapter behind `sharpbot chat`.
type CLIAdapter struct {
	Bus    *bus.Bus
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (a *CLIAdapter) Name() string { return models.ChannelCLI }

// Start begins reading lines from In. EOF stops the read loop without
// stopping the adapter; Send keeps working.
func (a *CLIAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("cli adapter already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.readLoop(ctx)
	return nil
}

func (a *CLIAdapter) readLoop(ctx context.Context) {
	defer close(a.done)
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scanner := bufio.NewScanner(a.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := &models.InboundMessage{
			ID:         uuid.NewString(),
			Channel:    models.ChannelCLI,
			SenderID:   "operator",
			ChatID:     models.DefaultChatID,
			Content:    line,
			ReceivedAt: time.Now(),
		}
		if err := a.Bus.PublishInbound(ctx, msg); err != nil {
			logger.Warn("cli inbound dropped", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Warn("cli read loop ended", "error", err)
	}
}

func (a *CLIAdapter) Stop(ctx context.Context) error {
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *CLIAdapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	_, err := fmt.Fprintf(a.Out, "%s\n", msg.Content)
	return err
}

func (a *CLIAdapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
