// Package heartbeat runs periodic proactive agent turns driven by a
// workspace HEARTBEAT.md checklist.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/pkg/models"
)

// OKToken is the reply token that marks a heartbeat turn with nothing
// to report. Replies reduced to this token are not delivered.
const OKToken = "HEARTBEAT_OK"

// promptFile is the workspace file holding the heartbeat checklist.
// No file means no heartbeat turns.
const promptFile = "HEARTBEAT.md"

const turnTimeout = 2 * time.Minute

// Turner runs a single agent turn. *agent.Loop satisfies this.
type Turner interface {
	ProcessMessage(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error)
}

// Options configures a Runner.
type Options struct {
	Loop      Turner
	Bus       *bus.Bus
	Workspace string
	Interval  time.Duration

	// Channel/ChatID route deliverable heartbeat replies. Empty
	// defaults to the CLI channel.
	Channel string
	ChatID  string

	// ActiveStart/ActiveEnd bound the local hours during which ticks
	// run. Both zero means around the clock.
	ActiveStart int
	ActiveEnd   int

	Logger *slog.Logger
}

// Runner periodically prompts the agent with the workspace checklist
// and forwards replies that carry actual content.
type Runner struct {
	loop        Turner
	bus         *bus.Bus
	workspace   string
	interval    time.Duration
	channel     string
	chatID      string
	activeStart int
	activeEnd   int
	logger      *slog.Logger

	now func() time.Time
}

// NewRunner creates a heartbeat runner.
func NewRunner(opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.Channel == "" {
		opts.Channel = models.ChannelCLI
	}
	if opts.ChatID == "" {
		opts.ChatID = models.DefaultChatID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		loop:        opts.Loop,
		bus:         opts.Bus,
		workspace:   opts.Workspace,
		interval:    opts.Interval,
		channel:     opts.Channel,
		chatID:      opts.ChatID,
		activeStart: opts.ActiveStart,
		activeEnd:   opts.ActiveEnd,
		logger:      opts.Logger.With("component", "heartbeat"),
		now:         time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("heartbeat started", "interval", r.interval.String(), "target", r.channel+":"+r.chatID)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat turn. Exported so the service can trigger an
// immediate beat on demand.
func (r *Runner) Tick(ctx context.Context) {
	if !r.inActiveHours() {
		r.logger.Debug("outside active hours, skipping")
		return
	}
	checklist, err := r.checklist()
	if err != nil {
		r.logger.Debug("no heartbeat checklist", "error", err)
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	reply, err := r.loop.ProcessMessage(turnCtx, &models.InboundMessage{
		ID:       "hb_" + uuid.NewString(),
		Channel:  r.channel,
		SenderID: "heartbeat",
		ChatID:   r.chatID,
		Content:  r.prompt(checklist),
		Metadata: map[string]string{
			"heartbeat": "true",
		},
		ReceivedAt: r.now(),
	})
	if err != nil {
		r.logger.Error("heartbeat turn failed", "error", err)
		return
	}

	content, deliver := Deliverable(reply.Content)
	if !deliver {
		r.logger.Debug("nothing to deliver")
		return
	}
	reply.Content = content
	if err := r.bus.PublishOutbound(ctx, reply); err != nil {
		r.logger.Warn("heartbeat reply dropped", "error", err)
		return
	}
	r.logger.Info("heartbeat delivered", "target", reply.Channel+":"+reply.ChatID, "chars", len(content))
}

func (r *Runner) inActiveHours() bool {
	if r.activeStart == 0 && r.activeEnd == 0 {
		return true
	}
	hour := r.now().Hour()
	// A start after the end means the window crosses midnight, e.g.
	// 22–6 covers [22,24) and [0,6).
	if r.activeStart > r.activeEnd {
		return hour >= r.activeStart || hour < r.activeEnd
	}
	return hour >= r.activeStart && hour < r.activeEnd
}

// checklist reads the workspace HEARTBEAT.md. Missing or empty files
// disable the beat.
func (r *Runner) checklist() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.workspace, promptFile))
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("%s is empty", promptFile)
	}
	return content, nil
}

func (r *Runner) prompt(checklist string) string {
	return fmt.Sprintf("[HEARTBEAT at %s]\n\n%s\n\nIf there is nothing that needs attention, respond with %s.",
		r.now().Format("2006-01-02 15:04"), checklist, OKToken)
}

// Deliverable strips the ok-token from a heartbeat reply and reports
// whether anything worth delivering remains.
func Deliverable(reply string) (string, bool) {
	stripped := strings.TrimSpace(strings.ReplaceAll(reply, OKToken, ""))
	if stripped == "" {
		return "", false
	}
	return stripped, true
}
