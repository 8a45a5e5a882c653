package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sharphq/sharpbot/internal/bus"
	"github.com/sharphq/sharpbot/pkg/models"
)

// fakeAdapter records sends for dispatcher tests.
type fakeAdapter struct {
	name string

	mu      sync.Mutex
	sent    []*models.OutboundMessage
	running bool
}

func (f *fakeAdapter) Name() string                    { return f.name }
func (f *fakeAdapter) Start(ctx context.Context) error { f.running = true; return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error  { f.running = false; return nil }
func (f *fakeAdapter) Running() bool                   { return f.running }

func (f *fakeAdapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestRegistryRegisterAndStartAll(t *testing.T) {
	r := NewRegistry()
	a := &fakeAdapter{name: "telegram"}
	b := &fakeAdapter{name: "slack"}
	r.Register(a)
	r.Register(b)

	if got := len(r.All()); got != 2 {
		t.Fatalf("adapters: %d", got)
	}
	if err := r.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.Running() || !b.Running() {
		t.Fatal("adapters not running after StartAll")
	}
	if err := r.StopAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Running() || b.Running() {
		t.Fatal("adapters still running after StopAll")
	}
}

func TestDispatcherRoutesByChannelAndKeepsOrder(t *testing.T) {
	b := bus.New(16)
	r := NewRegistry()
	tg := &fakeAdapter{name: "telegram"}
	r.Register(tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go (&Dispatcher{Bus: b, Registry: r}).Run(ctx)

	for i := 0; i < 3; i++ {
		if err := b.PublishOutbound(ctx, &models.OutboundMessage{
			Channel: "telegram", ChatID: "42", Content: fmt.Sprintf("msg-%d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}
	// A message for an unregistered channel is dropped, not fatal.
	if err := b.PublishOutbound(ctx, &models.OutboundMessage{
		Channel: "matrix", ChatID: "x", Content: "nope",
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for tg.sentCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("delivered %d of 3", tg.sentCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	tg.mu.Lock()
	defer tg.mu.Unlock()
	for i, msg := range tg.sent {
		if msg.Content != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("order broken at %d: %q", i, msg.Content)
		}
	}
}

func TestAllowList(t *testing.T) {
	list := NewAllowList([]string{"12345|alice", "Bob"})

	if !list.Allowed("12345") {
		t.Fatal("id not matched")
	}
	if !list.Allowed("99", "Alice") {
		t.Fatal("alias not matched case-insensitively")
	}
	if !list.Allowed("bob") {
		t.Fatal("single-alias entry not matched")
	}
	if list.Allowed("mallory", "667") {
		t.Fatal("unknown sender allowed")
	}
	if !NewAllowList(nil).Allowed("anyone") {
		t.Fatal("empty list should allow everyone")
	}
}

func TestDedupWindow(t *testing.T) {
	d := NewDedup(2)
	if d.Seen("a") {
		t.Fatal("fresh id reported seen")
	}
	if !d.Seen("a") {
		t.Fatal("repeat not detected")
	}
	d.Seen("b")
	d.Seen("c") // evicts "a"
	if d.Seen("a") {
		t.Fatal("evicted id still remembered")
	}
	if d.Seen("") {
		t.Fatal("empty id deduplicated")
	}
}

func TestChunkerPrefersParagraphBreaks(t *testing.T) {
	c := NewChunker(30)
	text := "first paragraph here\n\nsecond paragraph that is longer"
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("chunks: %q", chunks)
	}
	if chunks[0] != "first paragraph here" {
		t.Fatalf("first chunk: %q", chunks[0])
	}
}

func TestChunkerHardBreaksUnbrokenText(t *testing.T) {
	c := NewChunker(10)
	chunks := c.Chunk(strings.Repeat("x", 25))
	if len(chunks) != 3 {
		t.Fatalf("chunks: %d", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk) > 10 {
			t.Fatalf("oversized chunk: %q", chunk)
		}
	}
}

func TestChunkerShortTextPassesThrough(t *testing.T) {
	c := NewChunker(100)
	chunks := c.Chunk("hello")
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("chunks: %q", chunks)
	}
	if c.Chunk("") != nil {
		t.Fatal("empty text should produce no chunks")
	}
}

func TestCLIAdapterRoundTrip(t *testing.T) {
	b := bus.New(4)
	in := strings.NewReader("hello bot\n\n  \nsecond line\n")
	var out strings.Builder
	a := &CLIAdapter{Bus: b, In: in, Out: &out}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !a.Running() {
		t.Fatal("not running after start")
	}

	msg, ok := b.TryConsumeInbound(ctx, time.Second)
	if !ok || msg.Content != "hello bot" {
		t.Fatalf("first message: %+v", msg)
	}
	if msg.Channel != models.ChannelCLI || msg.ChatID != models.DefaultChatID {
		t.Fatalf("routing: %+v", msg)
	}
	msg, ok = b.TryConsumeInbound(ctx, time.Second)
	if !ok || msg.Content != "second line" {
		t.Fatalf("blank lines not skipped: %+v", msg)
	}

	if err := a.Send(ctx, &models.OutboundMessage{Content: "hi there"}); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hi there\n" {
		t.Fatalf("output: %q", out.String())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if a.Running() {
		t.Fatal("still running after stop")
	}
}
