package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sharphq/sharpbot/pkg/models"
)

func TestPublishConsumeRoundTrip(t *testing.T) {
	b := New(4)
	ctx := context.Background()

	in := &models.InboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"}
	if err := b.PublishInbound(ctx, in); err != nil {
		t.Fatalf("publish inbound: %v", err)
	}

	got, ok := b.TryConsumeInbound(ctx, time.Second)
	if !ok {
		t.Fatal("expected inbound message, got timeout")
	}
	if got.Content != "hi" || got.SessionKey() != "telegram:42" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestTryConsumeTimeout(t *testing.T) {
	b := New(1)
	start := time.Now()
	msg, ok := b.TryConsumeInbound(context.Background(), 20*time.Millisecond)
	if ok || msg != nil {
		t.Fatalf("expected timeout, got %+v", msg)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before timeout elapsed")
	}
}

func TestFIFOPerProducer(t *testing.T) {
	b := New(16)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := b.PublishOutbound(ctx, &models.OutboundMessage{
			Channel: "slack",
			ChatID:  "c1",
			Content: fmt.Sprintf("msg-%d", i),
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		got, ok := b.TryConsumeOutbound(ctx, time.Second)
		if !ok {
			t.Fatalf("missing message %d", i)
		}
		if want := fmt.Sprintf("msg-%d", i); got.Content != want {
			t.Fatalf("order violated: got %q want %q", got.Content, want)
		}
	}
}

func TestPublishBlocksWhenFullUntilConsumed(t *testing.T) {
	b := New(1)
	ctx := context.Background()

	if err := b.PublishInbound(ctx, &models.InboundMessage{Content: "first"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- b.PublishInbound(ctx, &models.InboundMessage{Content: "second"})
	}()

	select {
	case err := <-done:
		t.Fatalf("publish returned before consumer drained: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if _, ok := b.TryConsumeInbound(ctx, time.Second); !ok {
		t.Fatal("consume failed")
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked publish: %v", err)
	}
}

func TestPublishHonorsCancellation(t *testing.T) {
	b := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	_ = b.PublishInbound(ctx, &models.InboundMessage{Content: "fill"})

	cancel()
	if err := b.PublishInbound(ctx, &models.InboundMessage{Content: "stuck"}); err == nil {
		t.Fatal("expected context error on full queue with cancelled context")
	}
}
