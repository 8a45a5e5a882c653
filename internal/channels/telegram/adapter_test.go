package telegram

import (
	"testing"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/sharphq/sharpbot/internal/bus"
)

func newTestAdapter(t *testing.T, allowed ...string) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{Token: "123:test-token", AllowedSenders: allowed}, bus.New(4))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewAdapterRequiresToken(t *testing.T) {
	if _, err := NewAdapter(Config{}, bus.New(4)); err == nil {
		t.Fatal("missing token accepted")
	}
}

func TestConvertMapsFields(t *testing.T) {
	a := newTestAdapter(t)
	msg := &tgmodels.Message{
		ID:   7,
		Text: "hello",
		Chat: tgmodels.Chat{ID: 42},
		From: &tgmodels.User{ID: 1001, FirstName: "Alice", Username: "alice"},
		Date: 1700000000,
	}

	got := a.convert(msg)
	if got.Channel != "telegram" || got.ChatID != "42" || got.SenderID != "1001" {
		t.Fatalf("routing: %+v", got)
	}
	if got.Content != "hello" {
		t.Fatalf("content: %q", got.Content)
	}
	if got.Metadata["sender_name"] != "Alice" {
		t.Fatalf("metadata: %+v", got.Metadata)
	}
	if got.SessionKey() != "telegram:42" {
		t.Fatalf("session key: %q", got.SessionKey())
	}
}

func TestConvertUsesCaptionAndMedia(t *testing.T) {
	a := newTestAdapter(t)
	msg := &tgmodels.Message{
		ID:      8,
		Caption: "look at this",
		Chat:    tgmodels.Chat{ID: 42},
		Photo:   []tgmodels.PhotoSize{{FileID: "small"}, {FileID: "big"}},
	}

	got := a.convert(msg)
	if got.Content != "look at this" {
		t.Fatalf("caption not promoted: %q", got.Content)
	}
	// Largest photo size wins.
	if len(got.Media) != 1 || got.Media[0] != "telegram-file:big" {
		t.Fatalf("media: %v", got.Media)
	}
}

func TestSendWithoutStartFails(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.Send(nil, nil); err == nil {
		t.Fatal("send before start accepted")
	}
}
