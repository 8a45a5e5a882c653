// Package sessions persists per-(channel, chat) conversation memory.
package sessions

import (
	"context"

	"github.com/sharphq/sharpbot/pkg/models"
)

// Store is the interface for session persistence. The agent loop is the
// only writer for a given key within a turn, so Save may be
// last-writer-wins per key.
type Store interface {
	// GetOrCreate returns the session for key, creating it if absent.
	// It is idempotent.
	GetOrCreate(ctx context.Context, key string) (*models.Session, error)

	// Save persists the session atomically per key.
	Save(ctx context.Context, session *models.Session) error

	// History returns the last n non-system messages for key in order.
	// The system prompt is rebuilt fresh by the context pipeline, so
	// stored system messages are excluded.
	History(ctx context.Context, key string, n int) ([]models.ChatMessage, error)

	// Close releases resources.
	Close() error
}

// TailWithoutSystem returns the last n non-system messages of log. The
// cut never lands mid tool exchange: leading tool messages whose
// assistant-with-tool_calls fell outside the window are dropped, since
// providers reject orphan tool results.
func TailWithoutSystem(log []models.ChatMessage, n int) []models.ChatMessage {
	filtered := make([]models.ChatMessage, 0, len(log))
	for _, m := range log {
		if m.Role == models.RoleSystem {
			continue
		}
		filtered = append(filtered, m)
	}
	if n > 0 && len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	for len(filtered) > 0 && filtered[0].Role == models.RoleTool {
		filtered = filtered[1:]
	}
	return filtered
}
