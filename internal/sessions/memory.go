package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/sharphq/sharpbot/pkg/models"
)

// MemoryStore is an in-memory session store used in tests and for
// ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[key]; ok {
		return cloneSession(existing), nil
	}
	now := time.Now()
	session := &models.Session{Key: key, CreatedAt: now, UpdatedAt: now}
	s.sessions[key] = cloneSession(session)
	return session, nil
}

func (s *MemoryStore) Save(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.UpdatedAt = time.Now()
	s.sessions[session.Key] = cloneSession(session)
	return nil
}

func (s *MemoryStore) History(_ context.Context, key string, n int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return TailWithoutSystem(session.Messages, n), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneSession(in *models.Session) *models.Session {
	out := *in
	out.Messages = make([]models.ChatMessage, len(in.Messages))
	copy(out.Messages, in.Messages)
	return &out
}
