// Package store provides an in-memory conversation store for running the
// workshop without AWS.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"santa-workshop/internal/domain"
	"santa-workshop/internal/usecase"
)

var _ usecase.ConversationStore = (*MemoryStore)(nil)

type session struct {
	meta  domain.Session
	turns []domain.Turn
}

// MemoryStore keeps sessions in process memory. Safe for concurrent access.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("store: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("store: session already exists")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = s.CreatedAt
	}
	m.sessions[s.ID] = &session{meta: s}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.meta, nil
}

// AppendTurn stores t and bumps the session counter. A sequence number that
// is already taken is rejected, matching the DynamoDB store.
func (m *MemoryStore) AppendTurn(_ context.Context, sessionID string, t domain.Turn) error {
	if t.Seq <= 0 {
		return errors.New("store: turn sequence must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	for _, existing := range s.turns {
		if existing.Seq == t.Seq {
			return errors.New("store: turn sequence already exists")
		}
	}
	now := m.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	s.turns = append(s.turns, copyTurn(t))
	s.meta.Turns++
	s.meta.LastActivity = now
	return nil
}

// ListTurns returns the most recent limit turns in chronological order.
// A non-positive limit returns the whole conversation.
func (m *MemoryStore) ListTurns(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return []domain.Turn{}, nil
	}
	turns := s.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	for i, t := range turns {
		out[i] = copyTurn(t)
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

// copyTurn detaches the pointer fields so callers cannot mutate stored state.
func copyTurn(t domain.Turn) domain.Turn {
	if t.Media != nil {
		media := *t.Media
		t.Media = &media
	}
	if t.Action != nil {
		action := *t.Action
		t.Action = &action
	}
	return t
}
