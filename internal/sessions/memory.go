package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"waste-track/tracking/tracking-backend/internal/shipments"
)

// MemoryStore keeps drafts in process memory. Drafts untouched for longer
// than the TTL read as missing and are dropped by Sweep.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*shipments.Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an in-memory draft store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*shipments.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, session *shipments.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = clone(session)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*shipments.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok || s.expired(session) {
		return nil, shipments.ErrDraftNotFound
	}
	return clone(session), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep removes expired drafts and returns how many were dropped.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if s.expired(session) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) expired(session *shipments.Session) bool {
	return s.ttl > 0 && s.now().Sub(session.UpdatedAt) > s.ttl
}

func clone(session *shipments.Session) *shipments.Session {
	c := *session
	if session.FailedAttempts != nil {
		c.FailedAttempts = make(map[shipments.Step]int, len(session.FailedAttempts))
		for step, n := range session.FailedAttempts {
			c.FailedAttempts[step] = n
		}
	}
	if session.RecordID != nil {
		id := *session.RecordID
		c.RecordID = &id
	}
	return &c
}
