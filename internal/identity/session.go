package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"photo-indexer/internal/database"
)

// Session is one pass through the review queue. Skipped faces stay pending
// but are not offered again within the session.
type Session struct {
	ID string

	m        *Manager
	mu       sync.Mutex
	skipped  map[int64]struct{}
	lastUsed time.Time
}

// NewSession starts a review session.
func (m *Manager) NewSession() *Session {
	return &Session{
		ID:       uuid.NewString(),
		m:        m,
		skipped:  make(map[int64]struct{}),
		lastUsed: time.Now(),
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Next returns the oldest pending face not skipped in this session, or nil
// when the queue is exhausted.
func (s *Session) Next(ctx context.Context) (*database.Face, error) {
	s.mu.Lock()
	exclude := make(map[int64]struct{}, len(s.skipped))
	for id := range s.skipped {
		exclude[id] = struct{}{}
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()

	return s.m.store.NextPendingFace(ctx, exclude)
}

// Skip hides a face for the rest of the session.
func (s *Session) Skip(faceID int64) {
	s.mu.Lock()
	s.skipped[faceID] = struct{}{}
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Skipped returns the number of faces skipped so far.
func (s *Session) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.skipped)
}

// Identify names the face and moves on.
func (s *Session) Identify(ctx context.Context, faceID int64, name string) (*database.Person, error) {
	s.touch()
	return s.m.Identify(ctx, faceID, name)
}

// NotAPerson marks the face ignored.
func (s *Session) NotAPerson(ctx context.Context, faceID int64) error {
	s.touch()
	return s.m.MarkIgnored(ctx, faceID)
}

// Sessions keeps review sessions by id and forgets idle ones.
type Sessions struct {
	m       *Manager
	idle    time.Duration
	mu      sync.Mutex
	byID    map[string]*Session
	nowFunc func() time.Time
}

// NewSessions creates a registry that expires sessions idle for longer than
// idle.
func NewSessions(m *Manager, idle time.Duration) *Sessions {
	return &Sessions{m: m, idle: idle, byID: make(map[string]*Session), nowFunc: time.Now}
}

// Get returns the session with id, starting a new one when id is empty or
// unknown.
func (r *Sessions) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expireLocked()
	if s, ok := r.byID[id]; ok && id != "" {
		return s
	}
	s := r.m.NewSession()
	r.byID[s.ID] = s
	return s
}

// Len returns the number of live sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Sessions) expireLocked() {
	cutoff := r.nowFunc().Add(-r.idle)
	for id, s := range r.byID {
		s.mu.Lock()
		stale := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if stale {
			delete(r.byID, id)
		}
	}
}
