package session

import (
	"context"
	"sync"
	"time"
)

// Verify interface compliance.
var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*MemoryLock)(nil)
)

// MemoryStore is a process-local session store for development and tests.
// Sessions are copied on the way in and out so callers never share slices
// with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, copySession(sess))
	}
	return sessions, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func copySession(sess *Session) *Session {
	out := *sess
	out.Messages = append([]Message(nil), sess.Messages...)
	out.DocumentsUsed = append([]string(nil), sess.DocumentsUsed...)
	return &out
}

// MemoryLock is a process-local Locker. TTLs are honored by expiry check on
// the next Acquire rather than by a background sweeper.
type MemoryLock struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewMemoryLock creates an in-memory lock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{locks: make(map[string]time.Time)}
}

func (l *MemoryLock) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.locks[name]; held && time.Now().Before(expiry) {
		return false, nil
	}
	l.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (l *MemoryLock) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, name)
	return nil
}
