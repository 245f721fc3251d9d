package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the session does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Implementations must return ErrNotFound from Get
// for unknown IDs.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
	Ping(ctx context.Context) error
}

// Locker serializes turns of the same session across instances. The
// in-memory implementation is process-local; the Redis implementation uses
// SETNX with owner verification.
type Locker interface {
	// Acquire takes the named lock for at most ttl. Returns false when the
	// lock is held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release frees the named lock if held by this instance. Safe to call
	// after expiry.
	Release(ctx context.Context, name string) error
}
