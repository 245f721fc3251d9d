package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridoc/veridoc/internal/log"
)

// Verify interface compliance.
var (
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisLock)(nil)
)

const (
	sessionPrefix   = "veridoc:session:"
	sessionIndexKey = "veridoc:sessions"
	lockPrefix      = "veridoc:lock:"
)

// RedisStore persists sessions as JSON values with a TTL, plus a set index
// for listings.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger log.Logger
}

// NewRedisStore creates a Redis-backed session store. A non-positive ttl
// disables expiration.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger log.Logger) *RedisStore {
	if logger == nil {
		logger = log.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// Get retrieves a session by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", id, err)
	}
	return &sess, nil
}

// Save stores a session and indexes its ID.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sess.ID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionPrefix+sess.ID, data, s.ttl)
	pipe.SAdd(ctx, sessionIndexKey, sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionPrefix+id)
	pipe.SRem(ctx, sessionIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// List returns all live sessions. Index entries whose values expired are
// cleaned up along the way.
func (s *RedisStore) List(ctx context.Context) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing session ids: %w", err)
	}

	var sessions []*Session
	var expired []any
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if len(expired) > 0 {
		if err := s.client.SRem(ctx, sessionIndexKey, expired...).Err(); err != nil {
			s.logger.Warn("failed to prune expired session index entries", "error", err)
		}
	}
	return sessions, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RedisLock serializes session turns across instances using SETNX with a
// TTL. A unique owner ID prevents accidental release by other instances.
type RedisLock struct {
	client  *redis.Client
	ownerID string
}

// NewRedisLock creates a Redis-backed lock.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, ownerID: generateOwnerID()}
}

// generateOwnerID creates a unique identifier for this lock holder.
// Format: hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

// Acquire attempts to take the named lock with the given TTL.
func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockPrefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	return ok, nil
}

// releaseScript deletes the lock only when the owner matches, so an expired
// lock re-acquired elsewhere is never released by the old holder.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release frees the named lock if held by this instance.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing lock %s: %w", name, err)
	}
	return nil
}
