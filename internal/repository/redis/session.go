// Package redis stores sessions in Redis. Each session is a JSON value under
// "session:<id>" whose Redis TTL matches the session expiry, so expired
// sessions disappear without a sweeper.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/repository"
)

const keyPrefix = "session:"

var _ repository.SessionRepository = (*SessionStore)(nil)

// SessionStore implements repository.SessionRepository on a Redis client.
type SessionStore struct {
	client goredis.Cmdable
	now    func() time.Time
}

// NewSessionStore wraps an existing client.
func NewSessionStore(client goredis.Cmdable) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

// Dial connects to the Redis server described by url
// (redis://[:password@]host:port/db) and verifies it answers PING.
func Dial(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parsing url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting: %w", err)
	}
	return client, nil
}

func sessionKey(id string) string {
	return keyPrefix + id
}

func (s *SessionStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("redis: session %s already expired", sess.ID)
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis: encoding session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: storing session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("redis: getting session %s: %w", id, err)
	}

	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("redis: decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: deleting session %s: %w", id, err)
	}
	return nil
}

// DeleteExpiredSessions is a no-op: Redis expires keys on its own.
func (s *SessionStore) DeleteExpiredSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}
