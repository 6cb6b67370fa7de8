package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/repository"
)

// DefaultSessionTTL is how long a login lasts when no TTL is configured.
const DefaultSessionTTL = 24 * time.Hour

// SessionManager issues, resolves and revokes session tokens.
//
// A client is anonymous until Start succeeds, authenticated while its token
// resolves through Current, and anonymous again after End or expiry. Expiry
// is a fixed TTL from login; there is no sliding renewal.
type SessionManager struct {
	tokens *TokenService
	store  repository.SessionRepository
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionManager wires a SessionManager. A non-positive ttl selects DefaultSessionTTL.
func NewSessionManager(tokens *TokenService, store repository.SessionRepository, ttl time.Duration, logger *slog.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		tokens: tokens,
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// TTL returns the lifetime given to new sessions.
func (m *SessionManager) TTL() time.Duration { return m.ttl }

// Start records a new session for user and returns its signed token.
func (m *SessionManager) Start(ctx context.Context, user *model.User) (string, *model.Session, error) {
	now := m.now().UTC()
	sess := &model.Session{
		ID:        xid.New().String(),
		UserID:    user.ID,
		UserName:  user.Name,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("auth: storing session for user %d: %w", user.ID, err)
	}

	token, err := m.tokens.Generate(sess.ID, sess.UserID, sess.UserName, sess.ExpiresAt)
	if err != nil {
		// Don't leave a row behind that no token can ever reference.
		_ = m.store.DeleteSession(ctx, sess.ID)
		return "", nil, err
	}

	return token, sess, nil
}

// Current resolves token to its live session.
//
// Every failure (bad signature, expired, revoked, unknown) is reported as
// apperror.ErrUnauthorized; the cause is logged at debug level only.
// Storage failures are returned as-is so callers can tell an outage from a
// logged-out user.
func (m *SessionManager) Current(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, apperror.Unauthorized("login required")
	}

	claims, err := m.tokens.Validate(token)
	if err != nil {
		m.logger.Debug("session token rejected", slog.String("reason", err.Error()))
		return nil, apperror.Unauthorized("login required")
	}

	sess, err := m.store.GetSession(ctx, claims.SessionID())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("session has ended")
		}
		return nil, fmt.Errorf("auth: loading session: %w", err)
	}

	if sess.Expired(m.now()) {
		if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
			m.logger.Warn("failed to delete expired session",
				slog.String("sessionID", sess.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.Unauthorized("session has expired")
	}

	return sess, nil
}

// End revokes the session named by token. It is idempotent: an empty,
// malformed, expired or already-revoked token is a no-op.
func (m *SessionManager) End(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	// An expired token's row is already dead and is removed by PurgeExpired.
	claims, err := m.tokens.Validate(token)
	if err != nil {
		return nil
	}

	if err := m.store.DeleteSession(ctx, claims.SessionID()); err != nil {
		return fmt.Errorf("auth: ending session: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired session row and returns how many went.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredSessions(ctx, m.now().UTC())
}
