package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/repository"
)

var _ repository.SessionRepository = (*DB)(nil)

// CreateSession stores a new session row. The caller assigns the ID.
func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, user_name, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID,
		s.UserID,
		s.UserName,
		s.CreatedAt,
		s.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given id, expired or not.
// Expiry is the session manager's decision.
func (db *DB) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, user_name, created_at, expires_at
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&s.ID, &s.UserID, &s.UserName, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", id, err)
	}
	return &s, nil
}

// DeleteSession removes a session. Deleting a missing id is a no-op.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

// DeleteExpiredSessions purges every session whose expiry is at or before now.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting expired sessions: %w", err)
	}
	return n, nil
}
