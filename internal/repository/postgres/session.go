package postgres

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

func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, user_name, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.UserID, s.UserName, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting session: %w", err)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s := &model.Session{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, user_name, created_at, expires_at
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.UserID, &s.UserName, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", id)
		}
		return nil, fmt.Errorf("postgres: getting session %s: %w", id, err)
	}
	return s, nil
}

func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: deleting session %s: %w", id, err)
	}
	return nil
}

func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: deleting expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: counting expired sessions: %w", err)
	}
	return n, nil
}
