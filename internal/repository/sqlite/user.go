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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// Create inserts a new user and fills in user.ID and user.CreatedAt.
//
// There is no "SELECT ... WHERE email = ?" beforehand. Two concurrent
// registrations race on the INSERT itself and the UNIQUE index lets exactly
// one of them through; the loser gets apperror.DuplicateEmail.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	user.CreatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, created_at)
		 VALUES (?, ?, ?, ?)`,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateEmail(user.Email)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	user.ID = id

	return nil
}

// GetByEmail looks up a user by exact email match.
// Returns apperror.ErrUserNotFound if no user has that email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := db.scanUser(db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at
		 FROM users WHERE email = ?`,
		email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.UserNotFound(email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *DB) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
