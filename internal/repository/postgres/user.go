package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

// Create inserts the user in one statement; the UNIQUE index on email
// turns a concurrent duplicate into apperror.DuplicateEmail.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		user.Name, user.Email, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateEmail(user.Email)
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.UserNotFound(email)
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}
