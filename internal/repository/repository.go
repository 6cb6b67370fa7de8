// Package repository declares the storage contracts used by the service layer.
// Implementations live in the sqlite, postgres and redis subpackages.
package repository

import (
	"context"
	"time"

	"github.com/sakif/chatrelay/internal/model"
)

// UserRepository is the credential store.
//
// Create must be a single atomic insert: when the email is already taken it
// returns an error matching apperror.ErrDuplicateEmail and writes nothing.
// Lookups return an error matching apperror.ErrUserNotFound when no row exists.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// SessionRepository stores server-side session records.
//
// Get returns an error matching apperror.ErrNotFound for unknown ids.
// Delete of an unknown id is not an error.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
