// Package apperror defines the application's error taxonomy.
//
// Every failure a caller can observe is an *AppError wrapping one of the
// sentinel errors below. Layers above the repository match on the sentinel
// with errors.Is and read the human-readable Message for display.
//
// Some sentinels are refinements of broader ones (ErrDuplicateEmail is a
// conflict, ErrUserNotFound is a not-found), so a handler that only knows
// about ErrConflict still maps a duplicate email correctly.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrProvider     = errors.New("provider error")
	ErrUnavailable  = errors.New("unavailable")

	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrDuplicateEmail     = fmt.Errorf("duplicate email: %w", ErrConflict)
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptyMessage       = fmt.Errorf("empty message: %w", ErrValidation)
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// UserNotFound reports that no account is registered under email.
func UserNotFound(email string) *AppError {
	return &AppError{
		Err:     ErrUserNotFound,
		Message: fmt.Sprintf("no account registered for %s", email),
		Field:   "email",
	}
}

// DuplicateEmail reports that email is already taken by another account.
func DuplicateEmail(email string) *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: fmt.Sprintf("an account with email %s already exists", email),
		Field:   "email",
	}
}

// InvalidCredentials reports a password that does not match the stored hash.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "invalid email or password",
	}
}

// Unauthorized reports a missing, expired or revoked session.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// ProviderFailed wraps a failure of the external completion API.
// The cause is kept in the chain for logging but never shown to users.
func ProviderFailed(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrProvider, cause),
		Message: "the assistant is unavailable, please try again",
	}
}

// EmptyMessage reports a blank chat message.
func EmptyMessage() *AppError {
	return &AppError{
		Err:     ErrEmptyMessage,
		Message: "message cannot be empty",
		Field:   "message",
	}
}

// Unavailable wraps a backing store failure that prevents serving the request.
// Like ProviderFailed, the cause is for logs only.
func Unavailable(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrUnavailable, cause),
		Message: "service temporarily unavailable, please try again",
	}
}
