// Package service holds the business rules. It knows nothing about HTTP:
//
//	handler (HTTP) → AuthService / ChatService → repositories, auth, llm
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/auth"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/repository"
)

// AuthService drives registration, login and logout.
type AuthService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	sessions  *auth.SessionManager
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewAuthService wires an AuthService.
func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	sessions *auth.SessionManager,
	logger *slog.Logger,
) *AuthService {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their form names so messages match what the user typed into.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})

	return &AuthService{
		users:     users,
		passwords: passwords,
		sessions:  sessions,
		validate:  v,
		logger:    logger,
	}
}

// registration is the validated shape of a sign-up form.
type registration struct {
	Name     string `form:"name" validate:"required,max=100"`
	Email    string `form:"email" validate:"required,email,max=254"`
	Password string `form:"password" validate:"required,max=72"`
}

// AuthResult bundles what a handler needs after a successful login.
type AuthResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Register creates an account.
//
// Name and email are trimmed; the password is taken as typed. Validation
// failures name the offending field. A second account with the same email
// fails with apperror.ErrDuplicateEmail, enforced by the storage constraint.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	in := registration{
		Name:     strings.TrimSpace(name),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "password is too long")
		}
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrDuplicateEmail) {
			s.logger.Info("registration rejected: email taken", slog.String("email", in.Email))
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Login verifies credentials and starts a session.
//
// The returned errors stay distinct (ErrUserNotFound vs ErrInvalidCredentials)
// so they can be logged apart; handlers show the same text for both.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			s.logger.Info("login failed: unknown email", slog.String("email", email))
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrMalformedHash) {
			s.logger.Error("stored password hash is unreadable", slog.Int64("userID", user.ID))
		} else {
			s.logger.Info("login failed: wrong password", slog.Int64("userID", user.ID))
		}
		return nil, apperror.InvalidCredentials()
	}

	return s.startSession(ctx, user, "password")
}

// LoginWithGitHub signs in the local account whose email equals the GitHub
// account's verified primary email. Accounts are never created here, so an
// unknown email fails with apperror.ErrUserNotFound.
func (s *AuthService) LoginWithGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil || ghUser.Email == "" {
		return nil, fmt.Errorf("service/auth: GitHub user has no email")
	}

	user, err := s.users.GetByEmail(ctx, ghUser.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrUserNotFound) {
			s.logger.Info("GitHub login for unknown email",
				slog.String("login", ghUser.Login),
				slog.String("email", ghUser.Email),
			)
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	return s.startSession(ctx, user, "github")
}

// Logout ends the session carried by token. It always succeeds for
// unknown or already-ended sessions.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.End(ctx, token); err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	return nil
}

// CurrentSession resolves token to a live session or apperror.ErrUnauthorized.
func (s *AuthService) CurrentSession(ctx context.Context, token string) (*model.Session, error) {
	return s.sessions.Current(ctx, token)
}

// SessionTTL is the lifetime of sessions started by Login.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

func (s *AuthService) startSession(ctx context.Context, user *model.User, method string) (*AuthResult, error) {
	token, sess, err := s.sessions.Start(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	s.logger.Info("user logged in",
		slog.Int64("userID", user.ID),
		slog.String("method", method),
	)
	return &AuthResult{User: user, Token: token, ExpiresAt: sess.ExpiresAt}, nil
}

// validateInput runs struct validation and converts the first failure into
// an apperror naming the field.
func (s *AuthService) validateInput(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("service/auth: validating input: %w", err)
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return apperror.ValidationFailed(field, field+" is required")
	case "email":
		return apperror.ValidationFailed(field, "email must be a valid email address")
	case "max":
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	default:
		return apperror.ValidationFailed(field, field+" is invalid")
	}
}
