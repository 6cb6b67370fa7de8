// Package auth implements password hashing, session tokens and the
// middleware that guards protected routes.
//
// A session token is an HS256 JWT carried in an HttpOnly cookie:
//
//	HEADER.PAYLOAD.SIGNATURE
//	payload: {"jti":"<session id>","sub":"<user id>","name":"Ana","exp":...,"iss":"chatrelay"}
//
// The signature proves the token was minted here; the jti ties it to a
// server-side session row so logout can revoke it before it expires.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chatrelay"

// MinSecretLength is the shortest signing secret NewTokenService accepts.
const MinSecretLength = 16

// ErrTokenExpired is returned by Validate for a well-signed token past its exp.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and verifies session tokens with an HMAC secret.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// Example: SESSION_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: session secret must be at least %d characters", MinSecretLength)
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SessionID returns the id of the server-side session row.
func (c *SessionClaims) SessionID() string { return c.ID }

// UserID returns the numeric user id stored in the subject claim.
func (c *SessionClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("auth: token subject %q is not a user id: %w", c.Subject, err)
	}
	return id, nil
}

// Generate signs a token for the given session that expires at expiresAt.
func (s *TokenService) Generate(sessionID string, userID int64, name string, expiresAt time.Time) (string, error) {
	c := SessionClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token string.
//
// The parser pins the algorithm to HS256 (so "none" or RS256-confusion tokens
// are rejected), requires exp, and checks the issuer.
func (s *TokenService) Validate(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.ID == "" {
		return nil, fmt.Errorf("auth: token has no session id")
	}
	if _, err := c.UserID(); err != nil {
		return nil, err
	}

	return c, nil
}
