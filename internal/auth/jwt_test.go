package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ValidSecret(t *testing.T) {
	if _, err := NewTokenService("this-is-16-chars"); err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
}

// =========================================================================
// GENERATE / VALIDATE
// =========================================================================

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("sess-1", 42, "Ana", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if n := strings.Count(token, "."); n != 2 {
		t.Errorf("Generate() token doesn't look like a JWT (expected 2 dots, got %d)", n)
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("sess-abc", 42, "Ana", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.SessionID() != "sess-abc" {
		t.Errorf("SessionID() = %q, want %q", claims.SessionID(), "sess-abc")
	}
	userID, _ := claims.UserID()
	if userID != 42 {
		t.Errorf("UserID() = %d, want 42", userID)
	}
	if claims.Name != "Ana" {
		t.Errorf("Name = %q, want %q", claims.Name, "Ana")
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Generate("sess-1", 1, "Ana", time.Now().Add(-time.Second))

	_, err := ts.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() error = %v, want ErrTokenExpired", err)
	}
}

func TestValidate_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Generate("sess-1", 1, "Ana", time.Now().Add(time.Hour))
	tampered := token[:len(token)-3] + "xxx"

	if _, err := ts.Validate(tampered); err == nil {
		t.Fatal("Validate() should return an error for a tampered token")
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("correct-secret-32-chars-long!!!!")
	ts2, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!")

	token, _ := ts1.Generate("sess-1", 1, "Ana", time.Now().Add(time.Hour))

	if _, err := ts2.Validate(token); err == nil {
		t.Fatal("Validate() should fail when using a different secret")
	}
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	ts := newTestTokenService(t)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sess-1",
			Subject:   "1",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("building none token: %v", err)
	}

	if _, err := ts.Validate(unsigned); err == nil {
		t.Fatal("Validate() accepted an unsigned token")
	}
}

func TestValidate_WrongIssuer(t *testing.T) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sess-1",
			Subject:   "1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))

	if _, err := newTestTokenService(t).Validate(token); err == nil {
		t.Fatal("Validate() accepted a token from another issuer")
	}
}

func TestValidate_NonNumericSubject(t *testing.T) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sess-1",
			Subject:   "not-a-number",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))

	if _, err := newTestTokenService(t).Validate(token); err == nil {
		t.Fatal("Validate() accepted a token with a non-numeric subject")
	}
}

func TestValidate_Garbage(t *testing.T) {
	ts := newTestTokenService(t)

	for _, in := range []string{"", "not.a.jwt.token", "abc"} {
		if _, err := ts.Validate(in); err == nil {
			t.Errorf("Validate(%q) should return an error", in)
		}
	}
}
