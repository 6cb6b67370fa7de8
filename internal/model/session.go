package model

import "time"

// Session is the server-side record behind a session cookie.
//
// UserName is copied from the user at login so pages can greet the user
// without a users lookup on every request.
type Session struct {
	ID        string    `json:"id"        db:"id"`
	UserID    int64     `json:"userId"    db:"user_id"`
	UserName  string    `json:"userName"  db:"user_name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// Expired reports whether the session is past its expiry at time now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
