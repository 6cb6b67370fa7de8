// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// Email is the login key. It is compared byte for byte, so "Ana@x.com" and
// "ana@x.com" are different accounts. The UNIQUE constraint on users.email
// is what guarantees one account per address, not an application-level check.
//
// PasswordHash holds the bcrypt output ($2a$<cost>$<salt+digest>) and is
// excluded from JSON so it can never leak through an API response.
type User struct {
	ID           int64     `json:"id"        db:"id"`
	Name         string    `json:"name"      db:"name"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
