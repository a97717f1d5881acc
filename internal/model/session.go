package model

import "time"

// SessionSource records how a session was minted.
type SessionSource string

const (
	SessionSourceLogin SessionSource = "login"
	SessionSourceQR    SessionSource = "qr"
)

// Session is a long-lived login session. Only the sha256 hash of the bearer
// token is stored; the token itself is returned once at creation time.
type Session struct {
	ID          string        `db:"id" json:"id"`
	UserID      string        `db:"user_id" json:"userId"`
	TokenHash   string        `db:"token_hash" json:"-"`
	CreatedFrom SessionSource `db:"created_from" json:"createdFrom"`
	ExpiresAt   time.Time     `db:"expires_at" json:"expiresAt"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
}

type CreateSessionParams struct {
	ID          string
	UserID      string
	TokenHash   string
	CreatedFrom SessionSource
	ExpiresAt   time.Time
}
