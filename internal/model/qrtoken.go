package model

import "time"

// QRToken is the single persistent record of the exchange protocol.
// The id is the public lookup key embedded in the QR payload; the secret
// is the private verification value and must never be logged.
type QRToken struct {
	ID                            string     `db:"id" json:"id"`
	Secret                        string     `db:"secret" json:"-"`
	CreatedAt                     time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt                     time.Time  `db:"expires_at" json:"expiresAt"`
	Used                          bool       `db:"used" json:"used"`
	UserID                        *string    `db:"user_id" json:"userId,omitempty"`
	VerifiedAt                    *time.Time `db:"verified_at" json:"verifiedAt,omitempty"`
	SessionCreationToken          *string    `db:"session_creation_token" json:"-"`
	SessionCreationTokenExpiresAt *time.Time `db:"session_creation_token_expires_at" json:"sessionCreationTokenExpiresAt,omitempty"`
}

// Expired reports whether the token is logically dead at the given time.
// Before verification the first TTL applies; after verification only the
// session-creation token TTL matters. A verified record whose token has
// been cleared (claimed) is also dead.
func (t *QRToken) Expired(now time.Time) bool {
	if t.Used {
		return t.SessionCreationTokenExpiresAt == nil || now.After(*t.SessionCreationTokenExpiresAt)
	}
	return now.After(t.ExpiresAt)
}

type CreateQRTokenParams struct {
	ID        string
	Secret    string
	ExpiresAt time.Time
}

type VerifyQRTokenParams struct {
	ID                            string
	UserID                        string
	VerifiedAt                    time.Time
	SessionCreationToken          string
	SessionCreationTokenExpiresAt time.Time
}
