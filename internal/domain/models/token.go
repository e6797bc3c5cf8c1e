package models

import "time"

// RefreshToken represents a refresh token record stored in the database.
// The ID is the peppered SHA-256 hash of the raw token handed to the client;
// the raw token itself is never stored.
type RefreshToken struct {
	ID         string
	Family     string
	UserID     int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	ReplacedBy *string
}

// Active reports whether the record is still usable at the given instant:
// not revoked and not expired.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}
