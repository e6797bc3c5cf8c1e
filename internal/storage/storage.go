package storage

import "errors"

// Sentinel errors shared by all storage backends. Services match on these
// with errors.Is and translate them into caller-facing errors.
var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrTokenNotFound     = errors.New("refresh token not found")

	// ErrTokenRevoked is returned by RotateRefreshToken when the
	// compare-and-set on the revoked flag loses: the record was already
	// revoked by the time the update committed. Exactly one concurrent
	// rotation of the same token can succeed; every other caller gets this.
	ErrTokenRevoked = errors.New("refresh token already revoked")
)
