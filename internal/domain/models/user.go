package models

import "time"

// User roles for access control.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account. ID is the internal key and never
// leaves the service layer; PublicID is the opaque identifier exposed over
// the API.
type User struct {
	ID          int64
	PublicID    string
	Email       string
	PassHash    string
	FirstName   string
	LastName    string
	Role        string
	IsActive    bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsAdmin reports whether the user has administrative privileges.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
