package models

import "time"

// Item statuses.
const (
	ItemStatusDraft    = "draft"
	ItemStatusActive   = "active"
	ItemStatusArchived = "archived"
)

// ValidItemStatus reports whether s is one of the known item statuses.
func ValidItemStatus(s string) bool {
	switch s {
	case ItemStatusDraft, ItemStatusActive, ItemStatusArchived:
		return true
	}
	return false
}

// Item is the demo CRUD resource. Like User it carries both an internal key
// and a public opaque identifier.
type Item struct {
	ID          int64
	PublicID    string
	OwnerID     int64
	Name        string
	Description string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
