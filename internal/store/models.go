package store

import "time"

const (
	VisibilityShared  = "shared"
	VisibilityPrivate = "private"
)

type User struct {
	ID            string
	DisplayName   string
	Email         string
	PasswordHash  string
	ActiveGroupID *string
	CreatedAt     time.Time
}

type Group struct {
	ID         string
	Name       string
	InviteCode string
	CreatedAt  time.Time
}

type Item struct {
	ID         string
	Text       string
	Visibility string
	Completed  bool
	Order      int
	GroupID    string
	CreatedBy  string
	CreatedAt  time.Time
}

// ItemPatch carries a partial update. Nil fields are left untouched;
// presence is what distinguishes "clear" from "omitted".
type ItemPatch struct {
	Text       *string
	Completed  *bool
	Visibility *string
	Order      *int
}

// OrderUpdate assigns one item its position within a reorder batch.
type OrderUpdate struct {
	ID    string
	Order int
}
