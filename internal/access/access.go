// Package access decides whether a caller may see or mutate an item. It is
// evaluated server-side on every mutation; nothing from the client is
// trusted.
package access

import "basket/api/internal/store"

type Decision int

const (
	Allow Decision = iota
	// DenyHidden means the visibility filter hides the row from the caller.
	// Surfaced as NotFound so callers can never distinguish another member's
	// private item from a row that does not exist.
	DenyHidden
	// DenyVisibilityChange means the caller can see the item but is not its
	// creator; only the creator may flip shared/private.
	DenyVisibilityChange
)

// CanSee reports whether the item appears in the caller's list: same group,
// and either shared or created by the caller.
func CanSee(item store.Item, userID, activeGroupID string) bool {
	return item.GroupID == activeGroupID &&
		(item.Visibility == store.VisibilityShared || item.CreatedBy == userID)
}

// ForMutation gates update and delete. changesVisibility must be set when the
// mutation touches the visibility field; that path requires the creator
// unconditionally, so a non-creator cannot unlock someone else's private item
// by toggling it shared.
func ForMutation(item store.Item, userID, activeGroupID string, changesVisibility bool) Decision {
	if !CanSee(item, userID, activeGroupID) {
		return DenyHidden
	}
	if changesVisibility && item.CreatedBy != userID {
		return DenyVisibilityChange
	}
	return Allow
}
