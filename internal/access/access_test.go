package access

import (
	"testing"

	"basket/api/internal/store"
)

func TestCanSee(t *testing.T) {
	tests := []struct {
		name        string
		item        store.Item
		userID      string
		activeGroup string
		want        bool
	}{
		{
			name: "shared item in own group",
			item: store.Item{GroupID: "g1", Visibility: store.VisibilityShared, CreatedBy: "other"},
			userID: "me", activeGroup: "g1",
			want: true,
		},
		{
			name: "own private item",
			item: store.Item{GroupID: "g1", Visibility: store.VisibilityPrivate, CreatedBy: "me"},
			userID: "me", activeGroup: "g1",
			want: true,
		},
		{
			name: "other member's private item",
			item: store.Item{GroupID: "g1", Visibility: store.VisibilityPrivate, CreatedBy: "other"},
			userID: "me", activeGroup: "g1",
			want: false,
		},
		{
			name: "shared item in another group",
			item: store.Item{GroupID: "g2", Visibility: store.VisibilityShared, CreatedBy: "me"},
			userID: "me", activeGroup: "g1",
			want: false,
		},
		{
			name: "own item left behind in old group",
			item: store.Item{GroupID: "g1", Visibility: store.VisibilityPrivate, CreatedBy: "me"},
			userID: "me", activeGroup: "g2",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSee(tt.item, tt.userID, tt.activeGroup); got != tt.want {
				t.Fatalf("CanSee() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForMutation(t *testing.T) {
	shared := store.Item{GroupID: "g1", Visibility: store.VisibilityShared, CreatedBy: "creator"}
	private := store.Item{GroupID: "g1", Visibility: store.VisibilityPrivate, CreatedBy: "creator"}

	tests := []struct {
		name              string
		item              store.Item
		userID            string
		changesVisibility bool
		want              Decision
	}{
		{"member mutates shared item", shared, "member", false, Allow},
		{"creator mutates own private item", private, "creator", false, Allow},
		{"member mutates other's private item", private, "member", false, DenyHidden},
		{"member deletes other's private item", private, "member", true, DenyHidden},
		{"member changes shared item visibility", shared, "member", true, DenyVisibilityChange},
		{"creator changes own visibility", shared, "creator", true, Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForMutation(tt.item, tt.userID, "g1", tt.changesVisibility)
			if got != tt.want {
				t.Fatalf("ForMutation() = %v, want %v", got, tt.want)
			}
		})
	}
}

// A non-creator toggling visibility on a hidden item must read as missing,
// not forbidden, or the response would leak that the item exists.
func TestHiddenItemVisibilityChangeReadsAsMissing(t *testing.T) {
	private := store.Item{GroupID: "g1", Visibility: store.VisibilityPrivate, CreatedBy: "creator"}
	if got := ForMutation(private, "member", "g1", true); got != DenyHidden {
		t.Fatalf("ForMutation() = %v, want DenyHidden", got)
	}
}
