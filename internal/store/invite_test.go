package store

import (
	"regexp"
	"testing"
)

func TestNewInviteCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code := NewInviteCode()
		if !pattern.MatchString(code) {
			t.Fatalf("invite code %q does not match [A-Z0-9]{6}", code)
		}
		seen[code] = struct{}{}
	}
	// 200 draws from a 36^6 space should essentially never collide; a handful
	// of distinct values is enough to catch a broken generator.
	if len(seen) < 100 {
		t.Fatalf("expected varied invite codes, got %d distinct of 200", len(seen))
	}
}
