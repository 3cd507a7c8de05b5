package store

import "crypto/rand"

// Invite codes are 6 characters drawn from A-Z0-9, compared upper-case and
// unique across all groups.
const (
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeLength   = 6
)

func NewInviteCode() string {
	buf := make([]byte, inviteCodeLength)
	_, _ = rand.Read(buf)
	code := make([]byte, inviteCodeLength)
	for i, b := range buf {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code)
}
