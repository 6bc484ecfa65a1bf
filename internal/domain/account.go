package domain

import (
	"strings"
	"time"
)

// Account is a wallet enrolled for automated rebalancing.
type Account struct {
	Address    string    `json:"address"`
	KeyID      string    `json:"key_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// NormalizeAddress lower-cases and trims an 0x address so registry keys,
// cooldown keys and comparisons agree.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress reports whether a and b refer to the same contract or wallet.
func SameAddress(a, b string) bool {
	return a != "" && NormalizeAddress(a) == NormalizeAddress(b)
}
