package util

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// NewReferenceCode returns "<TAG>-<10 upper hex chars>"
func NewReferenceCode(tag string) string {
	return tag + "-" + strings.ToUpper(randomHex(10))
}

// NewRedemptionID returns an opaque collision-resistant identifier
func NewRedemptionID() string {
	return cuid.New()
}

// NewGuestUsername derives a username from a first name plus 4 hex chars
func NewGuestUsername(firstName string) string {
	base := strings.ToLower(strings.Join(strings.Fields(firstName), ""))
	if base == "" {
		base = "guest"
	}
	return base + "_" + randomHex(4)
}

// NewSecret returns a random string suitable as a throwaway credential
func NewSecret() string {
	return randomHex(32)
}

func randomHex(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return b.String()[:n]
}
