package identity

import "strings"

// NormalizeUsername canonicalizes a username for lookup: trim + lower-case.
// Stored alongside the raw username so display casing survives.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
