package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns 2*nBytes hex characters from crypto/rand, defaulting
// to 16 bytes of entropy. An empty return means the entropy source failed;
// callers treat that as an error-like condition.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
