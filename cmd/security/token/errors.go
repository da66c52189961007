package token

import "errors"

// Startup-time configuration errors; the app maps these to its security
// policy messages.
var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)
