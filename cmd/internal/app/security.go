package app

import (
	"errors"

	"relay/cmd/security/token"
)

// ValidateSecurityConfig enforces Relay's security policy at startup.
// Fail-fast: silently falling back to weaker crypto in production is
// unacceptable.
func ValidateSecurityConfig(cfg Config) error {
	if len(cfg.TokenSecret) > 0 && len(cfg.TokenSecret) < 32 {
		return errors.New("security policy: RELAY_TOKEN_SECRET must be at least 32 bytes")
	}

	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes because
	// the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but RELAY_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but RELAY_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// Hard assertion: hashing must actually be in HMAC mode in this runtime.
	if !token.HMACEnabled() {
		return errors.New("security policy: RELAY_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
