package auth

import "errors"

var (
	// ErrRefreshRejected is returned for every failed refresh attempt,
	// whatever the underlying cause (reuse, expiry, missing record,
	// undecodable token). The caller forces a fresh login; the distinction
	// is logged server-side, never surfaced to the client.
	ErrRefreshRejected = errors.New("refresh rejected")

	// ErrConfig is returned for invalid service construction parameters.
	ErrConfig = errors.New("invalid config")
)
