package identity

import "errors"

// Error kinds carried inside OpError; stable for errors.Is and for mapping
// to HTTP status codes at the API boundary.
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
)
