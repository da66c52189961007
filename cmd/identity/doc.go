// Package identity owns Relay's security principals.
//
// A principal is the authenticated subject attached to every request and
// websocket connection: {id, display name, role set}. The package provides
// the persistence boundary for principals (memory + Postgres), username
// normalization, and ULID id generation.
//
// Password hashing lives in cmd/security/password; token signing lives in
// cmd/internal/auth/token. This package only stores the resulting hashes and
// resolves principals by id or username.
package identity
