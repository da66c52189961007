// Package refresh owns the server-side refresh-token records.
//
// Exactly one active (non-revoked, unexpired) record exists per principal.
// Issuing a new token atomically replaces the prior record (rotation), and
// presenting a superseded token is treated as a possible theft: the active
// record is revoked on the spot, forcing a fresh login.
//
// Tokens are stored hashed (cmd/security/token), never in plaintext. The
// persistence boundary is the Store interface; memory, Postgres, and Redis
// implementations are provided. All rotation paths are linearized per
// principal through a keyed mutex in Manager, so two concurrent refresh
// attempts with the same token yield exactly one success.
package refresh
