// Package token implements Relay's access/refresh token codec.
//
// Tokens are HS256 JWTs signed with a symmetric key held only by the server
// process. The claim set is fixed: subject, roles, issued-at, expires-at.
// All timestamps are epoch milliseconds and the expiry comparison is
// exclusive (now >= exp means expired).
//
// Verification is a pure cryptographic + temporal check: no issuer/audience
// rules, no server-side state. Session-level validity (revocation, rotation)
// is enforced one layer up by cmd/internal/auth.
package token
