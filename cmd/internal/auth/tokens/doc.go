// Package tokens verifies (and, for tooling and tests, issues) bearer identity tokens.
//
// Two formats are supported:
//   - HS256 JWT signed with a shared secret. The user id is read from the
//     {"user":{"id":...}} claim the account service issues, falling back to "sub".
//   - PASETO v4.public signed with Ed25519. The user id is the "uid" claim.
//
// Verification is pure: no I/O, no revocation lookup. Callers pass "now"
// explicitly so expiry is testable.
package tokens
