// Package identity resolves verified user ids into chat identities.
//
// The account directory itself (registration, profiles) lives outside the
// chat core; this package only answers "who is user X" for the realtime
// handshake. Implementations: PostgreSQL (users table), a Redis-backed
// cache decorator, and a static map for development and tests.
package identity
