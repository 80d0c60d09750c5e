// Package store is the credential store: Redis-backed persistence for
// credentials and refresh-session records, stored as JSON documents.
//
// # Partitioning
//
// Every session key embeds the owning user ID in a Redis hash tag
// ("rt:{userID}:..."), so all of one user's session state shares a cluster
// slot. Multi-key operations (insert + index, conditional revoke) stay
// single-slot and therefore atomic.
//
// # Conditional revoke
//
// RevokeSession is a Lua compare-and-swap. It is the only write path that
// transitions a session to revoked, and it refuses absent, expired, and
// already-revoked records, which is what makes refresh rotation
// single-winner under concurrency.
//
// # What this package must NOT do
//
//   - Interpret JWTs or verify passwords (token and password packages).
//   - Decide how failures map to caller-facing notifications.
package store
