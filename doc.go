// Package authcore manages the session and credential lifecycle for a
// feature-flag platform: login, JWT access-token issuance, and
// refresh-token rotation with revocation, backed by a Redis document
// store.
//
// The package is the public surface. It exposes [Manager], [Builder],
// [Config], and value types (TokenPair, Notification, MetricsSnapshot).
// Persistence, token signing, and password hashing live in the store,
// token, and password subpackages; throttling is internal.
//
// # Failure contract
//
// Expected failures — wrong credentials, unknown or already-consumed
// refresh keys, throttled attempts — do not return errors. Operations
// return an empty result and record the reason on the request-scoped
// [Notifier] (attach one with [WithNotifier]). Returned errors always mean
// infrastructure trouble.
//
// # Rotation guarantees
//
// A refresh key is one-time-use. Rotation revokes the existing session
// record with a server-side compare-and-swap before its successor is
// minted, so concurrent refreshes of the same key produce exactly one new
// session; the losers observe the key as already consumed.
package authcore
