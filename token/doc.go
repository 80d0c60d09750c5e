// Package token is the key/token codec: it mints signed JWT access tokens,
// parses them back into claims, and generates opaque refresh keys.
//
// Two parse paths exist on purpose. ExtractClaims performs full
// verification (signature, expiry, issuer) and is the default. DecodeClaims
// checks signature and structure only; the refresh-rotation path uses it to
// read identity claims out of a stored, usually already-expired token.
//
// # What this package must NOT do
//
//   - Touch Redis or any persistence (that belongs to store).
//   - Decide authorization policy; it only proves token integrity.
package token
