// Package rate provides Redis fixed-window throttling for login and
// refresh attempts. Counters are best-effort: a missing key means no
// recorded failures, and windows reset by TTL expiry.
package rate
