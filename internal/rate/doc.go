// Package rate throttles login and refresh attempts ahead of the credential
// and token checks.
//
// Two backends share the Limiter contract:
//   - Local keeps a token bucket per key (golang.org/x/time/rate) in an
//     expiring go-cache map. Suitable for a single process.
//   - Redis keeps fixed-window counters (INCR plus EXPIRE on first hit) so
//     several processes share one budget. Key prefixes:
//     hal: login per identity, hali: login per IP, har: refresh per session.
//
// Throttling is separate from lockout: it bounds request rate, it never
// changes principal state.
package rate
