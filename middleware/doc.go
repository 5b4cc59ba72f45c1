// Package middleware adapts healthauth.Engine to net/http.
//
// # Handlers
//
//   - [ClientContext] copies the caller's IP and User-Agent into the request
//     context so throttles, session records and audit events see them.
//   - [Guard] validates the bearer access token with the engine's configured
//     validation mode and stores the resulting [healthauth.AccessInfo].
//   - [RequireStrict] always checks the session and the revocation list.
//   - [RequirePermission] rejects requests whose principal lacks a
//     permission. It must run behind a guard, and re-validates the token
//     strictly when that guard did not.
//
// Every rejection carries a generic body. Details stay in the engine's audit
// stream.
package middleware
