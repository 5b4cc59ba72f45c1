// Package healthauth is the authentication and session security core of the
// health platform: credential verification with lockout, TOTP and backup-code
// MFA, JWT access tokens with rotating opaque refresh tokens, role-based
// authorization and a fire-and-forget audit trail.
//
// The package is a library. It exposes [Engine], [Builder] and [Config] plus
// the value types its operations return; storage is supplied by the caller
// as a [store.Backend] (see the memstore, pgstore and redisstore packages).
// Engine methods are safe for concurrent use after [Builder.Build].
//
// # Flow
//
// Login verifies the credential. Principals without MFA get a session at
// once; principals with MFA get a short-lived challenge that CompleteMFA
// exchanges for a session once a TOTP or backup code checks out. Refresh
// rotates the refresh token along a per-session chain; presenting a token
// that was already rotated revokes the whole session. Revoke places the
// session's current access and refresh hashes on the revocation list until
// their natural expiry.
//
// # Errors
//
// Operations return the sentinels in errors.go. Credential and MFA failures
// use generic errors so callers cannot tell an unknown identity from a wrong
// secret; the precise reason is recorded in the audit event only.
// Infrastructure failures wrap [ErrUnavailable].
//
// # Adapters
//
// The middleware package guards net/http handlers, metrics/export publishes
// [Engine.MetricsSnapshot] to Prometheus or OpenTelemetry, and
// cmd/healthauthctl checks configuration, applies the Postgres schema and
// runs sweeps.
package healthauth
