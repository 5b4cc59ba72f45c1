package healthauth

import "errors"

// Credential and MFA failures deliberately share generic messages; the
// specific reason is only recorded in the audit event.
var (
	// ErrInvalidCredential covers unknown identities, wrong secrets and
	// federated tokens that fail verification.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window holds.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for principals that are not active.
	ErrAccountInactive = errors.New("account inactive")
	// ErrMFARequired is returned when a second factor is owed but cannot be
	// collected, for example because no device is enrolled.
	ErrMFARequired = errors.New("multi-factor authentication required")
	// ErrMFARejected is returned for a wrong, replayed or locked second factor.
	ErrMFARejected = errors.New("multi-factor authentication rejected")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenReused is returned when a superseded refresh token is presented.
	// The session it belonged to is revoked before the error is returned.
	ErrTokenReused = errors.New("token reused")
	// ErrTokenInvalid is returned for malformed, unknown or revoked tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrPermissionDenied is returned by Require when no permission matches.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound is returned by administrative lookups.
	ErrNotFound = errors.New("not found")
)

var (
	// ErrRateLimited is returned when a login or refresh throttle trips.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps storage and limiter failures.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrAccountExists is returned by CreatePrincipal for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrPasswordPolicy is returned for secrets outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrConflict is returned when a concurrent update won.
	ErrConflict = errors.New("concurrent update")
	// ErrEngineNotReady is returned by Builder.Build on missing dependencies.
	ErrEngineNotReady = errors.New("engine not ready")
)
