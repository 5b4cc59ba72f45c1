package internaldefs

import (
	"strconv"
	"strings"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
)

// Namespace prefixes every exported series.
const Namespace = "healthauth"

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   healthauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   healthauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: healthauth.MetricLoginSuccess, Name: "healthauth_login_success_total", Help: "Successful password logins."},
	{ID: healthauth.MetricLoginFailure, Name: "healthauth_login_failure_total", Help: "Failed password logins."},
	{ID: healthauth.MetricLoginLocked, Name: "healthauth_login_locked_total", Help: "Logins refused because the principal was locked."},
	{ID: healthauth.MetricLoginRateLimited, Name: "healthauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: healthauth.MetricFederatedLoginSuccess, Name: "healthauth_federated_login_success_total", Help: "Successful federated logins."},
	{ID: healthauth.MetricFederatedLoginFailure, Name: "healthauth_federated_login_failure_total", Help: "Failed federated logins."},
	{ID: healthauth.MetricMFAChallengeIssued, Name: "healthauth_mfa_challenge_issued_total", Help: "MFA challenges issued after a verified password."},
	{ID: healthauth.MetricMFASuccess, Name: "healthauth_mfa_success_total", Help: "Completed MFA challenges."},
	{ID: healthauth.MetricMFAFailure, Name: "healthauth_mfa_failure_total", Help: "Rejected MFA codes."},
	{ID: healthauth.MetricMFAReplayAttempt, Name: "healthauth_mfa_replay_attempt_total", Help: "Replayed TOTP codes."},
	{ID: healthauth.MetricBackupCodeUsed, Name: "healthauth_backup_code_used_total", Help: "Redeemed backup codes."},
	{ID: healthauth.MetricBackupCodeFailed, Name: "healthauth_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: healthauth.MetricBackupCodeRegenerated, Name: "healthauth_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: healthauth.MetricDeviceLocked, Name: "healthauth_device_locked_total", Help: "MFA devices locked after repeated failures."},
	{ID: healthauth.MetricRefreshSuccess, Name: "healthauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: healthauth.MetricRefreshFailure, Name: "healthauth_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: healthauth.MetricRefreshReuseDetected, Name: "healthauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: healthauth.MetricRefreshRateLimited, Name: "healthauth_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: healthauth.MetricSessionCreated, Name: "healthauth_session_created_total", Help: "Sessions created."},
	{ID: healthauth.MetricSessionRevoked, Name: "healthauth_session_revoked_total", Help: "Single-session revocations."},
	{ID: healthauth.MetricSessionRevokedAll, Name: "healthauth_session_revoked_all_total", Help: "Revoke-all operations."},
	{ID: healthauth.MetricAccessRejected, Name: "healthauth_access_rejected_total", Help: "Access tokens rejected during validation."},
	{ID: healthauth.MetricAuthzAllowed, Name: "healthauth_authz_allowed_total", Help: "Permission checks that allowed access."},
	{ID: healthauth.MetricAuthzDenied, Name: "healthauth_authz_denied_total", Help: "Permission checks that denied access."},
	{ID: healthauth.MetricAccountCreated, Name: "healthauth_account_created_total", Help: "Principals created."},
	{ID: healthauth.MetricAccountLocked, Name: "healthauth_account_locked_total", Help: "Principals locked out after repeated failures."},
	{ID: healthauth.MetricAccountStatusChanged, Name: "healthauth_account_status_changed_total", Help: "Administrative status changes."},
	{ID: healthauth.MetricPasswordChanged, Name: "healthauth_password_changed_total", Help: "Password hashes replaced."},
	{ID: healthauth.MetricPasswordResetRequest, Name: "healthauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: healthauth.MetricPasswordResetConfirmSuccess, Name: "healthauth_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: healthauth.MetricPasswordResetConfirmFailure, Name: "healthauth_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: healthauth.MetricEmailVerificationRequest, Name: "healthauth_email_verification_request_total", Help: "Email verification requests."},
	{ID: healthauth.MetricEmailVerificationSuccess, Name: "healthauth_email_verification_success_total", Help: "Successful email verifications."},
	{ID: healthauth.MetricEmailVerificationFailure, Name: "healthauth_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: healthauth.MetricNotificationFailed, Name: "healthauth_notification_failed_total", Help: "Notifications the delivery channel refused."},
}

var HistogramDefs = []HistogramDef{
	{ID: healthauth.MetricCredentialVerifyLatency, Name: "healthauth_credential_verify_latency_seconds", Help: "Credential verification latency."},
}

// AuditDroppedName is the counter for events the audit dispatcher shed.
const (
	AuditDroppedName = "healthauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped under dispatcher backpressure."
)

// BucketCount includes the trailing +Inf bucket.
const BucketCount = len(healthauth.HistogramBounds) + 1

// HistogramBounds renders the finite bounds followed by "+Inf".
func HistogramBounds() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range healthauth.HistogramBounds {
		out = append(out, strconv.FormatFloat(b, 'f', -1, 64))
	}
	return append(out, "+Inf")
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
func HistogramBoundSuffix() []string {
	bounds := HistogramBounds()
	out := make([]string, len(bounds))
	for i, b := range bounds {
		if b == "+Inf" {
			out[i] = "inf"
			continue
		}
		out[i] = strings.ReplaceAll(b, ".", "_")
	}
	return out
}

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
