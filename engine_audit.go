package healthauth

import (
	"context"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal/ids"
)

// Audit event kinds.
const (
	AuditLogin                    = "login"
	AuditLoginFederated           = "login_federated"
	AuditMFAChallenge             = "mfa_challenge"
	AuditMFAVerify                = "mfa_verify"
	AuditAccountLocked            = "account_locked"
	AuditDeviceLocked             = "mfa_device_locked"
	AuditRefresh                  = "refresh"
	AuditRefreshReuse             = "refresh_reuse_detected"
	AuditSessionRevoked           = "session_revoked"
	AuditSessionRevokedAll        = "session_revoked_all"
	AuditSessionSuspicious        = "session_suspicious"
	AuditAuthorizationDenied      = "authorization_denied"
	AuditRoleAssigned             = "role_assigned"
	AuditRoleRevoked              = "role_revoked"
	AuditPermissionGranted        = "permission_granted"
	AuditPermissionRevoked        = "permission_revoked"
	AuditAccountCreated           = "account_created"
	AuditAccountStatusChanged     = "account_status_changed"
	AuditAccountUnlocked          = "account_unlocked"
	AuditPasswordChanged          = "password_changed"
	AuditPasswordResetRequest     = "password_reset_request"
	AuditPasswordResetConfirm     = "password_reset_confirm"
	AuditEmailVerificationRequest = "email_verification_request"
	AuditEmailVerificationConfirm = "email_verification_confirm"
	AuditMFAEnrollmentStarted     = "mfa_enrollment_started"
	AuditMFAEnrolled              = "mfa_enrolled"
	AuditBackupCodesGenerated     = "mfa_backup_codes_generated"
	AuditDeviceStatusChanged      = "mfa_device_status_changed"
	AuditMFADisabled              = "mfa_disabled"
)

// auditRecord is the engine-side shape of an event before ids, time and
// request context are stamped on.
type auditRecord struct {
	kind        string
	principalID string
	sessionID   string
	outcome     audit.Outcome
	reason      string
	metadata    map[string]string
}

func (e *Engine) emit(ctx context.Context, r auditRecord) {
	if e.audit == nil {
		return
	}
	now := e.now()
	e.audit.Emit(ctx, audit.Event{
		ID:          ids.New(now),
		Timestamp:   now,
		Kind:        r.kind,
		PrincipalID: r.principalID,
		SessionID:   r.sessionID,
		Outcome:     r.outcome,
		Reason:      r.reason,
		RiskScore:   riskScoreFromContext(ctx),
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Metadata:    r.metadata,
	})
}

func (e *Engine) emitSuccess(ctx context.Context, kind, principalID, sessionID string) {
	e.emit(ctx, auditRecord{kind: kind, principalID: principalID, sessionID: sessionID, outcome: audit.OutcomeSuccess})
}

func (e *Engine) emitFailure(ctx context.Context, kind, principalID, sessionID, reason string) {
	e.emit(ctx, auditRecord{kind: kind, principalID: principalID, sessionID: sessionID, outcome: audit.OutcomeFailure, reason: reason})
}
