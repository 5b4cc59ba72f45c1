package healthauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/password"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// CreatePrincipal registers a new principal. The email is normalized and
// must be unique; ErrAccountExists is returned otherwise. An empty
// Password creates a principal that can only log in through a federated
// verifier. Status defaults to pending_verification and MFAStatus to
// disabled.
func (e *Engine) CreatePrincipal(ctx context.Context, req NewPrincipal) (*store.Principal, error) {
	email := normalizeIdentity(req.Email)
	if email == "" {
		return nil, errors.New("healthauth: email is required")
	}
	status := req.Status
	if status == "" {
		status = store.PrincipalPendingVerification
	}
	if !status.Valid() {
		return nil, fmt.Errorf("healthauth: unknown principal status %q", status)
	}
	mfaStatus := req.MFAStatus
	if mfaStatus == "" {
		mfaStatus = store.MFADisabled
	}

	var hash string
	if req.Password != "" {
		h, err := e.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	now := e.now()
	p := &store.Principal{
		ID:           uuid.NewString(),
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: hash,
		Status:       status,
		MFAStatus:    mfaStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.backend.Principals.CreatePrincipal(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.emitFailure(ctx, AuditAccountCreated, "", "", "duplicate_email")
			return nil, ErrAccountExists
		}
		return nil, e.unavailable("create principal", err)
	}

	e.metrics.Inc(MetricAccountCreated)
	e.emitSuccess(ctx, AuditAccountCreated, p.ID, "")
	return p.Clone(), nil
}

// GetPrincipal loads a principal by id.
func (e *Engine) GetPrincipal(ctx context.Context, principalID string) (*store.Principal, error) {
	return e.loadPrincipal(ctx, principalID)
}

// SetPassword replaces the principal's password without checking the old
// one and ends every session. Use it from administrative flows; end users
// go through ChangePassword or the reset flow.
func (e *Engine) SetPassword(ctx context.Context, principalID, newPassword string) error {
	hash, err := e.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return e.storePassword(ctx, principalID, hash, "admin_set")
}

// ChangePassword replaces the password after checking the current one.
// A wrong current password counts toward lockout like a failed login.
func (e *Engine) ChangePassword(ctx context.Context, principalID, current, next string) error {
	if err := e.hasher.CheckPolicy(next); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	p, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	outcome, err := e.verifyPrincipalSecret(ctx, p, current)
	if err != nil {
		return err
	}
	if !outcome.OK {
		e.emitFailure(ctx, AuditPasswordChanged, p.ID, "", string(outcome.Reason))
		return e.credentialError(outcome)
	}

	hash, err := e.HashPassword(next)
	if err != nil {
		return err
	}
	return e.storePassword(ctx, principalID, hash, "self_service")
}

// storePassword writes hash, clears the lockout counter and revokes every
// session of the principal.
func (e *Engine) storePassword(ctx context.Context, principalID, hash, via string) error {
	if _, err := e.mutatePrincipal(ctx, principalID, func(p *store.Principal) error {
		p.PasswordHash = hash
		return nil
	}); err != nil {
		return err
	}
	if _, err := e.backend.Principals.UpdateLockout(ctx, principalID, func(lockout.State) lockout.State {
		return lockout.State{}
	}); err != nil {
		return e.unavailable("reset lockout", err)
	}

	n, err := e.revokeAllSessions(ctx, principalID, revokeReasonPasswordSet)
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricPasswordChanged)
	e.emit(ctx, auditRecord{
		kind:        AuditPasswordChanged,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"via": via, "sessions_revoked": fmt.Sprint(n)},
	})
	return nil
}

// SetAccountStatus moves a principal to status. Any status other than
// active ends the principal's sessions.
func (e *Engine) SetAccountStatus(ctx context.Context, principalID string, status store.PrincipalStatus) error {
	if !status.Valid() {
		return fmt.Errorf("healthauth: unknown principal status %q", status)
	}
	var from store.PrincipalStatus
	if _, err := e.mutatePrincipal(ctx, principalID, func(p *store.Principal) error {
		from = p.Status
		p.Status = status
		return nil
	}); err != nil {
		return err
	}
	if status != store.PrincipalActive {
		if _, err := e.revokeAllSessions(ctx, principalID, "status_"+string(status)); err != nil {
			return err
		}
	}

	e.metrics.Inc(MetricAccountStatusChanged)
	e.logger.Info("principal status changed",
		zap.String("principal_id", principalID),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	e.emit(ctx, auditRecord{
		kind:        AuditAccountStatusChanged,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"from": string(from), "to": string(status)},
	})
	return nil
}

// UnlockPrincipal clears the failure counter and any lock, including an
// administrative locked status.
func (e *Engine) UnlockPrincipal(ctx context.Context, principalID string) error {
	if _, err := e.backend.Principals.UpdateLockout(ctx, principalID, func(lockout.State) lockout.State {
		return lockout.State{}
	}); err != nil {
		return e.storeErr("reset lockout", err)
	}
	if _, err := e.mutatePrincipal(ctx, principalID, func(p *store.Principal) error {
		if p.Status == store.PrincipalLocked {
			p.Status = store.PrincipalActive
		}
		return nil
	}); err != nil {
		return err
	}
	e.emitSuccess(ctx, AuditAccountUnlocked, principalID, "")
	return nil
}

func isPolicyError(err error) bool {
	return errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong)
}
