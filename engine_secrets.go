package healthauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/notify"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// RequestPasswordReset emails a single-use reset secret to the principal
// registered under email. Unknown addresses return nil so callers cannot
// probe which addresses exist. A failed delivery is logged and counted but
// not returned, for the same reason. With
// Hardening.EqualizeUnknownPrincipalTiming the secret is stored and
// delivered after RequestPasswordReset returns, so known and unknown
// addresses cost the caller one lookup each.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeIdentity(email)
	p, err := e.backend.Principals.GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.emitFailure(ctx, AuditPasswordResetRequest, "", "", "unknown_identity")
			return nil
		}
		return e.unavailable("load principal", err)
	}
	e.metrics.Inc(MetricPasswordResetRequest)
	if p.Status == store.PrincipalSuspended || p.Status == store.PrincipalInactive {
		e.emitFailure(ctx, AuditPasswordResetRequest, p.ID, "", "principal_"+string(p.Status))
		return nil
	}

	if e.config.Hardening.EqualizeUnknownPrincipalTiming {
		e.detach(ctx, func(ctx context.Context) {
			_ = e.issueReset(ctx, p)
		})
		return nil
	}
	return e.issueReset(ctx, p)
}

func (e *Engine) issueReset(ctx context.Context, p *store.Principal) error {
	if err := e.issueSecret(ctx, p, store.PurposePasswordReset, notify.KindPasswordReset, e.config.Secrets.ResetTTL); err != nil {
		return err
	}
	e.emitSuccess(ctx, AuditPasswordResetRequest, p.ID, "")
	return nil
}

// ConfirmPasswordReset redeems a reset secret and sets newPassword. The
// lockout counter is cleared and every session of the principal ends.
// Unknown, used and expired secrets all return ErrTokenInvalid.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, secret, newPassword string) error {
	if err := e.hasher.CheckPolicy(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	v, err := e.consumeSecret(ctx, store.PurposePasswordReset, secret)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		e.emitFailure(ctx, AuditPasswordResetConfirm, "", "", "invalid_secret")
		return err
	}

	hash, err := e.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := e.storePassword(ctx, v.PrincipalID, hash, "reset"); err != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return err
	}
	e.metrics.Inc(MetricPasswordResetConfirmSuccess)
	e.emitSuccess(ctx, AuditPasswordResetConfirm, v.PrincipalID, "")
	return nil
}

// RequestEmailVerification emails a verification secret to the
// principal's current address.
func (e *Engine) RequestEmailVerification(ctx context.Context, principalID string) error {
	p, err := e.loadPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Email == "" {
		return fmt.Errorf("%w: principal has no email", ErrConflict)
	}
	e.metrics.Inc(MetricEmailVerificationRequest)
	if err := e.issueSecret(ctx, p, store.PurposeEmailVerification, notify.KindEmailVerification, e.config.Secrets.VerifyTTL); err != nil {
		return err
	}
	e.emitSuccess(ctx, AuditEmailVerificationRequest, p.ID, "")
	return nil
}

// ConfirmEmailVerification redeems a verification secret and returns the
// principal it belonged to. A principal pending verification becomes
// active.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, secret string) (string, error) {
	v, err := e.consumeSecret(ctx, store.PurposeEmailVerification, secret)
	if err != nil {
		e.metrics.Inc(MetricEmailVerificationFailure)
		e.emitFailure(ctx, AuditEmailVerificationConfirm, "", "", "invalid_secret")
		return "", err
	}
	if _, err := e.mutatePrincipal(ctx, v.PrincipalID, func(p *store.Principal) error {
		if p.Status == store.PrincipalPendingVerification {
			p.Status = store.PrincipalActive
		}
		return nil
	}); err != nil {
		e.metrics.Inc(MetricEmailVerificationFailure)
		return "", err
	}
	e.metrics.Inc(MetricEmailVerificationSuccess)
	e.emitSuccess(ctx, AuditEmailVerificationConfirm, v.PrincipalID, "")
	return v.PrincipalID, nil
}

func (e *Engine) issueSecret(ctx context.Context, p *store.Principal, purpose store.SecretPurpose, kind notify.Kind, ttl time.Duration) error {
	secret, err := internal.NewURLSecret(internal.SecretSize)
	if err != nil {
		return fmt.Errorf("generate %s secret: %w", purpose, err)
	}
	now := e.now()
	expiresAt := now.Add(ttl)
	if err := e.backend.Secrets.PutSecret(ctx, store.VerificationSecret{
		Hash:        internal.HashToken(secret),
		PrincipalID: p.ID,
		Purpose:     purpose,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}); err != nil {
		return e.unavailable("store "+string(purpose)+" secret", err)
	}

	err = e.notifier.Deliver(ctx, notify.Notification{
		Kind:        kind,
		PrincipalID: p.ID,
		Email:       p.Email,
		Secret:      secret,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		e.metrics.Inc(MetricNotificationFailed)
		e.logger.Warn("notification delivery failed",
			zap.String("principal_id", p.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	return nil
}

func (e *Engine) consumeSecret(ctx context.Context, purpose store.SecretPurpose, secret string) (*store.VerificationSecret, error) {
	if secret == "" {
		return nil, ErrTokenInvalid
	}
	v, err := e.backend.Secrets.ConsumeSecret(ctx, purpose, internal.HashToken(secret), e.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, e.unavailable("consume "+string(purpose)+" secret", err)
	}
	return v, nil
}
