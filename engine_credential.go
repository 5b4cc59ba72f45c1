package healthauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/lockout"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// VerifyCredential checks secret against the principal registered under
// identity (an email address). A wrong secret is reported through the
// outcome; the error is reserved for infrastructure failures.
//
// A failed comparison is counted against the principal's lockout state
// before VerifyCredential returns. While a lock holds the secret is not
// compared at all, so even the correct secret yields ReasonLocked.
func (e *Engine) VerifyCredential(ctx context.Context, identity, secret string) (CredentialOutcome, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricCredentialVerifyLatency, time.Since(start))
	}()

	p, err := e.backend.Principals.GetPrincipalByEmail(ctx, normalizeIdentity(identity))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if e.config.Hardening.EqualizeUnknownPrincipalTiming {
				e.hasher.VerifyDummy(secret)
			}
			return CredentialOutcome{Reason: ReasonNotFound}, nil
		}
		return CredentialOutcome{}, e.unavailable("load principal", err)
	}
	return e.verifyPrincipalSecret(ctx, p, secret)
}

func (e *Engine) verifyPrincipalSecret(ctx context.Context, p *store.Principal, secret string) (CredentialOutcome, error) {
	now := e.now()
	if p.Status == store.PrincipalLocked || p.Lockout.Locked(now) {
		return CredentialOutcome{Reason: ReasonLocked, Principal: p}, nil
	}

	ok := false
	if p.PasswordHash == "" {
		// federated-only principal
		e.hasher.VerifyDummy(secret)
	} else {
		match, err := e.hasher.Verify(secret, p.PasswordHash)
		if err != nil {
			e.logger.Warn("stored password hash unreadable", zap.String("principal_id", p.ID), zap.Error(err))
		}
		ok = match
	}

	if !ok {
		if err := e.recordCredentialFailure(ctx, p, now); err != nil {
			return CredentialOutcome{}, err
		}
		return CredentialOutcome{Reason: ReasonBadSecret, Principal: p}, nil
	}

	if p.Lockout.FailedAttempts > 0 || !p.Lockout.LockedUntil.IsZero() {
		state, err := e.backend.Principals.UpdateLockout(ctx, p.ID, e.config.Lockout.Principal.Success)
		if err != nil {
			return CredentialOutcome{}, e.unavailable("reset lockout", err)
		}
		p.Lockout = state
	}

	if p.Status != store.PrincipalActive {
		return CredentialOutcome{Reason: ReasonInactive, Principal: p}, nil
	}

	if e.config.Hardening.UpgradeHashOnLogin && p.PasswordHash != "" {
		e.upgradePasswordHash(ctx, p, secret)
	}
	return CredentialOutcome{OK: true, Principal: p}, nil
}

// recordCredentialFailure applies the principal lockout policy atomically
// and reports the transition into a lock.
func (e *Engine) recordCredentialFailure(ctx context.Context, p *store.Principal, now time.Time) error {
	policy := e.config.Lockout.Principal
	justLocked := false
	state, err := e.backend.Principals.UpdateLockout(ctx, p.ID, func(s lockout.State) lockout.State {
		next := policy.Failure(s, now)
		justLocked = !s.Locked(now) && next.Locked(now)
		return next
	})
	if err != nil {
		return e.unavailable("record credential failure", err)
	}
	p.Lockout = state

	if justLocked {
		e.metrics.Inc(MetricAccountLocked)
		e.logger.Info("principal locked out",
			zap.String("principal_id", p.ID),
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.Time("locked_until", state.LockedUntil),
		)
		e.emit(ctx, auditRecord{
			kind:        AuditAccountLocked,
			principalID: p.ID,
			outcome:     audit.OutcomeFailure,
			reason:      "failure_threshold",
			metadata:    map[string]string{"locked_until": state.LockedUntil.UTC().Format(time.RFC3339)},
		})
	}
	return nil
}

func (e *Engine) upgradePasswordHash(ctx context.Context, p *store.Principal, secret string) {
	stale, err := e.hasher.NeedsUpgrade(p.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("principal_id", p.ID), zap.Error(err))
		return
	}
	next := p.Clone()
	next.PasswordHash = hash
	next.UpdatedAt = e.now()
	if err := e.backend.Principals.UpdatePrincipal(ctx, next); err != nil {
		// a concurrent writer wins; the next login retries
		e.logger.Debug("password rehash not stored", zap.String("principal_id", p.ID), zap.Error(err))
		return
	}
	p.PasswordHash = hash
	p.Version = next.Version
}

// credentialError turns a failed outcome into the caller-facing error.
func (e *Engine) credentialError(outcome CredentialOutcome) error {
	switch outcome.Reason {
	case ReasonLocked:
		if e.config.Hardening.MaskLockedAsInvalid {
			return ErrInvalidCredential
		}
		return ErrAccountLocked
	case ReasonInactive:
		return ErrAccountInactive
	default:
		return ErrInvalidCredential
	}
}
