package healthauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/federated"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// Login authenticates identity (an email address) with a password.
//
// Principals whose MFA status is enabled or required get a LoginResult
// with MFARequired and a Challenge for CompleteMFA; everybody else gets a
// session. Unknown identities and wrong secrets both return
// ErrInvalidCredential.
func (e *Engine) Login(ctx context.Context, identity, secret string) (*LoginResult, error) {
	identity = normalizeIdentity(identity)
	if err := e.limiter.AllowLogin(ctx, identity, clientIPFromContext(ctx)); err != nil {
		err = e.limiterErr(err)
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(MetricLoginRateLimited)
			e.emitFailure(ctx, AuditLogin, "", "", "rate_limited")
		}
		return nil, err
	}

	outcome, err := e.VerifyCredential(ctx, identity, secret)
	if err != nil {
		return nil, err
	}
	if !outcome.OK {
		return nil, e.loginFailed(ctx, AuditLogin, outcome)
	}
	return e.afterPrimaryFactor(ctx, outcome.Principal, AuditLogin)
}

func (e *Engine) loginFailed(ctx context.Context, kind string, outcome CredentialOutcome) error {
	principalID := ""
	if outcome.Principal != nil {
		principalID = outcome.Principal.ID
	}
	if outcome.Reason == ReasonLocked {
		e.metrics.Inc(MetricLoginLocked)
	} else {
		e.metrics.Inc(MetricLoginFailure)
	}
	e.emitFailure(ctx, kind, principalID, "", string(outcome.Reason))
	return e.credentialError(outcome)
}

// LoginFederated authenticates with a token issued by an external identity
// provider. tokenType selects the registered verifier. A verified identity
// with no local principal is provisioned on the spot.
func (e *Engine) LoginFederated(ctx context.Context, tokenType, token string) (*LoginResult, error) {
	v, ok := e.verifiers[tokenType]
	if !ok {
		e.metrics.Inc(MetricFederatedLoginFailure)
		e.emitFailure(ctx, AuditLoginFederated, "", "", "unsupported_token_type")
		return nil, ErrInvalidCredential
	}

	ident, err := v.VerifyExternalToken(ctx, token)
	if err != nil {
		if errors.Is(err, federated.ErrRejected) {
			e.metrics.Inc(MetricFederatedLoginFailure)
			e.emitFailure(ctx, AuditLoginFederated, "", "", "external_token_rejected")
			return nil, ErrInvalidCredential
		}
		return nil, e.unavailable("verify external token", err)
	}

	now := e.now()
	template := &store.Principal{
		ID:        uuid.NewString(),
		Email:     normalizeIdentity(ident.Email),
		Status:    store.PrincipalActive,
		MFAStatus: store.MFADisabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !ident.EmailVerified {
		// an unverified address must not claim the email index
		template.Email = ""
	}
	p, created, err := e.backend.Principals.GetOrCreateByExternalID(ctx, ident.ExternalID(), template)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			e.metrics.Inc(MetricFederatedLoginFailure)
			e.emitFailure(ctx, AuditLoginFederated, "", "", "email_conflict")
			return nil, ErrAccountExists
		}
		return nil, e.unavailable("provision federated principal", err)
	}
	if created {
		e.metrics.Inc(MetricAccountCreated)
		e.emit(ctx, auditRecord{
			kind:        AuditAccountCreated,
			principalID: p.ID,
			outcome:     audit.OutcomeSuccess,
			metadata:    map[string]string{"provider": ident.Provider},
		})
	}

	switch {
	case p.Status == store.PrincipalLocked || p.Lockout.Locked(now):
		e.metrics.Inc(MetricFederatedLoginFailure)
		return nil, e.loginFailed(ctx, AuditLoginFederated, CredentialOutcome{Reason: ReasonLocked, Principal: p})
	case p.Status != store.PrincipalActive:
		e.metrics.Inc(MetricFederatedLoginFailure)
		return nil, e.loginFailed(ctx, AuditLoginFederated, CredentialOutcome{Reason: ReasonInactive, Principal: p})
	}

	res, err := e.afterPrimaryFactor(ctx, p, AuditLoginFederated)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricFederatedLoginSuccess)
	res.Created = created
	return res, nil
}

// afterPrimaryFactor either mints a session or stops at an MFA challenge.
func (e *Engine) afterPrimaryFactor(ctx context.Context, p *store.Principal, kind string) (*LoginResult, error) {
	if p.MFAStatus.Challenges() {
		return e.issueChallenge(ctx, p)
	}

	pair, err := e.mintSession(ctx, p, false, false)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitSuccess(ctx, kind, p.ID, pair.SessionID)
	return &LoginResult{
		PrincipalID:      p.ID,
		Tokens:           pair,
		MFASetupRequired: p.MFAStatus == store.MFASetupRequired,
	}, nil
}

func (e *Engine) issueChallenge(ctx context.Context, p *store.Principal) (*LoginResult, error) {
	ready, err := e.hasUsableFactor(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !ready {
		e.emitFailure(ctx, AuditMFAChallenge, p.ID, "", "mfa_not_configured")
		return nil, ErrMFARequired
	}

	challenge, err := e.tokens.CreateChallenge(p.ID)
	if err != nil {
		return nil, fmt.Errorf("issue mfa challenge: %w", err)
	}
	e.metrics.Inc(MetricMFAChallengeIssued)
	e.emitSuccess(ctx, AuditMFAChallenge, p.ID, "")
	return &LoginResult{
		PrincipalID:        p.ID,
		MFARequired:        true,
		Challenge:          challenge.Token,
		ChallengeExpiresAt: challenge.ExpiresAt,
	}, nil
}

// hasUsableFactor reports whether the principal can answer a challenge
// with an active TOTP device or an unused backup code.
func (e *Engine) hasUsableFactor(ctx context.Context, principalID string) (bool, error) {
	dev, err := e.primaryTOTPDevice(ctx, principalID)
	if err != nil {
		return false, err
	}
	if dev != nil {
		return true, nil
	}
	codes, err := e.backend.BackupCodes.ListBackupCodes(ctx, principalID)
	if err != nil {
		return false, e.unavailable("list backup codes", err)
	}
	now := e.now()
	for _, c := range codes {
		if c.Usable(now) {
			return true, nil
		}
	}
	return false, nil
}

// mintSession creates a session with its first access token and the first
// link of its refresh chain.
func (e *Engine) mintSession(ctx context.Context, p *store.Principal, mfaVerified, mfaRequired bool) (*TokenPair, error) {
	now := e.now()
	sessionID := internal.NewSessionID()

	access, err := e.tokens.CreateAccess(p.ID, sessionID, mfaVerified)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshHash, err := internal.NewRefreshToken(sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	refreshExp := e.refreshExpiry(now, now)

	sess := &store.Session{
		ID:               sessionID,
		PrincipalID:      p.ID,
		AccessHash:       internal.HashToken(access.Token),
		RefreshHash:      refreshHash,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refreshExp,
		MFAVerified:      mfaVerified,
		MFARequired:      mfaRequired,
		Status:           store.SessionActive,
		IP:               clientIPFromContext(ctx),
		UserAgent:        userAgentFromContext(ctx),
		LastActivityAt:   now,
		CreatedAt:        now,
	}
	first := &store.RefreshRecord{
		Hash:        refreshHash,
		SessionID:   sessionID,
		PrincipalID: p.ID,
		IssuedAt:    now,
		ExpiresAt:   refreshExp,
	}
	if err := e.backend.Sessions.CreateSession(ctx, sess, first); err != nil {
		return nil, e.unavailable("create session", err)
	}

	e.metrics.Inc(MetricSessionCreated)
	e.logger.Debug("session created",
		zap.String("principal_id", p.ID),
		zap.String("session_id", sessionID),
		zap.Bool("mfa_verified", mfaVerified),
	)
	return &TokenPair{
		SessionID:        sessionID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		MFAVerified:      mfaVerified,
	}, nil
}

// refreshExpiry slides the refresh window from now without passing the
// session's absolute lifetime.
func (e *Engine) refreshExpiry(createdAt, now time.Time) time.Time {
	exp := now.Add(e.config.Session.RefreshTTL)
	if lifetime := e.config.Session.MaxLifetime; lifetime > 0 {
		if limit := createdAt.Add(lifetime); exp.After(limit) {
			exp = limit
		}
	}
	return exp
}
