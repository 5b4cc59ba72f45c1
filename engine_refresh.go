package healthauth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/jwt"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

const (
	revokeReasonLogout      = "logout"
	revokeReasonRevokeAll   = "revoke_all"
	revokeReasonReuse       = "refresh_reuse"
	revokeReasonInactive    = "principal_inactive"
	revokeReasonPasswordSet = "password_changed"
)

// Refresh rotates refreshToken: it returns a new access token and a new
// refresh token and links the new refresh record after the old one.
//
// Presenting a refresh token that was already rotated means two parties
// hold the chain; the whole session is revoked and ErrTokenReused returned.
// When two calls race on the same token exactly one wins; the loser is
// treated as reuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sessionID, hash, err := internal.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", "", "malformed", ErrTokenInvalid)
	}
	if err := e.limiter.AllowRefresh(ctx, sessionID); err != nil {
		err = e.limiterErr(err)
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(MetricRefreshRateLimited)
			e.emitFailure(ctx, AuditRefresh, "", sessionID, "rate_limited")
		}
		return nil, err
	}

	now := e.now()
	rec, err := e.backend.Sessions.GetRefresh(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.refreshFailed(ctx, "", sessionID, "unknown_token", ErrTokenInvalid)
		}
		return nil, e.unavailable("load refresh record", err)
	}
	if rec.SessionID != sessionID {
		return nil, e.refreshFailed(ctx, rec.PrincipalID, sessionID, "session_mismatch", ErrTokenInvalid)
	}
	// an expired link fails closed before reuse detection
	if !now.Before(rec.ExpiresAt) {
		return nil, e.refreshFailed(ctx, rec.PrincipalID, sessionID, "expired", ErrTokenExpired)
	}
	if rec.Superseded() {
		return nil, e.refreshReused(ctx, rec)
	}
	if rec.Revoked {
		return nil, e.refreshFailed(ctx, rec.PrincipalID, sessionID, "revoked", ErrTokenInvalid)
	}

	sess, err := e.backend.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.refreshFailed(ctx, rec.PrincipalID, sessionID, "session_missing", ErrTokenInvalid)
		}
		return nil, e.unavailable("load session", err)
	}
	if sess.Status != store.SessionActive {
		return nil, e.refreshFailed(ctx, sess.PrincipalID, sessionID, "session_"+string(sess.Status), ErrTokenInvalid)
	}
	if !now.Before(sess.RefreshExpiresAt) {
		return nil, e.refreshFailed(ctx, sess.PrincipalID, sessionID, "session_expired", ErrTokenExpired)
	}
	if !sess.RefreshValid(now) {
		return nil, e.refreshFailed(ctx, sess.PrincipalID, sessionID, "mfa_pending", ErrTokenInvalid)
	}

	p, err := e.backend.Principals.GetPrincipal(ctx, sess.PrincipalID)
	if err != nil {
		return nil, e.storeErr("load principal", err)
	}
	if p.Status != store.PrincipalActive {
		if _, err := e.revokeSession(ctx, sessionID, store.SessionRevoked, revokeReasonInactive); err != nil {
			return nil, err
		}
		return nil, e.refreshFailed(ctx, p.ID, sessionID, "principal_inactive", ErrAccountInactive)
	}

	access, err := e.tokens.CreateAccess(p.ID, sessionID, sess.MFAVerified)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	next, nextHash, err := internal.NewRefreshToken(sessionID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	refreshExp := e.refreshExpiry(sess.CreatedAt, now)

	err = e.backend.Sessions.RotateRefresh(ctx, store.RotateRequest{
		SessionID: sessionID,
		OldHash:   hash,
		Next: store.RefreshRecord{
			Hash:        nextHash,
			SessionID:   sessionID,
			PrincipalID: p.ID,
			IssuedAt:    now,
			ExpiresAt:   refreshExp,
		},
		AccessHash:       internal.HashToken(access.Token),
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refreshExp,
		Now:              now,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRefreshSuperseded):
			return nil, e.refreshReused(ctx, rec)
		case errors.Is(err, store.ErrNotFound):
			return nil, e.refreshFailed(ctx, p.ID, sessionID, "unknown_token", ErrTokenInvalid)
		default:
			return nil, e.unavailable("rotate refresh token", err)
		}
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitSuccess(ctx, AuditRefresh, p.ID, sessionID)
	return &TokenPair{
		SessionID:        sessionID,
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     next,
		RefreshExpiresAt: refreshExp,
		MFAVerified:      sess.MFAVerified,
	}, nil
}

func (e *Engine) refreshFailed(ctx context.Context, principalID, sessionID, reason string, err error) error {
	e.metrics.Inc(MetricRefreshFailure)
	e.emitFailure(ctx, AuditRefresh, principalID, sessionID, reason)
	return err
}

// refreshReused revokes the session of a superseded refresh record.
func (e *Engine) refreshReused(ctx context.Context, rec *store.RefreshRecord) error {
	if _, err := e.revokeSession(ctx, rec.SessionID, store.SessionRevoked, revokeReasonReuse); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	e.metrics.Inc(MetricRefreshReuseDetected)
	e.logger.Warn("refresh token reuse detected",
		zap.String("principal_id", rec.PrincipalID),
		zap.String("session_id", rec.SessionID),
	)
	e.emit(ctx, auditRecord{
		kind:        AuditRefreshReuse,
		principalID: rec.PrincipalID,
		sessionID:   rec.SessionID,
		outcome:     audit.OutcomeFailure,
		reason:      revokeReasonReuse,
		metadata:    map[string]string{"replaced_by": rec.ReplacedBy},
	})
	return ErrTokenReused
}

// revokeSession ends a session and puts its current access and refresh
// hashes on the revocation list until they would have expired anyway. It
// returns the session as it was before the call.
func (e *Engine) revokeSession(ctx context.Context, sessionID string, status store.SessionStatus, reason string) (*store.Session, error) {
	now := e.now()
	prior, err := e.backend.Sessions.RevokeSession(ctx, sessionID, status, reason, now)
	if err != nil {
		return nil, e.storeErr("revoke session", err)
	}
	if prior.Status != store.SessionActive {
		return prior, nil
	}

	var entries []store.BlacklistEntry
	if prior.AccessHash != "" && now.Before(prior.AccessExpiresAt) {
		entries = append(entries, store.BlacklistEntry{
			TokenHash: prior.AccessHash,
			Kind:      store.TokenAccess,
			SessionID: sessionID,
			ExpiresAt: prior.AccessExpiresAt,
			Reason:    reason,
		})
	}
	if prior.RefreshHash != "" && now.Before(prior.RefreshExpiresAt) {
		entries = append(entries, store.BlacklistEntry{
			TokenHash: prior.RefreshHash,
			Kind:      store.TokenRefresh,
			SessionID: sessionID,
			ExpiresAt: prior.RefreshExpiresAt,
			Reason:    reason,
		})
	}
	if len(entries) > 0 {
		if err := e.backend.Blacklist.Blacklist(ctx, entries...); err != nil {
			// the session status already rejects both tokens in strict mode
			e.logger.Warn("revocation list write failed",
				zap.String("session_id", sessionID),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}
	e.metrics.Inc(MetricSessionRevoked)
	return prior, nil
}

// Revoke ends a session (logout). Revoking an already revoked session is
// not an error.
func (e *Engine) Revoke(ctx context.Context, sessionID string) error {
	prior, err := e.revokeSession(ctx, sessionID, store.SessionRevoked, revokeReasonLogout)
	if err != nil {
		return err
	}
	e.emitSuccess(ctx, AuditSessionRevoked, prior.PrincipalID, sessionID)
	return nil
}

// RevokeAll ends every active session of the principal and returns how
// many were active.
func (e *Engine) RevokeAll(ctx context.Context, principalID string) (int, error) {
	n, err := e.revokeAllSessions(ctx, principalID, revokeReasonRevokeAll)
	if err != nil {
		return n, err
	}
	e.metrics.Inc(MetricSessionRevokedAll)
	e.emit(ctx, auditRecord{
		kind:        AuditSessionRevokedAll,
		principalID: principalID,
		outcome:     audit.OutcomeSuccess,
		metadata:    map[string]string{"sessions": fmt.Sprint(n)},
	})
	return n, nil
}

func (e *Engine) revokeAllSessions(ctx context.Context, principalID, reason string) (int, error) {
	sessions, err := e.backend.Sessions.ListSessions(ctx, principalID)
	if err != nil {
		return 0, e.unavailable("list sessions", err)
	}
	n := 0
	for _, s := range sessions {
		if s.Status != store.SessionActive {
			continue
		}
		if _, err := e.revokeSession(ctx, s.ID, store.SessionRevoked, reason); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// MarkSuspicious ends a session the caller's risk engine flagged.
func (e *Engine) MarkSuspicious(ctx context.Context, sessionID, reason string) error {
	if reason == "" {
		reason = "suspicious"
	}
	prior, err := e.revokeSession(ctx, sessionID, store.SessionSuspicious, reason)
	if err != nil {
		return err
	}
	e.emit(ctx, auditRecord{
		kind:        AuditSessionSuspicious,
		principalID: prior.PrincipalID,
		sessionID:   sessionID,
		outcome:     audit.OutcomeSuccess,
		reason:      reason,
	})
	return nil
}

// ListSessions returns the principal's sessions that can still be
// refreshed, oldest first.
func (e *Engine) ListSessions(ctx context.Context, principalID string) ([]*store.Session, error) {
	sessions, err := e.backend.Sessions.ListSessions(ctx, principalID)
	if err != nil {
		return nil, e.unavailable("list sessions", err)
	}
	now := e.now()
	out := sessions[:0]
	for _, s := range sessions {
		if s.Status == store.SessionActive && now.Before(s.RefreshExpiresAt) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ValidateAccess verifies an access token. By default only the signature
// and lifetime are checked; with Hardening.StrictValidation the session
// and the revocation list are consulted as well.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessInfo, error) {
	if e.config.Hardening.StrictValidation {
		return e.ValidateAccessStrict(ctx, token)
	}
	return e.parseAccess(token)
}

// ValidateAccessStrict verifies an access token and rejects it when its
// session is no longer active or the token was revoked. Use it in front of
// privileged operations.
func (e *Engine) ValidateAccessStrict(ctx context.Context, token string) (*AccessInfo, error) {
	info, err := e.parseAccess(token)
	if err != nil {
		return nil, err
	}

	now := e.now()
	revoked, err := e.backend.Blacklist.IsBlacklisted(ctx, internal.HashToken(token), now)
	if err != nil {
		return nil, e.unavailable("check revocation list", err)
	}
	if revoked {
		e.metrics.Inc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}

	sess, err := e.backend.Sessions.GetSession(ctx, info.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metrics.Inc(MetricAccessRejected)
			return nil, ErrTokenInvalid
		}
		return nil, e.unavailable("load session", err)
	}
	if sess.Status != store.SessionActive || sess.PrincipalID != info.PrincipalID {
		e.metrics.Inc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}
	if !now.Before(sess.RefreshExpiresAt) {
		e.metrics.Inc(MetricAccessRejected)
		return nil, ErrTokenExpired
	}
	return info, nil
}

func (e *Engine) parseAccess(token string) (*AccessInfo, error) {
	claims, err := e.tokens.ParseAccess(token)
	if err != nil {
		e.metrics.Inc(MetricAccessRejected)
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	info := &AccessInfo{
		PrincipalID: claims.PrincipalID,
		SessionID:   claims.SessionID,
		TokenID:     claims.ID,
		MFAVerified: claims.MFAVerified,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
