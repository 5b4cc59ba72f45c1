package healthauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/audit"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/federated"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/internal/rate"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/jwt"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/mfa"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/notify"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/password"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/rbac"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// Engine is the authentication core. Create one with New().Build().
type Engine struct {
	config    Config
	backend   store.Backend
	logger    *zap.Logger
	hasher    *password.Hasher
	tokens    *jwt.Manager
	totp      *mfa.TOTP
	box       *mfa.SecretBox
	rbac      *rbac.Engine
	limiter   Limiter
	audit     *audit.Dispatcher
	metrics   *Metrics
	notifier  notify.Notifier
	verifiers map[string]federated.Verifier
	now       func() time.Time

	detached sync.WaitGroup
}

// Close waits for detached deliveries and flushes queued audit events. The
// engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.detached.Wait()
	e.audit.Close()
}

// detach runs fn after the caller has returned, keeping ctx values but not
// its cancellation.
func (e *Engine) detach(ctx context.Context, fn func(context.Context)) {
	e.detached.Add(1)
	go func() {
		defer e.detached.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

// AuditDropped counts audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed counts audit events the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]float64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration without key material.
func (e *Engine) Config() Config {
	cfg := cloneConfig(e.config)
	cfg.JWT.PrivateKey = nil
	cfg.MFA.SecretKey = nil
	return cfg
}

// HashPassword hashes secret with the engine's password policy.
func (e *Engine) HashPassword(secret string) (string, error) {
	h, err := e.hasher.Hash(secret)
	if err != nil {
		if isPolicyError(err) {
			return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return "", err
	}
	return h, nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// unavailable wraps an infrastructure failure so it stays distinct from the
// error taxonomy.
func (e *Engine) unavailable(op string, err error) error {
	e.logger.Warn("backend failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// storeErr maps store sentinels onto engine errors.
func (e *Engine) storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrConflict
	default:
		return e.unavailable(op, err)
	}
}

func (e *Engine) limiterErr(err error) error {
	if errors.Is(err, rate.ErrRedisUnavailable) {
		return e.unavailable("rate limit", err)
	}
	return ErrRateLimited
}

// loadPrincipal maps a missing principal to ErrNotFound.
func (e *Engine) loadPrincipal(ctx context.Context, id string) (*store.Principal, error) {
	p, err := e.backend.Principals.GetPrincipal(ctx, id)
	if err != nil {
		return nil, e.storeErr("load principal", err)
	}
	return p, nil
}

// mutatePrincipal applies fn to a fresh copy of the principal and writes it
// back, retrying when a concurrent writer bumped the version first.
func (e *Engine) mutatePrincipal(ctx context.Context, id string, fn func(p *store.Principal) error) (*store.Principal, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		p, err := e.loadPrincipal(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		p.UpdatedAt = e.now()
		err = e.backend.Principals.UpdatePrincipal(ctx, p)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, e.storeErr("update principal", err)
		}
		lastErr = err
	}
	e.logger.Info("principal update lost to concurrent writers", zap.String("principal_id", id), zap.Error(lastErr))
	return nil, ErrConflict
}
