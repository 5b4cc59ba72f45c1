package healthauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
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

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config  Config
	backend store.Backend
	logger  *zap.Logger
	redis   redis.UniversalClient

	auditSink audit.Sink
	verifiers []federated.Verifier
	notifier  notify.Notifier
	limiter   Limiter
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the storage implementation. Required.
func (b *Builder) WithBackend(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRedis supplies the client used by the "redis" rate limit backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets where audit events go. Without one, events are
// written to the engine logger.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithFederatedVerifier registers a verifier under its TokenType. It may be
// called once per token type.
func (b *Builder) WithFederatedVerifier(v federated.Verifier) *Builder {
	b.verifiers = append(b.verifiers, v)
	return b
}

func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLimiter overrides the limiter derived from Config.RateLimit.
func (b *Builder) WithLimiter(l Limiter) *Builder {
	b.limiter = l
	return b
}

// WithClock replaces time.Now for every expiry decision the engine makes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := b.backend.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		ChallengeTTL:  cfg.JWT.ChallengeTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt manager: %w", err)
	}

	otp, err := mfa.NewTOTP(cfg.MFA.TOTP)
	if err != nil {
		return nil, fmt.Errorf("totp: %w", err)
	}

	var box *mfa.SecretBox
	if len(cfg.MFA.SecretKey) > 0 {
		box, err = mfa.NewSecretBox(cfg.MFA.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("mfa secret box: %w", err)
		}
	}

	limiter, err := b.buildLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	verifiers := make(map[string]federated.Verifier, len(b.verifiers))
	for _, v := range b.verifiers {
		if v == nil {
			continue
		}
		tt := v.TokenType()
		if tt == "" {
			return nil, errors.New("federated verifier has empty token type")
		}
		if _, dup := verifiers[tt]; dup {
			return nil, fmt.Errorf("duplicate federated verifier for %q", tt)
		}
		verifiers[tt] = v
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger)
	}

	b.built = true
	return &Engine{
		config:    cfg,
		backend:   b.backend,
		logger:    logger,
		hasher:    hasher,
		tokens:    tokens,
		totp:      otp,
		box:       box,
		rbac:      rbac.New(b.backend.RBAC, cfg.RBAC, now),
		limiter:   limiter,
		audit:     audit.NewDispatcher(cfg.Audit, sink, logger.Named("audit")),
		metrics:   NewMetrics(cfg.Metrics),
		notifier:  notifier,
		verifiers: verifiers,
		now:       now,
	}, nil
}

func (b *Builder) buildLimiter(cfg RateLimitConfig) (Limiter, error) {
	if b.limiter != nil {
		return b.limiter, nil
	}
	if !cfg.Enabled {
		return rate.Noop{}, nil
	}
	rc := rate.Config{
		Enabled:          true,
		LoginPerIdentity: cfg.LoginPerIdentity,
		LoginPerIP:       cfg.LoginPerIP,
		RefreshPerSess:   cfg.RefreshPerSession,
		Window:           cfg.Window,
	}
	if cfg.Backend == "redis" {
		if b.redis == nil {
			return nil, errors.New("redis rate limit backend requires WithRedis")
		}
		return rate.NewRedis(b.redis, rc), nil
	}
	return rate.NewLocal(rc), nil
}
