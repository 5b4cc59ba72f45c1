package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

// Config holds throttle budgets. A zero budget disables that check.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	LoginPerIdentity int           `yaml:"login_per_identity"`
	LoginPerIP       int           `yaml:"login_per_ip"`
	RefreshPerSess   int           `yaml:"refresh_per_session"`
	Window           time.Duration `yaml:"window"`
}

// DefaultConfig allows 10 logins per identity, 50 per IP and 30 refreshes
// per session each minute.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		LoginPerIdentity: 10,
		LoginPerIP:       50,
		RefreshPerSess:   30,
		Window:           time.Minute,
	}
}

// Limiter is the throttle contract the engine depends on.
type Limiter interface {
	AllowLogin(ctx context.Context, identity, ip string) error
	AllowRefresh(ctx context.Context, sessionID string) error
}

// Noop allows everything.
type Noop struct{}

func (Noop) AllowLogin(context.Context, string, string) error { return nil }
func (Noop) AllowRefresh(context.Context, string) error       { return nil }

func loginUserKey(identity string) string { return "hal:" + identity }
func loginIPKey(ip string) string         { return "hali:" + ip }
func refreshKey(sessionID string) string  { return "har:" + sessionID }

// Local is an in-process token-bucket limiter.
type Local struct {
	cfg     Config
	buckets *gocache.Cache
}

// NewLocal builds a Local limiter. Idle buckets expire after two windows.
func NewLocal(cfg Config) *Local {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Local{cfg: cfg, buckets: gocache.New(2*cfg.Window, cfg.Window)}
}

func (l *Local) AllowLogin(_ context.Context, identity, ip string) error {
	if !l.cfg.Enabled {
		return nil
	}
	if identity != "" && !l.allow(loginUserKey(identity), l.cfg.LoginPerIdentity) {
		return ErrRateLimited
	}
	if ip != "" && !l.allow(loginIPKey(ip), l.cfg.LoginPerIP) {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) AllowRefresh(_ context.Context, sessionID string) error {
	if !l.cfg.Enabled || sessionID == "" {
		return nil
	}
	if !l.allow(refreshKey(sessionID), l.cfg.RefreshPerSess) {
		return ErrRateLimited
	}
	return nil
}

func (l *Local) allow(key string, budget int) bool {
	if budget <= 0 {
		return true
	}
	v, ok := l.buckets.Get(key)
	if !ok {
		every := xrate.Every(l.cfg.Window / time.Duration(budget))
		fresh := xrate.NewLimiter(every, budget)
		if err := l.buckets.Add(key, fresh, gocache.DefaultExpiration); err != nil {
			v, _ = l.buckets.Get(key)
		} else {
			v = fresh
		}
	}
	lim, ok := v.(*xrate.Limiter)
	if !ok {
		return true
	}
	l.buckets.SetDefault(key, lim)
	return lim.Allow()
}

// Redis is a fixed-window counter limiter shared across processes.
type Redis struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis creates a limiter backed by the given client.
func NewRedis(client redis.UniversalClient, cfg Config) *Redis {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Redis{redis: client, config: cfg}
}

func (l *Redis) AllowLogin(ctx context.Context, identity, ip string) error {
	if !l.config.Enabled {
		return nil
	}
	if identity != "" && l.config.LoginPerIdentity > 0 {
		if err := l.hit(ctx, loginUserKey(identity), l.config.LoginPerIdentity); err != nil {
			return err
		}
	}
	if ip != "" && l.config.LoginPerIP > 0 {
		if err := l.hit(ctx, loginIPKey(ip), l.config.LoginPerIP); err != nil {
			return err
		}
	}
	return nil
}

func (l *Redis) AllowRefresh(ctx context.Context, sessionID string) error {
	if !l.config.Enabled || sessionID == "" || l.config.RefreshPerSess <= 0 {
		return nil
	}
	return l.hit(ctx, refreshKey(sessionID), l.config.RefreshPerSess)
}

// Attempts returns the current window count for an identity. Missing keys
// read as zero.
func (l *Redis) Attempts(ctx context.Context, identity string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func (l *Redis) hit(ctx context.Context, key string, budget int) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// fixed window: TTL only on the first hit
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(budget) {
		return ErrRateLimited
	}
	return nil
}
