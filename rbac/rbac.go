// Package rbac evaluates role-based authorization decisions.
//
// A principal's effective permission set is the union of the permissions of
// its active, unexpired role assignments, restricted to active, unexpired
// grants on active roles. Sets are cached per principal in an in-process
// go-cache and refilled through singleflight, so a burst of checks for one
// principal costs one store round trip. Cached sets remember the earliest
// expiry they depend on and are refilled once it passes, so an expired
// assignment stops authorizing without any sweep.
package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

// GrantSource loads the raw grant rows for a principal.
type GrantSource interface {
	Grants(ctx context.Context, principalID string) ([]store.Grant, error)
}

// Config tunes the permission cache.
type Config struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	DisableCache  bool          `yaml:"disable_cache"`
	CleanInterval time.Duration `yaml:"clean_interval"`
}

// DefaultConfig caches sets for five minutes.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Minute, CleanInterval: time.Minute}
}

// Engine answers Authorized queries.
type Engine struct {
	source GrantSource
	cfg    Config
	now    func() time.Time

	cache *gocache.Cache
	sf    singleflight.Group

	epoch atomic.Uint64
	mu    sync.Mutex
	gens  map[string]uint64
}

type cached struct {
	perms      []store.Permission
	validUntil time.Time
	epoch      uint64
}

// New builds an engine over source. now may be nil.
func New(source GrantSource, cfg Config, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.CleanInterval <= 0 {
		cfg.CleanInterval = time.Minute
	}
	return &Engine{
		source: source,
		cfg:    cfg,
		now:    now,
		cache:  gocache.New(cfg.CacheTTL, cfg.CleanInterval),
		gens:   make(map[string]uint64),
	}
}

// Authorized reports whether principalID may perform action on resourceType.
// The only deny is the absence of a matching permission.
func (e *Engine) Authorized(ctx context.Context, principalID, resourceType, action string) (bool, error) {
	perms, err := e.Permissions(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.ResourceType == resourceType && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}

// Permissions returns the effective permission set, sorted by resource type
// then action.
func (e *Engine) Permissions(ctx context.Context, principalID string) ([]store.Permission, error) {
	now := e.now()
	if !e.cfg.DisableCache {
		if v, ok := e.cache.Get(principalID); ok {
			c := v.(*cached)
			if c.epoch == e.epoch.Load() && (c.validUntil.IsZero() || now.Before(c.validUntil)) {
				return c.perms, nil
			}
		}
	}

	v, err, _ := e.sf.Do(principalID, func() (interface{}, error) {
		return e.fill(ctx, principalID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.Permission), nil
}

func (e *Engine) fill(ctx context.Context, principalID string) ([]store.Permission, error) {
	epoch := e.epoch.Load()
	gen := e.generation(principalID)

	grants, err := e.source.Grants(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	perms, validUntil := Resolve(grants, e.now())

	if e.cfg.DisableCache {
		return perms, nil
	}
	e.mu.Lock()
	if e.epoch.Load() == epoch && e.gens[principalID] == gen {
		e.cache.Set(principalID, &cached{perms: perms, validUntil: validUntil, epoch: epoch}, gocache.DefaultExpiration)
	}
	e.mu.Unlock()
	return perms, nil
}

func (e *Engine) generation(principalID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gens[principalID]
}

// Invalidate drops the cached set of one principal. Call it after any
// change to that principal's role assignments.
func (e *Engine) Invalidate(principalID string) {
	e.mu.Lock()
	e.gens[principalID]++
	e.cache.Delete(principalID)
	e.mu.Unlock()
	e.sf.Forget(principalID)
}

// InvalidateAll drops every cached set. Call it after a role's grants or
// active flag change.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	e.epoch.Add(1)
	e.cache.Flush()
	e.mu.Unlock()
}

// Resolve filters grants at now and returns the distinct permissions plus
// the earliest future expiry among the rows that contributed (zero when
// nothing expires).
func Resolve(grants []store.Grant, now time.Time) ([]store.Permission, time.Time) {
	seen := make(map[string]struct{}, len(grants))
	perms := make([]store.Permission, 0, len(grants))
	var validUntil time.Time

	for _, g := range grants {
		if !g.RoleActive || !g.AssignmentActive || !g.GrantActive {
			continue
		}
		if !live(g.AssignmentExpiresAt, now) || !live(g.GrantExpiresAt, now) {
			continue
		}
		validUntil = earliest(validUntil, g.AssignmentExpiresAt)
		validUntil = earliest(validUntil, g.GrantExpiresAt)

		key := g.Permission.ID
		if key == "" {
			key = g.Permission.ResourceType + "\x00" + g.Permission.Action + "\x00" + g.Permission.Scope
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		perms = append(perms, g.Permission)
	}

	sort.Slice(perms, func(i, j int) bool {
		if perms[i].ResourceType != perms[j].ResourceType {
			return perms[i].ResourceType < perms[j].ResourceType
		}
		if perms[i].Action != perms[j].Action {
			return perms[i].Action < perms[j].Action
		}
		return perms[i].Scope < perms[j].Scope
	})
	return perms, validUntil
}

func live(expiresAt, now time.Time) bool {
	return expiresAt.IsZero() || now.Before(expiresAt)
}

func earliest(cur, candidate time.Time) time.Time {
	if candidate.IsZero() {
		return cur
	}
	if cur.IsZero() || candidate.Before(cur) {
		return candidate
	}
	return cur
}
