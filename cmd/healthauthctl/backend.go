package main

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/memstore"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/pgstore"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store/redisstore"
)

// runtime bundles an engine with the resources it was built on.
type runtime struct {
	engine  *healthauth.Engine
	cleanup []func()
}

func (r *runtime) Close() {
	if r.engine != nil {
		r.engine.Close()
	}
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i]()
	}
}

// backendKind selects where bench and sweep keep state.
type backendKind string

const (
	backendMemory    backendKind = "memory"
	backendMiniredis backendKind = "miniredis"
	backendPostgres  backendKind = "postgres"
)

// openRuntime builds an engine over the requested storage. Postgres holds
// durable records; a Redis address, real or in-process, overlays the
// session, revocation and secret stores.
func openRuntime(ctx context.Context, g *globals, kind backendKind, cfg healthauth.Config) (*runtime, error) {
	rt := &runtime{}
	var (
		base store.Backend
		rdb  redis.UniversalClient
	)

	switch kind {
	case backendMemory, backendMiniredis:
		base = memstore.New().Backend()
	case backendPostgres:
		if g.databaseURL == "" {
			return nil, errNoDatabase
		}
		db, err := pgstore.Open(g.databaseURL, pgstore.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		rt.cleanup = append(rt.cleanup, func() { _ = db.Close() })
		if err := db.Ping(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect: %w", err)
		}
		base = db.Backend()
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}

	addr := g.redisAddr
	if kind == backendMiniredis {
		mr, err := miniredis.Run()
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		rt.cleanup = append(rt.cleanup, mr.Close)
		addr = mr.Addr()
	}
	if addr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		rt.cleanup = append(rt.cleanup, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		base = redisstore.New(rdb, redisstore.Options{}).Backend(base)
	}

	if _, err := fillRuntimeKeys(&cfg); err != nil {
		rt.Close()
		return nil, err
	}
	b := healthauth.New().
		WithConfig(cfg).
		WithBackend(base).
		WithLogger(g.logger().With(zap.String("backend", string(kind))))
	if rdb != nil {
		b = b.WithRedis(rdb)
	}
	engine, err := b.Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}
