package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
	"github.com/ppulimamidy/PersonalHealthAssistant-sub005/store"
)

const benchSecret = "bench secret value"

type benchOptions struct {
	backend     string
	principals  int
	concurrency int
	ops         int
}

// chain is one session's current refresh token. Refreshes on a chain are
// serialized; a concurrent second refresh would be reported as reuse.
type chain struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func newBenchCmd(g *globals) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure login, access validation and refresh rotation against a local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.principals <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("principals, concurrency and ops must be > 0")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			// hashing cost is not what this measures
			cfg.Password.Memory = 8 * 1024
			cfg.Password.Time = 1
			cfg.Password.Parallelism = 1
			cfg.RateLimit.Enabled = false
			cfg.Audit.Enabled = false
			cfg.Maintenance.Interval = 0

			rt, err := openRuntime(cmd.Context(), g, backendKind(opts.backend), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runBench(cmd.Context(), cmd.OutOrStdout(), rt.engine, opts)
		},
	}
	cmd.Flags().StringVar(&opts.backend, "backend", "memory", "memory|miniredis|postgres")
	cmd.Flags().IntVar(&opts.principals, "principals", 200, "principals to seed, one session each")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 32, "concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 5000, "operations per phase")
	return cmd
}

func runBench(ctx context.Context, w io.Writer, engine *healthauth.Engine, opts benchOptions) error {
	chains := make([]*chain, opts.principals)
	seedStart := time.Now()
	for i := range chains {
		email := fmt.Sprintf("bench-%d@example.com", i)
		if _, err := engine.CreatePrincipal(ctx, healthauth.NewPrincipal{
			Email:    email,
			Password: benchSecret,
			Status:   store.PrincipalActive,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", email, err)
		}
		res, err := engine.Login(ctx, email, benchSecret)
		if err != nil {
			return fmt.Errorf("login %s: %w", email, err)
		}
		chains[i] = &chain{access: res.Tokens.AccessToken, refresh: res.Tokens.RefreshToken}
	}
	fmt.Fprintf(w, "seeded %d sessions in %s\n", len(chains), time.Since(seedStart).Round(time.Millisecond))

	validate, err := runPhase(ctx, opts, func(ctx context.Context, r *rand.Rand) error {
		c := chains[r.Intn(len(chains))]
		c.mu.Lock()
		token := c.access
		c.mu.Unlock()
		_, err := engine.ValidateAccessStrict(ctx, token)
		return err
	})
	if err != nil {
		return err
	}

	refresh, err := runPhase(ctx, opts, func(ctx context.Context, r *rand.Rand) error {
		c := chains[r.Intn(len(chains))]
		c.mu.Lock()
		defer c.mu.Unlock()
		pair, err := engine.Refresh(ctx, c.refresh)
		if err != nil {
			return err
		}
		c.access, c.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "---- results ----")
	printStats(w, "validate", validate)
	printStats(w, "refresh", refresh)

	snap := engine.MetricsSnapshot()
	fmt.Fprintf(w, "counters: login_success=%d refresh_success=%d refresh_reuse=%d\n",
		snap.Counters[healthauth.MetricLoginSuccess],
		snap.Counters[healthauth.MetricRefreshSuccess],
		snap.Counters[healthauth.MetricRefreshReuseDetected],
	)
	return nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

// runPhase spreads opts.ops calls of op over opts.concurrency workers.
// Individual failures are counted; only context cancellation aborts.
func runPhase(ctx context.Context, opts benchOptions, op func(context.Context, *rand.Rand) error) (phaseStats, error) {
	var (
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.ops)
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < opts.concurrency; worker++ {
		seed := time.Now().UnixNano() + int64(worker)*7919
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			local := make([]time.Duration, 0, opts.ops/opts.concurrency+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()
			for {
				if int(atomic.AddInt64(&cursor, 1)) > opts.ops {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				if err := op(gctx, r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	return computeStats(time.Since(start), latencies, failures), nil
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
