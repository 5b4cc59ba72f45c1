package healthauth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sweep expires stale sessions and deletes revocation entries, backup
// codes and emailed secrets that can no longer be presented. None of it
// is needed for correctness: every read path checks expiry itself.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	now := e.now()
	var report SweepReport

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.backend.Sessions.ExpireSessions(gctx, now)
		report.SessionsExpired = n
		return err
	})
	g.Go(func() error {
		n, err := e.backend.Blacklist.PruneBlacklist(gctx, now)
		report.BlacklistPruned = n
		return err
	})
	g.Go(func() error {
		n, err := e.backend.BackupCodes.PruneBackupCodes(gctx, now)
		report.BackupCodesPruned = n
		return err
	})
	g.Go(func() error {
		n, err := e.backend.Secrets.PruneSecrets(gctx, now)
		report.SecretsPruned = n
		return err
	})
	if err := g.Wait(); err != nil {
		return report, e.unavailable("sweep", err)
	}

	report.Duration = time.Since(start)
	e.logger.Debug("sweep finished",
		zap.Int("sessions_expired", report.SessionsExpired),
		zap.Int("blacklist_pruned", report.BlacklistPruned),
		zap.Int("backup_codes_pruned", report.BackupCodesPruned),
		zap.Int("secrets_pruned", report.SecretsPruned),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// StartMaintenance runs Sweep every Maintenance.Interval until ctx ends or
// the returned stop function is called. stop waits for a running sweep.
func (e *Engine) StartMaintenance(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	interval := e.config.Maintenance.Interval
	if interval <= 0 {
		interval = DefaultConfig().Maintenance.Interval
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
					e.logger.Warn("maintenance sweep failed", zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
