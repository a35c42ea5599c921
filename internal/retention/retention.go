package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"chatcoord/pkg/config"
	"chatcoord/pkg/logger"
	"chatcoord/pkg/state"
	"chatcoord/pkg/store"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config, dbPath string) (context.CancelFunc, error) {
	ret := cfg.Retention

	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	if _, err := parsePeriod(ret.Period); err != nil {
		logger.Error("retention_invalid_period", "period", ret.Period, "error", err)
		return nil, err
	}

	retentionPath := state.RetentionPath(dbPath)
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	// default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", ret.Period, "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, cfg *config.Config, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(ctx, cfg, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single purge pass: messages older than the configured
// period are deleted in batches, and a marker file records the run.
func RunOnce(ctx context.Context, cfg *config.Config, retentionPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ret := cfg.Retention
	period, err := parsePeriod(ret.Period)
	if err != nil {
		return err
	}
	if ret.MinPeriod != "" {
		min, merr := parsePeriod(ret.MinPeriod)
		if merr == nil && period < min {
			return fmt.Errorf("retention period %s below minimum %s", ret.Period, ret.MinPeriod)
		}
	}

	cutoff := time.Now().UTC().Add(-period).UnixNano()
	start := time.Now()
	n, _, err := store.PurgeOlderThan(cutoff, ret.BatchSize, ret.DryRun)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	logger.Info("retention_run_complete",
		"purged", n, "dry_run", ret.DryRun, "took_ms", time.Since(start).Milliseconds())

	marker := fmt.Sprintf("time=%s purged=%d dry_run=%v\n", start.UTC().Format(time.RFC3339), n, ret.DryRun)
	if werr := os.WriteFile(filepath.Join(retentionPath, "last_run"), []byte(marker), 0o600); werr != nil {
		logger.Warn("retention_marker_write_failed", "error", werr)
	}
	return nil
}

// parsePeriod accepts Go durations plus day suffixes like "30d".
func parsePeriod(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("retention period not set")
	}
	if n := len(s); n > 1 && s[n-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s[:n-1], "%d", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid retention period: %q", s)
	}
	return d, nil
}
