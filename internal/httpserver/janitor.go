package httpserver

import (
	"context"
	"log/slog"
	"time"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/metrics"
	"pastebin-lite/internal/storage"
)

// StartJanitor launches a background janitor that deletes expired keys from
// stores that do not expire them on their own.
func StartJanitor(ctx context.Context, sweeper storage.Sweeper, c clock.Clock, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanOnce(ctx, sweeper, c, logger)
			}
		}
	}()
}

func cleanOnce(ctx context.Context, sweeper storage.Sweeper, c clock.Clock, logger *slog.Logger) int {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	removed, err := sweeper.DeleteExpired(sctx, c.Now())
	if err != nil {
		if logger != nil {
			logger.Error("janitor error", "error", err)
		}
		return 0
	}
	metrics.ObserveSweep(removed)
	if removed > 0 && logger != nil {
		logger.Info("janitor removed expired keys", "count", removed)
	}
	return removed
}
