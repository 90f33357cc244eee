package maintenance

import (
	"context"
	"log/slog"
	"time"

	"podscript/pkg/db"
	"podscript/pkg/store"
)

const lastRunStateKey = "maintenance_last_run"

// Retention windows for stored data.
const (
	cacheRetention  = 30 * 24 * time.Hour
	scriptRetention = 180 * 24 * time.Hour
)

// Run executes all maintenance tasks. It blocks until completion and is
// cheap enough to call on every startup; a state key keeps it from
// running more than once a day.
func Run(ctx context.Context, s store.StateStore, d *db.DB) error {
	if last, found := s.GetState(ctx, lastRunStateKey); found {
		if t, err := time.Parse(time.RFC3339, last); err == nil && time.Since(t) < 24*time.Hour {
			return nil // Ran recently
		}
	}

	slog.Info("Starting database maintenance...")

	if err := d.PruneCache(cacheRetention); err != nil {
		slog.Error("Cache pruning failed", "error", err)
	} else {
		slog.Info("Cache pruning completed")
	}

	if err := d.PruneScripts(scriptRetention); err != nil {
		slog.Error("Script pruning failed", "error", err)
	} else {
		slog.Info("Script archive pruning completed")
	}

	if err := s.SetState(ctx, lastRunStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record maintenance run", "error", err)
	}

	return nil
}
