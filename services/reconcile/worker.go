package reconcile

import (
	"context"
	"fmt"
	"time"

	"fanrealms-backend/config"
	"fanrealms-backend/utils"
)

// RunWorker reconciles stale requests every interval until ctx is done.
func RunWorker(ctx context.Context, cfg config.ReconcileConfig) {
	if cfg.Interval <= 0 {
		utils.LogInfo("reconcile worker disabled")
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	utils.LogInfo(fmt.Sprintf("reconcile worker started, interval %s", cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			utils.LogInfo("reconcile worker stopped")
			return
		case <-ticker.C:
			runOnce(ctx, cfg)
		}
	}
}

func runOnce(ctx context.Context, cfg config.ReconcileConfig) {
	results, err := Stale(ctx, cfg.StaleAfter, cfg.BatchSize)
	if err != nil {
		utils.LogError(err, "reconcile pass failed")
		return
	}
	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
		}
	}
	if changed > 0 {
		utils.LogSuccess(fmt.Sprintf("reconcile pass repaired %d of %d requests", changed, len(results)))
	}
}
