package learning

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/rulelearn/internal/logger"
	"github.com/yungbote/rulelearn/internal/repos"
	"github.com/yungbote/rulelearn/internal/types"
)

type MaintenanceDeps struct {
	Repo repos.RulePatternRepo
	Log  *logger.Logger
}

type MaintenanceInput struct {
	LowThreshold  float64 // deactivate below this confidence
	HighThreshold float64 // confirm above this confidence
	MinSampleSize int64   // usage required before either transition
	Concurrency   int
}

type MaintenanceSummary struct {
	Deactivated int `json:"deactivated"`
	Confirmed   int `json:"confirmed"`
	Unchanged   int `json:"unchanged"`
	Errors      int `json:"errors"`
}

// RunMaintenance classifies every non-blacklisted pattern. Low-confidence,
// well-sampled active patterns are retired to inactive; high-confidence ones
// are confirmed to archived (still matchable). The pass is idempotent:
// neither target state is eligible for re-classification. A failing pattern
// only loses its own transition, never the batch.
func RunMaintenance(ctx context.Context, deps MaintenanceDeps, input MaintenanceInput) (MaintenanceSummary, error) {
	out := MaintenanceSummary{}
	if deps.Repo == nil {
		return out, fmt.Errorf("maintenance: missing repo")
	}
	if input.LowThreshold <= 0 {
		input.LowThreshold = 0.30
	}
	if input.HighThreshold <= 0 {
		input.HighThreshold = 0.90
	}
	if input.MinSampleSize <= 0 {
		input.MinSampleSize = 10
	}
	if input.Concurrency <= 0 {
		input.Concurrency = 4
	}

	rows, err := deps.Repo.ListByStatus(ctx, types.StatusActive, types.StatusInactive, types.StatusArchived)
	if err != nil {
		return out, err
	}

	var deactivated, confirmed, unchanged, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(input.Concurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			target := classify(row, input)
			if target == "" {
				atomic.AddInt64(&unchanged, 1)
				return nil
			}
			if err := deps.Repo.SetStatus(gctx, row.ID, target); err != nil {
				atomic.AddInt64(&failed, 1)
				if deps.Log != nil {
					deps.Log.Warn("maintenance: transition failed", "pattern_id", row.ID, "target", target, "error", err)
				}
				return nil
			}
			switch target {
			case types.StatusInactive:
				atomic.AddInt64(&deactivated, 1)
			case types.StatusArchived:
				atomic.AddInt64(&confirmed, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	out.Deactivated = int(deactivated)
	out.Confirmed = int(confirmed)
	out.Unchanged = int(unchanged)
	out.Errors = int(failed)
	if deps.Log != nil {
		deps.Log.Info("maintenance pass complete",
			"scanned", len(rows),
			"deactivated", out.Deactivated,
			"confirmed", out.Confirmed,
			"unchanged", out.Unchanged,
			"errors", out.Errors)
	}
	return out, nil
}

// classify returns the target status for a pattern, or "" when it stays put.
// Only active patterns move automatically; inactive -> active is a manual
// action and blacklisted rows never enter the batch.
func classify(row *types.RulePattern, input MaintenanceInput) string {
	if row == nil || row.Status != types.StatusActive {
		return ""
	}
	if row.TimesMatched < input.MinSampleSize {
		return ""
	}
	if row.ConfidenceScore < input.LowThreshold {
		return types.StatusInactive
	}
	if row.ConfidenceScore > input.HighThreshold {
		return types.StatusArchived
	}
	return ""
}
