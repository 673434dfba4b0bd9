// One-shot maintenance trigger, meant to be run from cron or an operator
// shell. Scheduling lives outside the service on purpose.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/rulelearn/internal/db"
	"github.com/yungbote/rulelearn/internal/learning"
	"github.com/yungbote/rulelearn/internal/logger"
	"github.com/yungbote/rulelearn/internal/repos"
	"github.com/yungbote/rulelearn/internal/utils"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	patternRepo := repos.NewRulePatternRepo(postgresService.DB(), log)

	summary, err := learning.RunMaintenance(context.Background(), learning.MaintenanceDeps{
		Repo: patternRepo,
		Log:  log,
	}, learning.MaintenanceInput{
		LowThreshold:  utils.GetEnvAsFloat("CONFIDENCE_LOW_THRESHOLD", 0.30, log),
		HighThreshold: utils.GetEnvAsFloat("CONFIDENCE_HIGH_THRESHOLD", 0.90, log),
		MinSampleSize: int64(utils.GetEnvAsInt("MIN_SAMPLE_SIZE", 10, log)),
	})
	if err != nil {
		log.Error("Maintenance run failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("maintenance: deactivated=%d confirmed=%d unchanged=%d errors=%d\n",
		summary.Deactivated, summary.Confirmed, summary.Unchanged, summary.Errors)
}
