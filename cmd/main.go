package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/rulelearn/internal/clients/redis"
	"github.com/yungbote/rulelearn/internal/db"
	"github.com/yungbote/rulelearn/internal/handlers"
	"github.com/yungbote/rulelearn/internal/learning"
	"github.com/yungbote/rulelearn/internal/learning/index"
	"github.com/yungbote/rulelearn/internal/logger"
	"github.com/yungbote/rulelearn/internal/repos"
	"github.com/yungbote/rulelearn/internal/server"
	"github.com/yungbote/rulelearn/internal/utils"
)

func main() {
	// Logger
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

	// Env
	matchThreshold := utils.GetEnvAsFloat("MATCH_THRESHOLD", 0.80, log)
	lowThreshold := utils.GetEnvAsFloat("CONFIDENCE_LOW_THRESHOLD", 0.30, log)
	highThreshold := utils.GetEnvAsFloat("CONFIDENCE_HIGH_THRESHOLD", 0.90, log)
	minSampleSize := utils.GetEnvAsInt("MIN_SAMPLE_SIZE", 10, log)
	stalenessSeconds := utils.GetEnvAsInt("INDEX_STALENESS_SECONDS", 3600, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	patternRepo := repos.NewRulePatternRepo(thePG, log)

	// Index
	patternIndex := index.New(patternRepo, log, time.Duration(stalenessSeconds)*time.Second)

	// Pattern bus (optional; replicas without Redis just ride the
	// staleness bound)
	var bus learning.Bus
	patternBus, err := redis.NewPatternBus(log)
	if err != nil {
		log.Warn("Pattern bus disabled", "error", err)
	} else {
		bus = patternBus
		defer patternBus.Close()
	}

	// Service
	svc := learning.NewService(patternRepo, patternIndex, bus, log, learning.Config{
		MatchThreshold: matchThreshold,
		LowThreshold:   lowThreshold,
		HighThreshold:  highThreshold,
		MinSampleSize:  int64(minSampleSize),
	})

	if patternBus != nil {
		if err := patternBus.StartListener(context.Background(), svc.OnRemoteChange); err != nil {
			log.Warn("Pattern bus listener failed to start", "error", err)
		}
	}

	// Handlers + router
	patternHandler := handlers.NewPatternHandler(svc)
	router := server.NewRouter(server.RouterConfig{
		PatternHandler: patternHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
