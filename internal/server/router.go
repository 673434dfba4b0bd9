package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/rulelearn/internal/handlers"
)

type RouterConfig struct {
	PatternHandler *handlers.PatternHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/patterns/match", cfg.PatternHandler.Match)
		api.POST("/patterns", cfg.PatternHandler.Save)
		api.POST("/patterns/:id/outcome", cfg.PatternHandler.Outcome)
		api.POST("/patterns/:id/status", cfg.PatternHandler.SetStatus)
		api.POST("/maintenance/run", cfg.PatternHandler.RunMaintenance)
	}

	return router
}
