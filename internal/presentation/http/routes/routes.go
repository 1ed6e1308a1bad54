// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/driveline-analytics/leadbridge-go/internal/application/container"
	"github.com/driveline-analytics/leadbridge-go/internal/presentation/http/handlers"
	"github.com/driveline-analytics/leadbridge-go/internal/presentation/http/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(c *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	ingestHandlers := handlers.NewIngestHandlers(c.IngestionService, c.Logger)
	analyticsHandlers := handlers.NewAnalyticsHandlers(c.AnalyticsService, c.Logger)
	authHandlers := handlers.NewAuthHandlers(c.Logger)
	matchHandlers := handlers.NewMatchHandlers(c.MatchingService, c.Broadcaster, c.Logger)
	dbHandlers := handlers.NewDBHandlers(c.DB, c.Logger)

	api := r.Group("/api/v1")
	{
		api.POST("/ingest/session", ingestHandlers.PostSession)
		api.POST("/ingest/lead", ingestHandlers.PostLead)
		api.POST("/auth/login", authHandlers.PostLogin)
		api.GET("/db/status", dbHandlers.GetStatus)

		dashboard := api.Group("")
		dashboard.Use(middleware.DashboardAuthMiddleware())
		{
			dashboard.GET("/analytics/bucket", analyticsHandlers.GetBucket)
			dashboard.POST("/analytics/recompute", analyticsHandlers.PostRecompute)
			dashboard.GET("/analytics/attribution", analyticsHandlers.GetAttribution)
			dashboard.GET("/matches/stream", matchHandlers.StreamMatches)
			dashboard.POST("/matches/:id/conversion", matchHandlers.PostConversion)
		}
	}

	return r
}
