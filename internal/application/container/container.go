// Package container provides dependency injection for the application.
package container

import (
	"fmt"

	"github.com/driveline-analytics/leadbridge-go/internal/application/services"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/cdp"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/email"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/messaging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/database"
	persistence "github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/identity"
)

// Container holds every wired dependency of the running service.
type Container struct {
	Logger *logging.ChanneledLogger
	DB     *database.DB

	SessionRepo *persistence.SQLSessionRepository
	LeadRepo    *persistence.SQLLeadRepository
	MatchRepo   *persistence.SQLMatchRepository
	BucketRepo  *persistence.SQLBucketRepository

	Broadcaster *messaging.MatchBroadcaster
	CDPClient   *cdp.Client
	AlertClient *email.Client

	MatchingService  *services.MatchingService
	IngestionService *services.IngestionService
	AnalyticsService *services.AnalyticsService
	ArchivalService  *services.ArchivalService
}

// New builds the full dependency graph: connection, schema, repositories,
// sinks and services. Optional sinks (CDP, sales alerts) stay nil when
// unconfigured; the services skip nil sinks.
func New(logger *logging.ChanneledLogger) (*Container, error) {
	db, err := database.NewConnection(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect identity store: %w", err)
	}

	if err := database.NewTableCreator().CreateSchema(db.DB); err != nil {
		return nil, fmt.Errorf("failed to create identity-store schema: %w", err)
	}

	c := &Container{
		Logger: logger,
		DB:     db,

		SessionRepo: persistence.NewSQLSessionRepository(db, logger),
		LeadRepo:    persistence.NewSQLLeadRepository(db, logger),
		MatchRepo:   persistence.NewSQLMatchRepository(db, logger),
		BucketRepo:  persistence.NewSQLBucketRepository(db, logger),

		Broadcaster: messaging.NewMatchBroadcaster(logger),
		CDPClient:   cdp.NewClient(logger),
	}

	if alertClient, err := email.NewClient(); err == nil {
		c.AlertClient = alertClient
	} else {
		logger.Startup().Info("Sales alerts disabled", "reason", err.Error())
	}

	c.MatchingService = services.NewMatchingService(c.SessionRepo, c.MatchRepo, logger)
	c.IngestionService = services.NewIngestionService(
		c.SessionRepo, c.LeadRepo, c.MatchRepo,
		c.MatchingService, c.CDPClient, c.AlertClient, c.Broadcaster,
		logger,
	)
	c.AnalyticsService = services.NewAnalyticsService(
		c.SessionRepo, c.LeadRepo, c.MatchRepo, c.BucketRepo, logger)
	c.ArchivalService = services.NewArchivalService(c.SessionRepo, logger)

	return c, nil
}

// Close releases held resources.
func (c *Container) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
