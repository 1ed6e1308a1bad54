package services

import (
	"context"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

// ArchivalService enforces the session retention window: unmatched
// sessions older than the window are deleted on a schedule. Matched
// sessions are never touched.
type ArchivalService struct {
	sessionRepo identity.SessionRepository
	logger      *logging.ChanneledLogger
}

// NewArchivalService creates a new ArchivalService.
func NewArchivalService(sessionRepo identity.SessionRepository, logger *logging.ChanneledLogger) *ArchivalService {
	return &ArchivalService{sessionRepo: sessionRepo, logger: logger}
}

// RunOnce performs one retention sweep and returns the number of sessions
// deleted.
func (s *ArchivalService) RunOnce() (int64, error) {
	cutoff := time.Now().UTC().Add(-config.SessionRetention)

	deleted, err := s.sessionRepo.DeleteUnmatchedBefore(cutoff)
	if err != nil {
		s.logger.Archival().Error("Retention sweep failed", "error", err.Error())
		return 0, err
	}

	if deleted > 0 {
		s.logger.Archival().Info("Retention sweep completed",
			"deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// Start runs retention sweeps on the configured interval until ctx is
// cancelled.
func (s *ArchivalService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(config.ArchivalInterval)
		defer ticker.Stop()

		s.RunOnce()
		for {
			select {
			case <-ctx.Done():
				s.logger.Archival().Info("Retention sweeps stopped")
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}
