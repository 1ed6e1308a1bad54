package handlers

import (
	"net/http"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/database"
	"github.com/gin-gonic/gin"
)

// DBHandlers reports identity-store connectivity.
type DBHandlers struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewDBHandlers creates db handlers with injected dependencies.
func NewDBHandlers(db *database.DB, logger *logging.ChanneledLogger) *DBHandlers {
	return &DBHandlers{db: db, logger: logger}
}

// GetStatus handles GET /api/v1/db/status
func (h *DBHandlers) GetStatus(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		h.logger.Database().Error("Status ping failed", "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"driver": h.db.ConnectionInfo(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"driver": h.db.ConnectionInfo(),
	})
}
