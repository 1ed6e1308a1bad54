// Package handlers provides HTTP handlers for the ingestion, analytics,
// auth and match-stream surfaces.
package handlers

import (
	"errors"
	"net/http"

	"github.com/driveline-analytics/leadbridge-go/internal/application/services"
	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// IngestHandlers handles visitor-session and lead ingestion requests.
type IngestHandlers struct {
	ingestion *services.IngestionService
	logger    *logging.ChanneledLogger
}

// NewIngestHandlers creates ingest handlers with injected dependencies.
func NewIngestHandlers(ingestion *services.IngestionService, logger *logging.ChanneledLogger) *IngestHandlers {
	return &IngestHandlers{ingestion: ingestion, logger: logger}
}

// PostSession handles POST /api/v1/ingest/session
func (h *IngestHandlers) PostSession(c *gin.Context) {
	var payload services.SessionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	sessionID, err := h.ingestion.IngestSession(&payload)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"sessionId": sessionID})
}

// PostLead handles POST /api/v1/ingest/lead
func (h *IngestHandlers) PostLead(c *gin.Context) {
	var payload services.LeadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	outcome, err := h.ingestion.IngestLead(&payload)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// respondIngestError distinguishes "fix your input" (422, field detail)
// from "retry later" (500).
func respondIngestError(c *gin.Context, err error) {
	var ve *identity.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "validation failed",
			"field":  ve.Field,
			"detail": ve.Reason,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence failure, retry later"})
}
