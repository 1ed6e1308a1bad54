package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/application/services"
	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// AnalyticsHandlers handles the dashboard's analytics read surface and
// on-demand recompute.
type AnalyticsHandlers struct {
	analytics *services.AnalyticsService
	logger    *logging.ChanneledLogger
}

// NewAnalyticsHandlers creates analytics handlers with injected dependencies.
func NewAnalyticsHandlers(analytics *services.AnalyticsService, logger *logging.ChanneledLogger) *AnalyticsHandlers {
	return &AnalyticsHandlers{analytics: analytics, logger: logger}
}

// GetBucket handles GET /api/v1/analytics/bucket?date=YYYY-MM-DD&hour=N
func (h *AnalyticsHandlers) GetBucket(c *gin.Context) {
	date := c.Query("date")
	hour, err := parseHour(c.DefaultQuery("hour", "-1"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "hour must be -1 or 0-23"})
		return
	}

	bucket, err := h.analytics.GetBucket(date, hour)
	if err != nil {
		respondIngestError(c, err)
		return
	}
	if bucket == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bucket not computed"})
		return
	}

	c.JSON(http.StatusOK, bucket)
}

// PostRecompute handles POST /api/v1/analytics/recompute
func (h *AnalyticsHandlers) PostRecompute(c *gin.Context) {
	var request struct {
		Date string `json:"date"`
		Hour *int   `json:"hour,omitempty"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	hour := services.DailyBucket
	if request.Hour != nil {
		hour = *request.Hour
	}

	bucket, err := h.analytics.RecomputeBucket(request.Date, hour)
	if err != nil {
		respondIngestError(c, err)
		return
	}

	c.JSON(http.StatusOK, bucket)
}

// GetAttribution handles GET /api/v1/analytics/attribution?dimension=&from=&to=
func (h *AnalyticsHandlers) GetAttribution(c *gin.Context) {
	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "from must be YYYY-MM-DD"})
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "to must be YYYY-MM-DD"})
		return
	}

	// The to date is inclusive on the query surface.
	slices, err := h.analytics.AttributionBreakdown(from, to.AddDate(0, 0, 1), c.Query("dimension"))
	if err != nil {
		respondIngestError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dimension": c.Query("dimension"),
		"from":      c.Query("from"),
		"to":        c.Query("to"),
		"slices":    slices,
	})
}

func parseHour(raw string) (int, error) {
	hour, err := strconv.Atoi(raw)
	if err != nil {
		return 0, identity.NewValidationError("hour", "must be an integer")
	}
	return hour, nil
}
