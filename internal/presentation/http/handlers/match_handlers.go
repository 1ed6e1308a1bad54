package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/application/services"
	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/messaging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are vetted by the CORS layer; the upgrade itself accepts.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MatchHandlers handles the live match stream and the conversion feed.
type MatchHandlers struct {
	matcher     *services.MatchingService
	broadcaster *messaging.MatchBroadcaster
	logger      *logging.ChanneledLogger
}

// NewMatchHandlers creates match handlers with injected dependencies.
func NewMatchHandlers(
	matcher *services.MatchingService,
	broadcaster *messaging.MatchBroadcaster,
	logger *logging.ChanneledLogger,
) *MatchHandlers {
	return &MatchHandlers{matcher: matcher, broadcaster: broadcaster, logger: logger}
}

// StreamMatches handles GET /api/v1/matches/stream (websocket upgrade).
// Each client drains its broadcaster channel until it disconnects.
func (h *MatchHandlers) StreamMatches(c *gin.Context) {
	ch := h.broadcaster.AddClient()
	if ch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream capacity reached"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.broadcaster.RemoveClient(ch)
		h.logger.Stream().Error("Websocket upgrade failed", "error", err.Error())
		return
	}

	done := make(chan struct{})

	// Reader loop: detect disconnects, discard client messages.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			h.broadcaster.RemoveClient(ch)
			conn.Close()
		}()
		for {
			select {
			case <-done:
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			}
		}
	}()
}

// PostConversion handles POST /api/v1/matches/:id/conversion
func (h *MatchHandlers) PostConversion(c *gin.Context) {
	var request struct {
		Value       float64 `json:"value"`
		ConvertedAt string  `json:"convertedAt,omitempty"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	convertedAt := time.Now().UTC()
	if request.ConvertedAt != "" {
		t, err := time.Parse(time.RFC3339, request.ConvertedAt)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "convertedAt must be RFC3339"})
			return
		}
		convertedAt = t.UTC()
	}

	if err := h.matcher.RecordConversion(c.Param("id"), request.Value, convertedAt); err != nil {
		if errors.Is(err, identity.ErrMatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence failure, retry later"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matchId": c.Param("id"), "converted": true})
}
