package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/application/services"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/messaging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/database"
	persistence "github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/presentation/http/handlers"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversionRouter(t *testing.T) (*gin.Engine, *database.DB, *persistence.SQLMatchRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewMemoryConnection()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.NewTableCreator().CreateSchema(db.DB))

	logger := logging.NewTestLogger()
	sessions := persistence.NewSQLSessionRepository(db, logger)
	matches := persistence.NewSQLMatchRepository(db, logger)
	matcher := services.NewMatchingService(sessions, matches, logger)

	h := handlers.NewMatchHandlers(matcher, messaging.NewMatchBroadcaster(logger), logger)
	r := gin.New()
	r.POST("/api/v1/matches/:id/conversion", h.PostConversion)
	return r, db, matches
}

func seedMatch(t *testing.T, db *database.DB) string {
	t.Helper()

	now := database.FormatTime(time.Now().UTC())
	_, err := db.Exec(`INSERT INTO visitor_sessions
		(id, anonymous_id, landing_page, matched, created_at) VALUES (?, ?, ?, 1, ?)`,
		"sess-1", "anon-1", "https://dealer.example.com/specials", now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO crm_leads
		(id, source_lead_id, submitted_at, matched, created_at) VALUES (?, ?, ?, 1, ?)`,
		"lead-1", "SRC-1", now, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO identity_matches
		(id, session_id, lead_id, method, confidence, converted, created_at)
		VALUES (?, ?, ?, 'session_id', 1.0, 0, ?)`,
		"match-1", "sess-1", "lead-1", now)
	require.NoError(t, err)
	return "match-1"
}

func TestPostConversionRecordsOutcome(t *testing.T) {
	r, db, matches := newConversionRouter(t)
	matchID := seedMatch(t, db)

	w := postJSON(r, "/api/v1/matches/"+matchID+"/conversion", `{"value": 41250}`)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := matches.FindByID(matchID)
	require.NoError(t, err)
	assert.True(t, got.Converted)
}

func TestPostConversionUnknownMatchIsNotFound(t *testing.T) {
	r, _, _ := newConversionRouter(t)

	w := postJSON(r, "/api/v1/matches/no-such-match/conversion", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostConversionStorageFailureIsRetryable(t *testing.T) {
	r, db, _ := newConversionRouter(t)
	matchID := seedMatch(t, db)

	// A dead store is a transient server failure, not a missing match.
	require.NoError(t, db.Close())

	w := postJSON(r, "/api/v1/matches/"+matchID+"/conversion", `{"value": 1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
