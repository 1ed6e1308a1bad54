package identity

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/database"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

const matchColumns = `id, session_id, lead_id, method, confidence, raw_score,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content, gclid, fbclid,
	landing_page, referrer, converted, conversion_value, converted_at, created_at`

// SQLMatchRepository is the SQL-based implementation of the MatchRepository.
type SQLMatchRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLMatchRepository creates a new instance of the repository.
func NewSQLMatchRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLMatchRepository {
	return &SQLMatchRepository{db: db, logger: logger}
}

// RecordMatch inserts the match row and flips the matched state on both the
// session and the lead inside one transaction. A duplicate (session, lead)
// pair hits the unique index, inserts zero rows and commits nothing else:
// the attempt reports created=false with no error. The flips carry a
// matched = 0 guard; if either side was matched by a concurrent attempt
// since the candidate was read, the whole transaction rolls back and also
// reports created=false, so a session never gains a second match row.
func (r *SQLMatchRepository) RecordMatch(m *identity.IdentityMatch) (bool, error) {
	const insertMatch = `
		INSERT OR IGNORE INTO identity_matches (` + matchColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	const flipSession = `
		UPDATE visitor_sessions
		SET matched = 1, matched_lead_id = ?, matched_at = ?
		WHERE id = ? AND matched = 0`
	const flipLead = `
		UPDATE crm_leads
		SET matched = 1, matched_session_id = ?, match_method = ?, matched_at = ?
		WHERE id = ? AND matched = 0`

	start := time.Now()

	tx, err := r.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin match transaction: %w", err)
	}
	defer tx.Rollback()

	var rawScore sql.NullFloat64
	if m.RawScore != nil {
		rawScore = sql.NullFloat64{Float64: *m.RawScore, Valid: true}
	}
	matchedAt := database.FormatTime(m.CreatedAt)

	result, err := tx.Exec(
		insertMatch,
		m.ID,
		m.SessionID,
		m.LeadID,
		string(m.Method),
		m.Confidence,
		rawScore,
		m.Attribution.UTMSource,
		m.Attribution.UTMMedium,
		m.Attribution.UTMCampaign,
		m.Attribution.UTMTerm,
		m.Attribution.UTMContent,
		m.Attribution.GclID,
		m.Attribution.FbclID,
		m.LandingPage,
		m.Referrer,
		0,
		nil,
		nil,
		matchedAt,
	)
	if err != nil {
		r.logger.Database().Error("Match insert failed", "error", err.Error(),
			"sessionId", m.SessionID, "leadId", m.LeadID)
		return false, fmt.Errorf("failed to insert identity match: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read match insert result: %w", err)
	}
	if inserted == 0 {
		r.logger.Database().Debug("Duplicate match attempt ignored",
			"sessionId", m.SessionID, "leadId", m.LeadID)
		return false, nil
	}

	sessionResult, err := tx.Exec(flipSession, m.LeadID, matchedAt, m.SessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark session matched: %w", err)
	}
	if flipped, err := sessionResult.RowsAffected(); err != nil {
		return false, fmt.Errorf("failed to read session flip result: %w", err)
	} else if flipped == 0 {
		r.logger.Database().Debug("Session already matched, attempt rolled back",
			"sessionId", m.SessionID, "leadId", m.LeadID)
		return false, nil
	}

	leadResult, err := tx.Exec(flipLead, m.SessionID, string(m.Method), matchedAt, m.LeadID)
	if err != nil {
		return false, fmt.Errorf("failed to mark lead matched: %w", err)
	}
	if flipped, err := leadResult.RowsAffected(); err != nil {
		return false, fmt.Errorf("failed to read lead flip result: %w", err)
	} else if flipped == 0 {
		r.logger.Database().Debug("Lead already matched, attempt rolled back",
			"sessionId", m.SessionID, "leadId", m.LeadID)
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit match transaction: %w", err)
	}

	r.trackQuery(insertMatch, start)
	return true, nil
}

// FindByID retrieves an IdentityMatch by its identifier.
func (r *SQLMatchRepository) FindByID(id string) (*identity.IdentityMatch, error) {
	const query = `SELECT ` + matchColumns + ` FROM identity_matches WHERE id = ?`

	match, err := scanMatchRow(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity match: %w", err)
	}
	return match, nil
}

// FindBySessionID retrieves the match for a session, or nil when the
// session is still unmatched.
func (r *SQLMatchRepository) FindBySessionID(sessionID string) (*identity.IdentityMatch, error) {
	const query = `SELECT ` + matchColumns + ` FROM identity_matches WHERE session_id = ?`

	match, err := scanMatchRow(r.db.QueryRow(query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan identity match: %w", err)
	}
	return match, nil
}

// ListInRange returns matches created in [from, to), oldest first.
func (r *SQLMatchRepository) ListInRange(from, to time.Time) ([]*identity.IdentityMatch, error) {
	const query = `SELECT ` + matchColumns + ` FROM identity_matches
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`

	start := time.Now()
	rows, err := r.db.Query(query, database.FormatTime(from), database.FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list identity matches: %w", err)
	}
	defer rows.Close()

	var matches []*identity.IdentityMatch
	for rows.Next() {
		match, err := scanMatchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.trackQuery(query, start)
	return matches, nil
}

// SetConversion records the conversion outcome on an existing match.
func (r *SQLMatchRepository) SetConversion(matchID string, value float64, at time.Time) error {
	const query = `
		UPDATE identity_matches
		SET converted = 1, conversion_value = ?, converted_at = ?
		WHERE id = ?`

	result, err := r.db.Exec(query, value, database.FormatTime(at), matchID)
	if err != nil {
		r.logger.Database().Error("Conversion update failed", "error", err.Error(), "matchId", matchID)
		return fmt.Errorf("failed to record conversion: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s", identity.ErrMatchNotFound, matchID)
	}
	return nil
}

func scanMatchRow(row rowScanner) (*identity.IdentityMatch, error) {
	var m identity.IdentityMatch
	var rawScore, conversionValue sql.NullFloat64
	var convertedAt sql.NullString
	var converted int
	var createdAtStr string

	err := row.Scan(
		&m.ID,
		&m.SessionID,
		&m.LeadID,
		&m.Method,
		&m.Confidence,
		&rawScore,
		&m.Attribution.UTMSource,
		&m.Attribution.UTMMedium,
		&m.Attribution.UTMCampaign,
		&m.Attribution.UTMTerm,
		&m.Attribution.UTMContent,
		&m.Attribution.GclID,
		&m.Attribution.FbclID,
		&m.LandingPage,
		&m.Referrer,
		&converted,
		&conversionValue,
		&convertedAt,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	if rawScore.Valid {
		m.RawScore = &rawScore.Float64
	}
	m.Converted = converted != 0
	if conversionValue.Valid {
		m.ConversionValue = &conversionValue.Float64
	}
	if convertedAt.Valid {
		t, err := database.ParseTime(convertedAt.String)
		if err != nil {
			return nil, err
		}
		m.ConvertedAt = &t
	}
	if m.CreatedAt, err = database.ParseTime(createdAtStr); err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *SQLMatchRepository) trackQuery(query string, start time.Time) {
	if duration := time.Since(start); duration > config.SlowQueryThreshold {
		r.logger.LogSlowQuery(query, duration)
	}
}
