// Package identity provides the concrete SQL-based implementations of
// the identity domain repositories (VisitorSession, CrmLead, IdentityMatch,
// AnalyticsBucket).
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

const sessionColumns = `id, anonymous_id, session_hint,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content, gclid, fbclid,
	referrer, landing_page, user_agent, region,
	fp_screen, fp_timezone, fp_language, fp_fragment,
	matched, matched_lead_id, matched_at, created_at`

// SQLSessionRepository is the SQL-based implementation of the SessionRepository.
type SQLSessionRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLSessionRepository creates a new instance of the repository.
func NewSQLSessionRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLSessionRepository {
	return &SQLSessionRepository{db: db, logger: logger}
}

// Create persists a new VisitorSession row.
func (r *SQLSessionRepository) Create(s *identity.VisitorSession) error {
	const query = `
		INSERT INTO visitor_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing session insert", "id", s.ID, "anonymousId", s.AnonymousID)

	var matchedAt sql.NullString
	if s.MatchedAt != nil {
		matchedAt = sql.NullString{String: database.FormatTime(*s.MatchedAt), Valid: true}
	}

	_, err := r.db.Exec(
		query,
		s.ID,
		s.AnonymousID,
		database.NullString(s.SessionHint),
		s.Attribution.UTMSource,
		s.Attribution.UTMMedium,
		s.Attribution.UTMCampaign,
		s.Attribution.UTMTerm,
		s.Attribution.UTMContent,
		s.Attribution.GclID,
		s.Attribution.FbclID,
		s.Referrer,
		s.LandingPage,
		s.UserAgent,
		s.Region,
		s.Fingerprint.Screen,
		s.Fingerprint.Timezone,
		s.Fingerprint.Language,
		s.Fingerprint.Fragment,
		boolToInt(s.Matched),
		database.NullString(s.MatchedLeadID),
		matchedAt,
		database.FormatTime(s.CreatedAt),
	)
	if err != nil {
		r.logger.Database().Error("Session insert failed", "error", err.Error(), "id", s.ID)
		return fmt.Errorf("failed to insert visitor session: %w", err)
	}

	r.trackQuery(query, start)
	return nil
}

// FindByID retrieves a VisitorSession by its identifier.
func (r *SQLSessionRepository) FindByID(id string) (*identity.VisitorSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM visitor_sessions WHERE id = ?`

	start := time.Now()
	session, err := scanSession(r.db.QueryRow(query, id))
	if err != nil {
		r.logger.Database().Error("Failed to load session by ID", "error", err.Error(), "id", id)
		return nil, err
	}

	r.trackQuery(query, start)
	return session, nil
}

// FindUnmatchedByHint returns the most recent unmatched session carrying
// the exact cross-system hint, or nil when none exists.
func (r *SQLSessionRepository) FindUnmatchedByHint(hint string) (*identity.VisitorSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM visitor_sessions
		WHERE session_hint = ? AND matched = 0
		ORDER BY created_at DESC
		LIMIT 1`

	start := time.Now()
	session, err := scanSession(r.db.QueryRow(query, hint))
	if err != nil {
		r.logger.Database().Error("Failed to look up session by hint", "error", err.Error())
		return nil, err
	}

	r.trackQuery(query, start)
	return session, nil
}

// FindUnmatchedInWindow returns unmatched sessions created inside
// [before-window, before], most recent first.
func (r *SQLSessionRepository) FindUnmatchedInWindow(before time.Time, window time.Duration) ([]*identity.VisitorSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM visitor_sessions
		WHERE matched = 0 AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC`

	start := time.Now()
	rows, err := r.db.Query(query, database.FormatTime(before.Add(-window)), database.FormatTime(before))
	if err != nil {
		r.logger.Database().Error("Failed to query match window", "error", err.Error())
		return nil, fmt.Errorf("failed to query match window: %w", err)
	}
	defer rows.Close()

	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, err
	}

	r.trackQuery(query, start)
	return sessions, nil
}

// CountInRange counts sessions created in [from, to).
func (r *SQLSessionRepository) CountInRange(from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM visitor_sessions WHERE created_at >= ? AND created_at < ?`

	var count int
	err := r.db.QueryRow(query, database.FormatTime(from), database.FormatTime(to)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// ListInRange returns sessions created in [from, to), oldest first.
func (r *SQLSessionRepository) ListInRange(from, to time.Time) ([]*identity.VisitorSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM visitor_sessions
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`

	rows, err := r.db.Query(query, database.FormatTime(from), database.FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// DeleteUnmatchedBefore removes unmatched sessions older than cutoff.
func (r *SQLSessionRepository) DeleteUnmatchedBefore(cutoff time.Time) (int64, error) {
	const query = `DELETE FROM visitor_sessions WHERE matched = 0 AND created_at < ?`

	start := time.Now()
	result, err := r.db.Exec(query, database.FormatTime(cutoff))
	if err != nil {
		r.logger.Database().Error("Session retention delete failed", "error", err.Error())
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	deleted, _ := result.RowsAffected()
	r.trackQuery(query, start)
	return deleted, nil
}

func (r *SQLSessionRepository) trackQuery(query string, start time.Time) {
	if duration := time.Since(start); duration > config.SlowQueryThreshold {
		r.logger.LogSlowQuery(query, duration)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (*identity.VisitorSession, error) {
	var s identity.VisitorSession
	var sessionHint, matchedLeadID, matchedAt sql.NullString
	var matched int
	var createdAtStr string

	err := row.Scan(
		&s.ID,
		&s.AnonymousID,
		&sessionHint,
		&s.Attribution.UTMSource,
		&s.Attribution.UTMMedium,
		&s.Attribution.UTMCampaign,
		&s.Attribution.UTMTerm,
		&s.Attribution.UTMContent,
		&s.Attribution.GclID,
		&s.Attribution.FbclID,
		&s.Referrer,
		&s.LandingPage,
		&s.UserAgent,
		&s.Region,
		&s.Fingerprint.Screen,
		&s.Fingerprint.Timezone,
		&s.Fingerprint.Language,
		&s.Fingerprint.Fragment,
		&matched,
		&matchedLeadID,
		&matchedAt,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	s.SessionHint = database.StringPtr(sessionHint)
	s.Matched = matched != 0
	s.MatchedLeadID = database.StringPtr(matchedLeadID)

	if matchedAt.Valid {
		t, err := database.ParseTime(matchedAt.String)
		if err != nil {
			return nil, err
		}
		s.MatchedAt = &t
	}

	s.CreatedAt, err = database.ParseTime(createdAtStr)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func scanSession(row *sql.Row) (*identity.VisitorSession, error) {
	session, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan visitor session: %w", err)
	}
	return session, nil
}

func collectSessions(rows *sql.Rows) ([]*identity.VisitorSession, error) {
	var sessions []*identity.VisitorSession
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visitor session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
