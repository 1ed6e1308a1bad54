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

const leadColumns = `id, source_lead_id, session_hint, email, phone, name,
	vehicle_interest, estimated_value, submitted_at,
	matched, matched_session_id, match_method, matched_at, created_at`

// SQLLeadRepository is the SQL-based implementation of the LeadRepository.
type SQLLeadRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLLeadRepository creates a new instance of the repository.
func NewSQLLeadRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLLeadRepository {
	return &SQLLeadRepository{db: db, logger: logger}
}

// Create persists a new CrmLead row.
func (r *SQLLeadRepository) Create(l *identity.CrmLead) error {
	const query = `
		INSERT INTO crm_leads (` + leadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()
	r.logger.Database().Debug("Executing lead insert", "id", l.ID, "sourceLeadId", l.SourceLeadID)

	var method sql.NullString
	if l.MatchMethod != nil {
		method = sql.NullString{String: string(*l.MatchMethod), Valid: true}
	}
	var matchedAt sql.NullString
	if l.MatchedAt != nil {
		matchedAt = sql.NullString{String: database.FormatTime(*l.MatchedAt), Valid: true}
	}

	_, err := r.db.Exec(
		query,
		l.ID,
		l.SourceLeadID,
		database.NullString(l.SessionHint),
		l.Email,
		l.Phone,
		l.Name,
		l.VehicleInterest,
		l.EstimatedValue,
		database.FormatTime(l.SubmittedAt),
		boolToInt(l.Matched),
		database.NullString(l.MatchedSessionID),
		method,
		matchedAt,
		database.FormatTime(l.CreatedAt),
	)
	if err != nil {
		r.logger.Database().Error("Lead insert failed", "error", err.Error(), "id", l.ID)
		return fmt.Errorf("failed to insert crm lead: %w", err)
	}

	r.trackQuery(query, start)
	return nil
}

// FindByID retrieves a CrmLead by our opaque identifier.
func (r *SQLLeadRepository) FindByID(id string) (*identity.CrmLead, error) {
	const query = `SELECT ` + leadColumns + ` FROM crm_leads WHERE id = ?`
	return r.findOne(query, id)
}

// FindBySourceID retrieves a CrmLead by the originating system's identifier.
func (r *SQLLeadRepository) FindBySourceID(sourceLeadID string) (*identity.CrmLead, error) {
	const query = `SELECT ` + leadColumns + ` FROM crm_leads WHERE source_lead_id = ?`
	return r.findOne(query, sourceLeadID)
}

// CountInRange counts leads submitted in [from, to).
func (r *SQLLeadRepository) CountInRange(from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM crm_leads WHERE submitted_at >= ? AND submitted_at < ?`

	var count int
	err := r.db.QueryRow(query, database.FormatTime(from), database.FormatTime(to)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	return count, nil
}

func (r *SQLLeadRepository) findOne(query, arg string) (*identity.CrmLead, error) {
	start := time.Now()

	var l identity.CrmLead
	var sessionHint, matchedSessionID, method, matchedAt sql.NullString
	var matched int
	var submittedAtStr, createdAtStr string

	err := r.db.QueryRow(query, arg).Scan(
		&l.ID,
		&l.SourceLeadID,
		&sessionHint,
		&l.Email,
		&l.Phone,
		&l.Name,
		&l.VehicleInterest,
		&l.EstimatedValue,
		&submittedAtStr,
		&matched,
		&matchedSessionID,
		&method,
		&matchedAt,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Database().Error("Failed to load lead", "error", err.Error())
		return nil, fmt.Errorf("failed to scan crm lead: %w", err)
	}

	l.SessionHint = database.StringPtr(sessionHint)
	l.Matched = matched != 0
	l.MatchedSessionID = database.StringPtr(matchedSessionID)

	if method.Valid {
		m := identity.MatchMethod(method.String)
		l.MatchMethod = &m
	}
	if matchedAt.Valid {
		t, err := database.ParseTime(matchedAt.String)
		if err != nil {
			return nil, err
		}
		l.MatchedAt = &t
	}
	if l.SubmittedAt, err = database.ParseTime(submittedAtStr); err != nil {
		return nil, err
	}
	if l.CreatedAt, err = database.ParseTime(createdAtStr); err != nil {
		return nil, err
	}

	r.trackQuery(query, start)
	return &l, nil
}

func (r *SQLLeadRepository) trackQuery(query string, start time.Time) {
	if duration := time.Since(start); duration > config.SlowQueryThreshold {
		r.logger.LogSlowQuery(query, duration)
	}
}
