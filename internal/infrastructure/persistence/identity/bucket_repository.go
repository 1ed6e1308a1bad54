package identity

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/persistence/database"
)

// SQLBucketRepository is the SQL-based implementation of the BucketRepository.
type SQLBucketRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLBucketRepository creates a new instance of the repository.
func NewSQLBucketRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLBucketRepository {
	return &SQLBucketRepository{db: db, logger: logger}
}

// Upsert writes the bucket keyed by (date, hour), replacing any previous
// row. The method breakdown serializes with sorted keys, so recomputing an
// unchanged period rewrites an identical row.
func (r *SQLBucketRepository) Upsert(b *identity.AnalyticsBucket) error {
	const query = `
		INSERT INTO analytics_buckets (bucket_date, bucket_hour, total_sessions,
			total_leads, total_matches, match_rate, method_breakdown,
			attributed_revenue, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket_date, bucket_hour) DO UPDATE SET
			total_sessions = excluded.total_sessions,
			total_leads = excluded.total_leads,
			total_matches = excluded.total_matches,
			match_rate = excluded.match_rate,
			method_breakdown = excluded.method_breakdown,
			attributed_revenue = excluded.attributed_revenue,
			computed_at = excluded.computed_at`

	breakdown, err := json.Marshal(b.MethodBreakdown)
	if err != nil {
		return fmt.Errorf("failed to encode method breakdown: %w", err)
	}

	_, err = r.db.Exec(
		query,
		b.Date,
		b.Hour,
		b.TotalSessions,
		b.TotalLeads,
		b.TotalMatches,
		b.MatchRate,
		string(breakdown),
		b.AttributedRevenue,
		database.FormatTime(b.ComputedAt),
	)
	if err != nil {
		r.logger.Database().Error("Bucket upsert failed", "error", err.Error(),
			"date", b.Date, "hour", b.Hour)
		return fmt.Errorf("failed to upsert analytics bucket: %w", err)
	}
	return nil
}

// Find retrieves the bucket for (date, hour), or nil when the period has
// never been computed.
func (r *SQLBucketRepository) Find(date string, hour int) (*identity.AnalyticsBucket, error) {
	const query = `
		SELECT bucket_date, bucket_hour, total_sessions, total_leads,
			total_matches, match_rate, method_breakdown, attributed_revenue, computed_at
		FROM analytics_buckets
		WHERE bucket_date = ? AND bucket_hour = ?`

	var b identity.AnalyticsBucket
	var breakdown, computedAtStr string

	err := r.db.QueryRow(query, date, hour).Scan(
		&b.Date,
		&b.Hour,
		&b.TotalSessions,
		&b.TotalLeads,
		&b.TotalMatches,
		&b.MatchRate,
		&breakdown,
		&b.AttributedRevenue,
		&computedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan analytics bucket: %w", err)
	}

	if err := json.Unmarshal([]byte(breakdown), &b.MethodBreakdown); err != nil {
		return nil, fmt.Errorf("failed to decode method breakdown: %w", err)
	}
	if b.ComputedAt, err = database.ParseTime(computedAtStr); err != nil {
		return nil, err
	}

	return &b, nil
}
