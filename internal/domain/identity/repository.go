package identity

import "time"

// SessionRepository defines persistence operations for VisitorSession rows.
// Sessions are append-only from ingestion's point of view; matched state is
// flipped only through MatchRepository.RecordMatch.
type SessionRepository interface {
	Create(session *VisitorSession) error
	FindByID(id string) (*VisitorSession, error)

	// FindUnmatchedByHint returns the unmatched session carrying the exact
	// cross-system hint, or nil when none exists. When several sessions
	// share a hint the most recent one is returned.
	FindUnmatchedByHint(hint string) (*VisitorSession, error)

	// FindUnmatchedInWindow returns unmatched sessions created inside
	// [before-window, before], most recent first.
	FindUnmatchedInWindow(before time.Time, window time.Duration) ([]*VisitorSession, error)

	CountInRange(from, to time.Time) (int, error)
	ListInRange(from, to time.Time) ([]*VisitorSession, error)

	// DeleteUnmatchedBefore removes unmatched sessions older than cutoff
	// and returns the number deleted. Matched sessions are never touched.
	DeleteUnmatchedBefore(cutoff time.Time) (int64, error)
}

// LeadRepository defines persistence operations for CrmLead rows.
type LeadRepository interface {
	Create(lead *CrmLead) error
	FindByID(id string) (*CrmLead, error)
	FindBySourceID(sourceLeadID string) (*CrmLead, error)
	CountInRange(from, to time.Time) (int, error)
}

// MatchRepository defines persistence operations for IdentityMatch rows.
type MatchRepository interface {
	// RecordMatch atomically inserts the match row and flips the matched
	// state on both the session and the lead. Either all three writes
	// commit or none do. A duplicate (session, lead) pair is a no-op:
	// created is false and err is nil.
	RecordMatch(match *IdentityMatch) (created bool, err error)

	FindByID(id string) (*IdentityMatch, error)
	FindBySessionID(sessionID string) (*IdentityMatch, error)
	ListInRange(from, to time.Time) ([]*IdentityMatch, error)

	// SetConversion records the conversion outcome on an existing match.
	// Conversion fields are the only mutable part of a match.
	SetConversion(matchID string, value float64, at time.Time) error
}

// BucketRepository defines persistence operations for AnalyticsBucket rows.
type BucketRepository interface {
	// Upsert writes the bucket keyed by (date, hour), replacing any
	// previous row for that key.
	Upsert(bucket *AnalyticsBucket) error
	Find(date string, hour int) (*AnalyticsBucket, error)
}
