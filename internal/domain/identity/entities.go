// Package identity defines the core entities of the visitor-to-lead
// identity-resolution domain and the repository interfaces that persist
// them. The persistence details live under internal/infrastructure; the
// services operate on these interfaces only.
package identity

import "time"

// MatchMethod enumerates the strategy that produced an IdentityMatch.
type MatchMethod string

const (
	MatchMethodSessionID  MatchMethod = "session_id"
	MatchMethodEmailPhone MatchMethod = "email_phone"
	MatchMethodManual     MatchMethod = "manual"
)

// Attribution holds the campaign parameters captured at landing time.
type Attribution struct {
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	UTMTerm     string `json:"utmTerm,omitempty"`
	UTMContent  string `json:"utmContent,omitempty"`
	GclID       string `json:"gclid,omitempty"`
	FbclID      string `json:"fbclid,omitempty"`
}

// Fingerprint is the minimal, low-entropy browser fingerprint carried on a
// session. Fragment is a short non-reversible hash fragment; no raw canvas
// data is ever stored.
type Fingerprint struct {
	Screen   string `json:"screen,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Language string `json:"language,omitempty"`
	Fragment string `json:"fragment,omitempty"`
}

// VisitorSession represents one capture attempt from a browser context.
// Matched, MatchedLeadID and MatchedAt are written only by the matching
// engine; once Matched is true it never reverts.
type VisitorSession struct {
	ID            string      `json:"id"`
	AnonymousID   string      `json:"anonymousId"`
	SessionHint   *string     `json:"sessionHint,omitempty"`
	Attribution   Attribution `json:"attribution"`
	Referrer      string      `json:"referrer,omitempty"`
	LandingPage   string      `json:"landingPage"`
	UserAgent     string      `json:"userAgent,omitempty"`
	Region        string      `json:"region,omitempty"`
	Fingerprint   Fingerprint `json:"fingerprint"`
	Matched       bool        `json:"matched"`
	MatchedLeadID *string     `json:"matchedLeadId,omitempty"`
	MatchedAt     *time.Time  `json:"matchedAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// CrmLead represents one normalized lead submission from the CRM feed.
// SourceLeadID is the originating system's identifier, used for dedupe;
// ID is our own opaque identifier.
type CrmLead struct {
	ID               string       `json:"id"`
	SourceLeadID     string       `json:"sourceLeadId"`
	SessionHint      *string      `json:"sessionHint,omitempty"`
	Email            string       `json:"email,omitempty"`
	Phone            string       `json:"phone,omitempty"`
	Name             string       `json:"name,omitempty"`
	VehicleInterest  string       `json:"vehicleInterest,omitempty"`
	EstimatedValue   float64      `json:"estimatedValue,omitempty"`
	SubmittedAt      time.Time    `json:"submittedAt"`
	Matched          bool         `json:"matched"`
	MatchedSessionID *string      `json:"matchedSessionId,omitempty"`
	MatchMethod      *MatchMethod `json:"matchMethod,omitempty"`
	MatchedAt        *time.Time   `json:"matchedAt,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// HasContactChannel reports whether the lead carries at least one contact
// channel and is therefore eligible for the fallback matching tier.
func (l *CrmLead) HasContactChannel() bool {
	return l.Email != "" || l.Phone != ""
}

// IdentityMatch is the correlation record linking exactly one session and
// one lead. The (SessionID, LeadID) pair is unique. The attribution fields
// are denormalized from the session at match time. Conversion fields are
// the only mutable part, written later by the sales-event feed.
type IdentityMatch struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionId"`
	LeadID     string      `json:"leadId"`
	Method     MatchMethod `json:"method"`
	Confidence float64     `json:"confidence"`
	RawScore   *float64    `json:"rawScore,omitempty"`

	// Attribution snapshot copied from the session at match time.
	Attribution Attribution `json:"attribution"`
	LandingPage string      `json:"landingPage,omitempty"`
	Referrer    string      `json:"referrer,omitempty"`

	Converted       bool       `json:"converted"`
	ConversionValue *float64   `json:"conversionValue,omitempty"`
	ConvertedAt     *time.Time `json:"convertedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// MatchResult is the outcome of one matching attempt. A no-match outcome
// is a normal result, not an error.
type MatchResult struct {
	Matched    bool        `json:"matched"`
	Via        MatchMethod `json:"via,omitempty"`
	Confidence float64     `json:"confidence"`
	SessionID  *string     `json:"sessionId,omitempty"`
	MatchID    *string     `json:"matchId,omitempty"`
}

// AnalyticsBucket is a time-bucketed read-model row. Hour is -1 for a
// whole-day bucket, 0-23 for an hourly one. Buckets are recomputed from
// source tables, never incrementally maintained.
type AnalyticsBucket struct {
	Date              string         `json:"date"` // YYYY-MM-DD (UTC)
	Hour              int            `json:"hour"` // -1 for daily
	TotalSessions     int            `json:"totalSessions"`
	TotalLeads        int            `json:"totalLeads"`
	TotalMatches      int            `json:"totalMatches"`
	MatchRate         float64        `json:"matchRate"`
	MethodBreakdown   map[string]int `json:"methodBreakdown"`
	AttributedRevenue float64        `json:"attributedRevenue"`
	// ComputedAt records when the recompute ran. It is bookkeeping
	// metadata: every other field reproduces exactly on a re-run over
	// unchanged source data.
	ComputedAt time.Time `json:"computedAt"`
}

// AttributionSlice is one row of an attribution-dimension breakdown:
// match rate and revenue for sessions sharing one value of the dimension.
type AttributionSlice struct {
	Value             string  `json:"value"`
	Sessions          int     `json:"sessions"`
	Matches           int     `json:"matches"`
	MatchRate         float64 `json:"matchRate"`
	AttributedRevenue float64 `json:"attributedRevenue"`
	RevenuePerSession float64 `json:"revenuePerSession"`
}
