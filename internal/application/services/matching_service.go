// Package services implements the application-level orchestration for
// ingestion, matching, analytics and archival.
package services

import (
	"fmt"
	"net/url"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

// MatchingService correlates a normalized lead with the best-matching
// visitor session, or reports that none exists. A no-match outcome is a
// normal result everywhere in this service, never an error.
type MatchingService struct {
	sessionRepo identity.SessionRepository
	matchRepo   identity.MatchRepository
	logger      *logging.ChanneledLogger
}

// NewMatchingService creates a new MatchingService.
func NewMatchingService(
	sessionRepo identity.SessionRepository,
	matchRepo identity.MatchRepository,
	logger *logging.ChanneledLogger,
) *MatchingService {
	return &MatchingService{
		sessionRepo: sessionRepo,
		matchRepo:   matchRepo,
		logger:      logger,
	}
}

// Match runs the two-tier strategy for a persisted lead. Tier 1 resolves an
// exact cross-system session hint with full confidence; tier 2 falls back to
// contact-based correlation inside the recency window. The returned
// IdentityMatch is non-nil only when a new match was recorded.
func (s *MatchingService) Match(lead *identity.CrmLead) (*identity.MatchResult, *identity.IdentityMatch, error) {
	if lead.SessionHint != nil && *lead.SessionHint != "" {
		session, err := s.sessionRepo.FindUnmatchedByHint(*lead.SessionHint)
		if err != nil {
			return nil, nil, fmt.Errorf("failed session hint lookup: %w", err)
		}
		if session != nil {
			return s.record(session, lead, identity.MatchMethodSessionID, 1.00, nil)
		}
		s.logger.Matching().Debug("Session hint yielded no unmatched session, trying fallback",
			"leadId", lead.ID)
	}

	if !lead.HasContactChannel() {
		s.logger.Matching().Info("Lead has no contact channel, unmatched", "leadId", lead.ID)
		return &identity.MatchResult{Matched: false}, nil, nil
	}

	candidates, err := s.sessionRepo.FindUnmatchedInWindow(lead.SubmittedAt, config.MatchWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("failed candidate window query: %w", err)
	}
	if len(candidates) == 0 {
		s.logger.Matching().Info("No candidate sessions in window", "leadId", lead.ID)
		return &identity.MatchResult{Matched: false}, nil, nil
	}

	best, score := pickCandidate(candidates, lead.SubmittedAt)
	return s.record(best, lead, identity.MatchMethodEmailPhone, score, &score)
}

// RecordConversion writes the conversion outcome from the downstream
// sales-event feed onto an existing match. Conversion fields are the only
// mutable part of a match.
func (s *MatchingService) RecordConversion(matchID string, value float64, at time.Time) error {
	if err := s.matchRepo.SetConversion(matchID, value, at); err != nil {
		return err
	}
	s.logger.Matching().Info("Conversion recorded", "matchId", matchID, "value", value)
	return nil
}

// pickCandidate scores each in-window session against the newest one and
// returns the winner. Candidates arrive most-recent first, so keeping only
// strictly better scores breaks ties in favor of recency.
func pickCandidate(candidates []*identity.VisitorSession, submittedAt time.Time) (*identity.VisitorSession, float64) {
	newest := candidates[0]

	best := newest
	bestScore := scoreCandidate(newest, newest, submittedAt)
	for _, c := range candidates[1:] {
		if score := scoreCandidate(c, newest, submittedAt); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

// scoreCandidate is the fallback-tier heuristic: a conservative base plus
// bonuses for attribution continuity with the newest in-window session and
// for freshness. The result stays strictly below 1.00; full confidence is
// reserved for session-hint matches.
func scoreCandidate(c, newest *identity.VisitorSession, submittedAt time.Time) float64 {
	score := config.FallbackBaseConfidence

	if c.Attribution.UTMSource != "" && c.Attribution.UTMSource == newest.Attribution.UTMSource {
		score += 0.15
	}
	if host := landingHost(c.LandingPage); host != "" && host == landingHost(newest.LandingPage) {
		score += 0.10
	}
	if submittedAt.Sub(c.CreatedAt) < 24*time.Hour {
		score += 0.05
	}

	if score > config.FallbackMaxConfidence {
		score = config.FallbackMaxConfidence
	}
	return score
}

func landingHost(landing string) string {
	u, err := url.Parse(landing)
	if err != nil {
		return ""
	}
	return u.Host
}

func (s *MatchingService) record(
	session *identity.VisitorSession,
	lead *identity.CrmLead,
	method identity.MatchMethod,
	confidence float64,
	rawScore *float64,
) (*identity.MatchResult, *identity.IdentityMatch, error) {
	match := &identity.IdentityMatch{
		ID:          security.GenerateULID(),
		SessionID:   session.ID,
		LeadID:      lead.ID,
		Method:      method,
		Confidence:  confidence,
		RawScore:    rawScore,
		Attribution: session.Attribution,
		LandingPage: session.LandingPage,
		Referrer:    session.Referrer,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.matchRepo.RecordMatch(match)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record match: %w", err)
	}
	if !created {
		// Lost a race to a concurrent ingestion for this session or pair.
		s.logger.Matching().Info("Match already recorded, treating as unmatched outcome",
			"sessionId", session.ID, "leadId", lead.ID)
		return &identity.MatchResult{Matched: false}, nil, nil
	}

	s.logger.Matching().Info("Lead matched",
		"leadId", lead.ID,
		"sessionId", session.ID,
		"method", string(method),
		"confidence", confidence)

	return &identity.MatchResult{
		Matched:    true,
		Via:        method,
		Confidence: confidence,
		SessionID:  &session.ID,
		MatchID:    &match.ID,
	}, match, nil
}
