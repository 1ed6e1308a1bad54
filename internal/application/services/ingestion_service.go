package services

import (
	"fmt"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/cdp"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/email"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/email/templates"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/messaging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/security"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

// SessionPayload is the inbound visitor-identity record from the capture
// agent. CapturedAt is optional RFC3339; an absent value means "now".
type SessionPayload struct {
	AnonymousID string               `json:"anonymousId"`
	SessionHint string               `json:"sessionHint,omitempty"`
	Attribution identity.Attribution `json:"attribution"`
	Referrer    string               `json:"referrer,omitempty"`
	LandingPage string               `json:"landingPage"`
	UserAgent   string               `json:"userAgent,omitempty"`
	Region      string               `json:"region,omitempty"`
	Fingerprint identity.Fingerprint `json:"fingerprint"`
	CapturedAt  string               `json:"capturedAt,omitempty"`
}

// LeadPayload is the normalized lead record handed over by the external
// lead normalizer.
type LeadPayload struct {
	SourceLeadID    string  `json:"sourceLeadId"`
	SessionHint     string  `json:"sessionHint,omitempty"`
	Email           string  `json:"email,omitempty"`
	Phone           string  `json:"phone,omitempty"`
	Name            string  `json:"name,omitempty"`
	VehicleInterest string  `json:"vehicleInterest,omitempty"`
	EstimatedValue  float64 `json:"estimatedValue,omitempty"`
	SubmittedAt     string  `json:"submittedAt"`
}

// LeadIngestOutcome reports the persisted lead id with the synchronous
// match outcome. Duplicate is true when the source lead id was already
// ingested; the existing lead's state is reported unchanged.
type LeadIngestOutcome struct {
	LeadID    string `json:"leadId"`
	Duplicate bool   `json:"duplicate,omitempty"`
	identity.MatchResult
}

// IngestionService validates and persists inbound visitor sessions and
// leads, then hands freshly persisted leads to the matching engine. The
// downstream sinks are optional; nil sinks are skipped.
type IngestionService struct {
	sessionRepo identity.SessionRepository
	leadRepo    identity.LeadRepository
	matchRepo   identity.MatchRepository
	matcher     *MatchingService
	cdpClient   *cdp.Client
	alertClient *email.Client
	broadcaster *messaging.MatchBroadcaster
	logger      *logging.ChanneledLogger
}

// NewIngestionService creates a new IngestionService.
func NewIngestionService(
	sessionRepo identity.SessionRepository,
	leadRepo identity.LeadRepository,
	matchRepo identity.MatchRepository,
	matcher *MatchingService,
	cdpClient *cdp.Client,
	alertClient *email.Client,
	broadcaster *messaging.MatchBroadcaster,
	logger *logging.ChanneledLogger,
) *IngestionService {
	return &IngestionService{
		sessionRepo: sessionRepo,
		leadRepo:    leadRepo,
		matchRepo:   matchRepo,
		matcher:     matcher,
		cdpClient:   cdpClient,
		alertClient: alertClient,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// IngestSession validates and persists one visitor-identity record. Each
// call creates a new row; redundancy across captures is resolved later by
// matching, not deduplicated here.
func (s *IngestionService) IngestSession(payload *SessionPayload) (string, error) {
	if payload.AnonymousID == "" {
		return "", identity.NewValidationError("anonymousId", "required")
	}
	if host := landingHost(payload.LandingPage); payload.LandingPage == "" || host == "" {
		return "", identity.NewValidationError("landingPage", "must be an absolute URL")
	}

	capturedAt := time.Now().UTC()
	if payload.CapturedAt != "" {
		t, err := time.Parse(time.RFC3339, payload.CapturedAt)
		if err != nil {
			return "", identity.NewValidationError("capturedAt", "must be RFC3339")
		}
		capturedAt = t.UTC()
	}

	session := &identity.VisitorSession{
		ID:          security.GenerateULID(),
		AnonymousID: payload.AnonymousID,
		Attribution: payload.Attribution,
		Referrer:    payload.Referrer,
		LandingPage: payload.LandingPage,
		UserAgent:   payload.UserAgent,
		Region:      payload.Region,
		Fingerprint: payload.Fingerprint,
		CreatedAt:   capturedAt,
	}
	if payload.SessionHint != "" {
		hint := payload.SessionHint
		session.SessionHint = &hint
	}

	if err := s.sessionRepo.Create(session); err != nil {
		return "", fmt.Errorf("failed to persist visitor session: %w", err)
	}

	s.logger.Ingest().Info("Visitor session ingested",
		"sessionId", session.ID,
		"anonymousId", session.AnonymousID,
		"hasHint", session.SessionHint != nil)
	return session.ID, nil
}

// IngestLead validates, dedupes and persists one normalized lead, then
// invokes matching. The lead is always kept even when matching fails;
// downstream notifications fire only for a fresh successful match.
func (s *IngestionService) IngestLead(payload *LeadPayload) (*LeadIngestOutcome, error) {
	if payload.SourceLeadID == "" {
		return nil, identity.NewValidationError("sourceLeadId", "required")
	}
	if payload.Email == "" && payload.Phone == "" && payload.SessionHint == "" {
		return nil, identity.NewValidationError("contact",
			"at least one of email, phone or sessionHint is required")
	}

	submittedAt := time.Now().UTC()
	if payload.SubmittedAt != "" {
		t, err := time.Parse(time.RFC3339, payload.SubmittedAt)
		if err != nil {
			return nil, identity.NewValidationError("submittedAt", "must be RFC3339")
		}
		submittedAt = t.UTC()
	}

	existing, err := s.leadRepo.FindBySourceID(payload.SourceLeadID)
	if err != nil {
		return nil, fmt.Errorf("failed lead dedupe lookup: %w", err)
	}
	if existing != nil {
		s.logger.Ingest().Info("Duplicate lead ignored",
			"leadId", existing.ID, "sourceLeadId", existing.SourceLeadID)
		return s.outcomeForExisting(existing)
	}

	lead := &identity.CrmLead{
		ID:              security.GenerateULID(),
		SourceLeadID:    payload.SourceLeadID,
		Email:           payload.Email,
		Phone:           payload.Phone,
		Name:            payload.Name,
		VehicleInterest: payload.VehicleInterest,
		EstimatedValue:  payload.EstimatedValue,
		SubmittedAt:     submittedAt,
		CreatedAt:       time.Now().UTC(),
	}
	if payload.SessionHint != "" {
		hint := payload.SessionHint
		lead.SessionHint = &hint
	}

	if err := s.leadRepo.Create(lead); err != nil {
		return nil, fmt.Errorf("failed to persist crm lead: %w", err)
	}
	s.logger.Ingest().Info("Lead ingested", "leadId", lead.ID, "sourceLeadId", lead.SourceLeadID)

	// The lead is durably persisted; a matching failure must not unwind it.
	result, match, err := s.matcher.Match(lead)
	if err != nil {
		s.logger.Matching().Error("Matching failed, lead kept unmatched",
			"error", err.Error(), "leadId", lead.ID)
		return &LeadIngestOutcome{LeadID: lead.ID, MatchResult: identity.MatchResult{Matched: false}}, nil
	}

	if match != nil {
		s.notifyMatch(lead, match)
	}

	return &LeadIngestOutcome{LeadID: lead.ID, MatchResult: *result}, nil
}

// outcomeForExisting reports a previously ingested lead's match state.
func (s *IngestionService) outcomeForExisting(lead *identity.CrmLead) (*LeadIngestOutcome, error) {
	outcome := &LeadIngestOutcome{
		LeadID:    lead.ID,
		Duplicate: true,
		MatchResult: identity.MatchResult{
			Matched: lead.Matched,
		},
	}
	if !lead.Matched {
		return outcome, nil
	}

	outcome.SessionID = lead.MatchedSessionID
	if lead.MatchMethod != nil {
		outcome.Via = *lead.MatchMethod
	}
	if lead.MatchedSessionID != nil {
		match, err := s.matchRepo.FindBySessionID(*lead.MatchedSessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing match: %w", err)
		}
		if match != nil {
			outcome.Confidence = match.Confidence
			outcome.MatchID = &match.ID
		}
	}
	return outcome, nil
}

// notifyMatch fans the fresh match out to the configured sinks. All
// hand-offs are fire-and-forget.
func (s *IngestionService) notifyMatch(lead *identity.CrmLead, match *identity.IdentityMatch) {
	if s.cdpClient != nil {
		s.cdpClient.NotifyMatch(lead, match)
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastMatch(lead, match)
	}

	if s.alertClient != nil && lead.EstimatedValue >= config.AlertValueFloor {
		go func() {
			err := s.alertClient.SendMatchAlert(templates.MatchAlertProps{
				LeadName:        lead.Name,
				Email:           lead.Email,
				Phone:           lead.Phone,
				VehicleInterest: lead.VehicleInterest,
				EstimatedValue:  lead.EstimatedValue,
				UTMSource:       match.Attribution.UTMSource,
				UTMCampaign:     match.Attribution.UTMCampaign,
				LandingPage:     match.LandingPage,
				Confidence:      match.Confidence,
				Method:          string(match.Method),
			})
			if err != nil {
				s.logger.System().Error("Sales alert dropped", "error", err.Error(), "leadId", lead.ID)
			}
		}()
	}
}
