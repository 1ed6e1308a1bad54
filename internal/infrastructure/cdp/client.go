// Package cdp delivers match notifications to the downstream
// customer-data-platform sink. Delivery is fire-and-forget: a failed
// hand-off never fails the ingestion call that triggered it.
package cdp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

// TrackEvent is the wire payload for the sink's track endpoint.
type TrackEvent struct {
	Type       string         `json:"type"`
	MessageID  string         `json:"messageId"`
	UserID     string         `json:"userId"`
	Event      string         `json:"event"`
	Timestamp  string         `json:"timestamp"`
	Properties map[string]any `json:"properties"`
	Context    map[string]any `json:"context"`
}

// Client sends track events with bounded retry.
type Client struct {
	endpoint   string
	writeKey   string
	httpClient *http.Client
	logger     *logging.ChanneledLogger
}

// NewClient builds the sink client. An empty write key disables delivery;
// callers treat a nil client as "sink disabled".
func NewClient(logger *logging.ChanneledLogger) *Client {
	if config.CDPWriteKey == "" {
		return nil
	}
	return &Client{
		endpoint:   config.CDPEndpoint,
		writeKey:   config.CDPWriteKey,
		httpClient: &http.Client{Timeout: config.CDPSendTimeout},
		logger:     logger,
	}
}

// NotifyMatch hands off the enriched lead in the background. Failures are
// logged and dropped.
func (c *Client) NotifyMatch(lead *identity.CrmLead, match *identity.IdentityMatch) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			config.CDPSendTimeout*time.Duration(config.CDPMaxRetries+1))
		defer cancel()

		if err := c.Send(ctx, BuildMatchEvent(lead, match)); err != nil {
			c.logger.CDP().Error("Match notification dropped", "error", err.Error(),
				"leadId", lead.ID, "matchId", match.ID)
		}
	}()
}

// BuildMatchEvent converts a recorded match into a track event. The
// messageId derives from the (lead, session) pair so the sink deduplicates
// redelivered events.
func BuildMatchEvent(lead *identity.CrmLead, match *identity.IdentityMatch) *TrackEvent {
	return &TrackEvent{
		Type:      "track",
		MessageID: matchMessageID(match),
		UserID:    lead.ID,
		Event:     "Lead Matched",
		Timestamp: match.CreatedAt.UTC().Format(time.RFC3339),
		Properties: map[string]any{
			"lead_id":          lead.ID,
			"source_lead_id":   lead.SourceLeadID,
			"session_id":       match.SessionID,
			"match_method":     string(match.Method),
			"match_confidence": match.Confidence,

			"vehicle_interest": lead.VehicleInterest,
			"estimated_value":  lead.EstimatedValue,
			"revenue":          lead.EstimatedValue,

			"utm_source":   match.Attribution.UTMSource,
			"utm_medium":   match.Attribution.UTMMedium,
			"utm_campaign": match.Attribution.UTMCampaign,
			"gclid":        match.Attribution.GclID,
			"fbclid":       match.Attribution.FbclID,
			"landing_page": match.LandingPage,
			"referrer":     match.Referrer,

			"customer_email": lead.Email,
			"customer_phone": lead.Phone,
		},
		Context: map[string]any{
			"library": map[string]any{
				"name":    "leadbridge-go",
				"version": "1.0.0",
			},
			"source": "identity_resolution",
		},
	}
}

// matchMessageID builds a reproducible id for sink-side deduplication,
// kept under the endpoint's 50-character limit.
func matchMessageID(match *identity.IdentityMatch) string {
	unique := fmt.Sprintf("lead_matched_%s_%s", match.LeadID, match.SessionID)
	id := fmt.Sprintf("lm_%x", md5.Sum([]byte(unique)))
	if len(id) > 50 {
		id = id[:50]
	}
	return id
}

// Send posts one event, retrying transient failures with exponential
// backoff up to the configured attempt ceiling.
func (c *Client) Send(ctx context.Context, event *TrackEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode track event: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(config.CDPMaxRetries)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		return c.post(ctx, body)
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("failed to deliver track event after %d attempts: %w", attempt, err)
	}

	c.logger.CDP().Info("Track event delivered",
		"event", event.Event, "messageId", event.MessageID, "attempts", attempt)
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.writeKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("sink returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors don't improve on retry.
		return backoff.Permanent(fmt.Errorf("sink rejected event: %d", resp.StatusCode))
	}
	return nil
}
