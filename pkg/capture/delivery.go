package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Deliverer posts assembled visitor-identity payloads to the ingestion
// endpoint with bounded retry. Delivery is at-most-once: after the final
// attempt the event is dropped, never re-queued.
type Deliverer struct {
	endpoint    string
	httpClient  *http.Client
	maxAttempts int
}

// NewDeliverer builds a deliverer for the given ingestion endpoint.
func NewDeliverer(endpoint string) *Deliverer {
	return &Deliverer{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		maxAttempts: 3,
	}
}

// Deliver posts one payload and returns the server-assigned session id.
// Validation rejections are terminal immediately; transient failures
// retry with exponential backoff up to the attempt ceiling.
func (d *Deliverer) Deliver(ctx context.Context, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode capture payload: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.maxAttempts-1)),
		ctx,
	)

	var sessionID string
	operation := func() error {
		id, err := d.post(ctx, body)
		if err != nil {
			return err
		}
		sessionID = id
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("capture delivery failed: %w", err)
	}
	return sessionID, nil
}

func (d *Deliverer) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("ingestion returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// A validation rejection won't improve on retry.
		return "", backoff.Permanent(fmt.Errorf("ingestion rejected capture: %d", resp.StatusCode))
	}

	var reply struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode ingestion reply: %w", err))
	}
	return reply.SessionID, nil
}
