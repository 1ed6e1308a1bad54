// Package messaging provides the live match-stream broadcaster.
package messaging

import (
	"sync"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

// MatchEvent is the message pushed to dashboard stream clients whenever a
// lead resolves to a session.
type MatchEvent struct {
	MatchID         string  `json:"matchId"`
	SessionID       string  `json:"sessionId"`
	LeadID          string  `json:"leadId"`
	Method          string  `json:"method"`
	Confidence      float64 `json:"confidence"`
	VehicleInterest string  `json:"vehicleInterest,omitempty"`
	EstimatedValue  float64 `json:"estimatedValue,omitempty"`
	UTMSource       string  `json:"utmSource,omitempty"`
	UTMCampaign     string  `json:"utmCampaign,omitempty"`
	CreatedAt       string  `json:"createdAt"`
}

// MatchBroadcaster fans match events out to connected dashboard clients.
// Each client drains its own buffered channel; a client that cannot keep
// up has events dropped rather than blocking ingestion.
type MatchBroadcaster struct {
	clients map[chan MatchEvent]struct{}
	mu      sync.Mutex
	logger  *logging.ChanneledLogger
}

// NewMatchBroadcaster creates a new MatchBroadcaster.
func NewMatchBroadcaster(logger *logging.ChanneledLogger) *MatchBroadcaster {
	return &MatchBroadcaster{
		clients: make(map[chan MatchEvent]struct{}),
		logger:  logger,
	}
}

// AddClient registers a new stream client and returns its event channel,
// or nil when the client ceiling is reached.
func (b *MatchBroadcaster) AddClient() chan MatchEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.clients) >= config.MaxStreamClients {
		b.logger.Stream().Warn("Stream client rejected, ceiling reached",
			"clients", len(b.clients))
		return nil
	}

	ch := make(chan MatchEvent, 16)
	b.clients[ch] = struct{}{}
	b.logger.Stream().Debug("Stream client registered", "clients", len(b.clients))
	return ch
}

// RemoveClient unregisters a stream client and closes its channel.
func (b *MatchBroadcaster) RemoveClient(ch chan MatchEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.clients[ch]; exists {
		delete(b.clients, ch)
		close(ch)
	}
	b.logger.Stream().Debug("Stream client unregistered", "clients", len(b.clients))
}

// ClientCount returns the number of connected stream clients.
func (b *MatchBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// BroadcastMatch pushes a recorded match to every connected client.
// Never blocks: full client buffers drop the event.
func (b *MatchBroadcaster) BroadcastMatch(lead *identity.CrmLead, match *identity.IdentityMatch) {
	event := MatchEvent{
		MatchID:         match.ID,
		SessionID:       match.SessionID,
		LeadID:          match.LeadID,
		Method:          string(match.Method),
		Confidence:      match.Confidence,
		VehicleInterest: lead.VehicleInterest,
		EstimatedValue:  lead.EstimatedValue,
		UTMSource:       match.Attribution.UTMSource,
		UTMCampaign:     match.Attribution.UTMCampaign,
		CreatedAt:       match.CreatedAt.UTC().Format(time.RFC3339),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.logger.Stream().Warn("Stream client buffer full, event dropped",
				"matchId", match.ID)
		}
	}
}
