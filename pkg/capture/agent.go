package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalStore is the durable client-side key-value surface (the host
// page's persistent storage) used for the anonymous id.
type LocalStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

const anonymousIDKey = "lb_anonymous_id"

// EnsureAnonymousID reads the stable anonymous id from the store, minting
// and persisting one on first use.
func EnsureAnonymousID(store LocalStore) string {
	if id, ok := store.Get(anonymousIDKey); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	store.Set(anonymousIDKey, id)
	return id
}

// Attribution carries the campaign parameters parsed from the landing
// URL, encoded per the ingestion endpoint's contract.
type Attribution struct {
	UTMSource   string `json:"utmSource,omitempty"`
	UTMMedium   string `json:"utmMedium,omitempty"`
	UTMCampaign string `json:"utmCampaign,omitempty"`
	UTMTerm     string `json:"utmTerm,omitempty"`
	UTMContent  string `json:"utmContent,omitempty"`
	GclID       string `json:"gclid,omitempty"`
	FbclID      string `json:"fbclid,omitempty"`
}

// Fingerprint is the minimal low-entropy fingerprint the agent collects.
type Fingerprint struct {
	Screen   string `json:"screen,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Language string `json:"language,omitempty"`
	Fragment string `json:"fragment,omitempty"`
}

// Payload is the visitor-identity record the agent assembles and posts.
// Field names mirror the ingestion endpoint's contract.
type Payload struct {
	AnonymousID string      `json:"anonymousId"`
	SessionHint string      `json:"sessionHint,omitempty"`
	Attribution Attribution `json:"attribution"`
	Referrer    string      `json:"referrer,omitempty"`
	LandingPage string      `json:"landingPage"`
	UserAgent   string      `json:"userAgent,omitempty"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CapturedAt  string      `json:"capturedAt"`
}

// Result is the terminal outcome of one capture invocation. Failures are
// data, not panics: a deny, an undiscovered hint and a failed delivery
// all resolve to a Result.
type Result struct {
	Denied      bool
	DenyReason  string
	HintFound   bool
	Hint        string
	Delivered   bool
	SessionID   string
	DeliveryErr error
}

// Agent composes the privacy gate, discoverer and deliverer. Stateless
// per invocation except the durable anonymous id; every re-invocation is
// an independent capture.
type Agent struct {
	discoverer *Discoverer
	deliverer  *Deliverer
	store      LocalStore
	logger     *slog.Logger
}

// NewAgent builds a capture agent. logger may be nil for silent operation.
func NewAgent(discoverer *Discoverer, deliverer *Deliverer, store LocalStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Agent{
		discoverer: discoverer,
		deliverer:  deliverer,
		store:      store,
		logger:     logger,
	}
}

// Capture runs one full invocation: gate, discovery, assembly, delivery.
// It never panics through this boundary; every failure mode is reported
// in the Result and a failed capture leaves the agent ready for the next.
func (a *Agent) Capture(ctx context.Context, page PageContext) Result {
	decision := EvaluatePrivacy(page.Signals())
	if !decision.Allowed {
		a.logger.Debug("capture denied", "reason", decision.Reason)
		return Result{Denied: true, DenyReason: decision.Reason}
	}

	outcome := a.discoverer.Discover(ctx, page)
	if !outcome.Found {
		a.logger.Debug("session hint not discovered", "attempts", outcome.Attempts)
	}

	payload := a.assemble(page, outcome.Hint)

	sessionID, err := a.deliverer.Deliver(ctx, payload)
	if err != nil {
		a.logger.Warn("capture delivery dropped", "error", err.Error())
		return Result{
			HintFound:   outcome.Found,
			Hint:        outcome.Hint,
			DeliveryErr: err,
		}
	}

	return Result{
		HintFound: outcome.Found,
		Hint:      outcome.Hint,
		Delivered: true,
		SessionID: sessionID,
	}
}

func (a *Agent) assemble(page PageContext, hint string) Payload {
	return Payload{
		AnonymousID: EnsureAnonymousID(a.store),
		SessionHint: hint,
		Attribution: collectAttribution(page.PageURL()),
		Referrer:    page.Referrer(),
		LandingPage: page.PageURL(),
		UserAgent:   page.UserAgent(),
		Fingerprint: collectFingerprint(page),
		CapturedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// collectAttribution extracts campaign parameters from the landing URL.
func collectAttribution(pageURL string) Attribution {
	u, err := url.Parse(pageURL)
	if err != nil {
		return Attribution{}
	}

	query := u.Query()
	return Attribution{
		UTMSource:   query.Get("utm_source"),
		UTMMedium:   query.Get("utm_medium"),
		UTMCampaign: query.Get("utm_campaign"),
		UTMTerm:     query.Get("utm_term"),
		UTMContent:  query.Get("utm_content"),
		GclID:       query.Get("gclid"),
		FbclID:      query.Get("fbclid"),
	}
}

// collectFingerprint gathers the minimal low-entropy fingerprint. The
// fragment is a short non-reversible hash; no raw high-entropy data
// leaves the page.
func collectFingerprint(page PageContext) Fingerprint {
	return Fingerprint{
		Screen:   page.Screen(),
		Timezone: page.Timezone(),
		Language: page.Language(),
		Fragment: fingerprintFragment(page),
	}
}

func fingerprintFragment(page PageContext) string {
	material := strings.Join([]string{
		page.Screen(), page.Timezone(), page.Language(), page.UserAgent(),
	}, "|")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:12]
}

// String implements a compact telemetry rendering of a Result.
func (r Result) String() string {
	switch {
	case r.Denied:
		return fmt.Sprintf("capture denied (%s)", r.DenyReason)
	case r.Delivered:
		return fmt.Sprintf("capture delivered (session=%s, hint=%t)", r.SessionID, r.HintFound)
	default:
		return "capture dropped"
	}
}
