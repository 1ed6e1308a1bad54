package capture

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	pageURL   string
	referrer  string
	userAgent string
	screen    string
	timezone  string
	language  string
	signals   TrackingSignals

	frameURLs  []string
	globalData map[string]string
	storage    map[string]string
	scripts    []string
	messages   chan string

	globalProbes int32
	globalAfter  int32 // globalData becomes visible after this many probes
}

func newFakePage() *fakePage {
	return &fakePage{
		pageURL:    "https://dealer.example.com/specials?utm_source=google&utm_campaign=summer&gclid=abc123",
		referrer:   "https://www.google.com/",
		userAgent:  "Mozilla/5.0 (test)",
		screen:     "1920x1080",
		timezone:   "America/Toronto",
		language:   "en-CA",
		globalData: map[string]string{},
		storage:    map[string]string{},
		messages:   make(chan string, 4),
	}
}

func (p *fakePage) PageURL() string          { return p.pageURL }
func (p *fakePage) Referrer() string         { return p.referrer }
func (p *fakePage) UserAgent() string        { return p.userAgent }
func (p *fakePage) Screen() string           { return p.screen }
func (p *fakePage) Timezone() string         { return p.timezone }
func (p *fakePage) Language() string         { return p.language }
func (p *fakePage) Signals() TrackingSignals { return p.signals }
func (p *fakePage) FrameURLs() []string      { return p.frameURLs }
func (p *fakePage) InlineScripts() []string  { return p.scripts }
func (p *fakePage) Messages() <-chan string  { return p.messages }

func (p *fakePage) GlobalData(key string) (string, bool) {
	probes := atomic.AddInt32(&p.globalProbes, 1)
	if p.globalAfter > 0 && probes <= p.globalAfter {
		return "", false
	}
	v, ok := p.globalData[key]
	return v, ok
}

func (p *fakePage) StorageGet(key string) (string, bool) {
	v, ok := p.storage[key]
	return v, ok
}

type memStore map[string]string

func (m memStore) Get(key string) (string, bool) { v, ok := m[key]; return v, ok }
func (m memStore) Set(key, value string)         { m[key] = value }

func fastDiscoverer(strategies []Strategy) *Discoverer {
	return &Discoverer{
		strategies:      strategies,
		initialInterval: 5 * time.Millisecond,
		maxInterval:     20 * time.Millisecond,
		maxAttempts:     8,
	}
}

func TestEvaluatePrivacy(t *testing.T) {
	cases := []struct {
		name    string
		signals TrackingSignals
		allowed bool
		reason  string
	}{
		{"clean context", TrackingSignals{}, true, ""},
		{"do not track", TrackingSignals{DoNotTrack: true}, false, "do-not-track"},
		{"gpc", TrackingSignals{GlobalPrivacyControl: true}, false, "global-privacy-control"},
		{"consent denied", TrackingSignals{ConsentDenied: true}, false, "consent-denied"},
		{"opt out", TrackingSignals{OptOutMarker: true}, false, "opt-out"},
		{"privacy client", TrackingSignals{PrivacyClient: true}, false, "privacy-client"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := EvaluatePrivacy(tc.signals)
			assert.Equal(t, tc.allowed, decision.Allowed)
			assert.Equal(t, tc.reason, decision.Reason)
		})
	}
}

func TestFrameURLStrategy(t *testing.T) {
	page := newFakePage()
	page.frameURLs = []string{
		"https://widget.example.com/embed?theme=dark",
		"https://widget.example.com/chat?session_id=WID-42",
	}

	hint, ok := FrameURLStrategy{Param: "session_id"}.Probe(context.Background(), page)
	require.True(t, ok)
	assert.Equal(t, "WID-42", hint)
}

func TestStorageStrategyJSONBlob(t *testing.T) {
	page := newFakePage()
	page.storage["widget_session"] = `{"sessionId":"WID-77","startedAt":"2026-08-30"}`

	hint, ok := StorageStrategy{Key: "widget_session"}.Probe(context.Background(), page)
	require.True(t, ok)
	assert.Equal(t, "WID-77", hint)
}

func TestStorageStrategyBareValue(t *testing.T) {
	page := newFakePage()
	page.storage["widget_session"] = "WID-88"

	hint, ok := StorageStrategy{Key: "widget_session"}.Probe(context.Background(), page)
	require.True(t, ok)
	assert.Equal(t, "WID-88", hint)
}

func TestScriptScanStrategy(t *testing.T) {
	page := newFakePage()
	page.scripts = []string{
		"var theme = 'dark';",
		"widgetInit({session_id: 'WID-99', lang: 'en'});",
	}

	strategy := ScriptScanStrategy{
		Pattern: regexp.MustCompile(`session_id['"]?\s*[:=]\s*['"]([A-Za-z0-9_-]+)['"]`),
	}
	hint, ok := strategy.Probe(context.Background(), page)
	require.True(t, ok)
	assert.Equal(t, "WID-99", hint)
}

func TestMessageStrategyDrainsWithoutBlocking(t *testing.T) {
	page := newFakePage()
	page.messages <- `{"kind":"ping"}`
	page.messages <- `{"sessionId":"WID-13"}`

	hint, ok := MessageStrategy{}.Probe(context.Background(), page)
	require.True(t, ok)
	assert.Equal(t, "WID-13", hint)

	// Empty channel resolves immediately.
	_, ok = MessageStrategy{}.Probe(context.Background(), page)
	assert.False(t, ok)
}

func TestDiscoverResolvesOnFirstTick(t *testing.T) {
	page := newFakePage()
	page.globalData["sessionId"] = "WID-1"

	d := fastDiscoverer([]Strategy{GlobalDataStrategy{Key: "sessionId"}})
	outcome := d.Discover(context.Background(), page)

	require.True(t, outcome.Found)
	assert.Equal(t, "WID-1", outcome.Hint)
	assert.Equal(t, "global-data", outcome.Strategy)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestDiscoverFindsHintOnLaterTick(t *testing.T) {
	page := newFakePage()
	page.globalData["sessionId"] = "WID-2"
	page.globalAfter = 3

	d := fastDiscoverer([]Strategy{GlobalDataStrategy{Key: "sessionId"}})
	outcome := d.Discover(context.Background(), page)

	require.True(t, outcome.Found)
	assert.Equal(t, "WID-2", outcome.Hint)
	assert.Equal(t, 4, outcome.Attempts)
}

func TestDiscoverExhaustionStaysWithinBudget(t *testing.T) {
	page := newFakePage()

	d := fastDiscoverer(DefaultStrategies())
	start := time.Now()
	outcome := d.Discover(context.Background(), page)
	elapsed := time.Since(start)

	assert.False(t, outcome.Found)
	assert.Equal(t, 8, outcome.Attempts)
	assert.Less(t, elapsed, time.Second)
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	page := newFakePage()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := fastDiscoverer([]Strategy{GlobalDataStrategy{Key: "sessionId"}})
	outcome := d.Discover(ctx, page)
	assert.False(t, outcome.Found)
}

func TestEnsureAnonymousIDIsStable(t *testing.T) {
	store := memStore{}

	first := EnsureAnonymousID(store)
	require.NotEmpty(t, first)
	assert.Equal(t, first, EnsureAnonymousID(store))
}

func TestAgentCaptureDeniedSendsNothing(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer srv.Close()

	page := newFakePage()
	page.signals = TrackingSignals{ConsentDenied: true}

	agent := NewAgent(fastDiscoverer(DefaultStrategies()), NewDeliverer(srv.URL), memStore{}, nil)
	result := agent.Capture(context.Background(), page)

	assert.True(t, result.Denied)
	assert.Equal(t, "consent-denied", result.DenyReason)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestAgentCaptureDeliversPayload(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, decodeJSON(r, &received))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sessionId":"01TEST"}`))
	}))
	defer srv.Close()

	page := newFakePage()
	page.globalData["sessionId"] = "WID-5"

	store := memStore{}
	agent := NewAgent(fastDiscoverer(DefaultStrategies()), NewDeliverer(srv.URL), store, nil)
	result := agent.Capture(context.Background(), page)

	require.True(t, result.Delivered)
	assert.Equal(t, "01TEST", result.SessionID)
	assert.True(t, result.HintFound)

	assert.Equal(t, "WID-5", received.SessionHint)
	assert.Equal(t, store[anonymousIDKey], received.AnonymousID)
	assert.Equal(t, "google", received.Attribution.UTMSource)
	assert.Equal(t, "abc123", received.Attribution.GclID)
	assert.Equal(t, "1920x1080", received.Fingerprint.Screen)
	assert.Len(t, received.Fingerprint.Fragment, 12)
}

func TestAgentDeliveryFailureIsContained(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sessionId":"01RECOVERED"}`))
	}))
	defer srv.Close()

	page := newFakePage()
	page.globalData["sessionId"] = "WID-6"
	agent := NewAgent(fastDiscoverer(DefaultStrategies()), NewDeliverer(srv.URL), memStore{}, nil)

	result := agent.Capture(context.Background(), page)
	assert.False(t, result.Delivered)
	require.Error(t, result.DeliveryErr)

	// A failed delivery must not corrupt subsequent captures.
	healthy.Store(true)
	result = agent.Capture(context.Background(), page)
	assert.True(t, result.Delivered)
	assert.Equal(t, "01RECOVERED", result.SessionID)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
