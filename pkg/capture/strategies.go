package capture

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
)

// PageContext abstracts the browsing context a capture runs against. The
// embedding host supplies a concrete implementation; tests supply fakes.
type PageContext interface {
	PageURL() string
	Referrer() string
	UserAgent() string
	Screen() string
	Timezone() string
	Language() string
	Signals() TrackingSignals

	// Surfaces probed by the discovery strategies.
	FrameURLs() []string
	GlobalData(key string) (string, bool)
	StorageGet(key string) (string, bool)
	InlineScripts() []string
	Messages() <-chan string
}

// Strategy is one independent way of recovering the cross-system session
// hint from an uncontrolled third-party embed. Probe returns ("", false)
// when the strategy finds nothing this tick.
type Strategy interface {
	Name() string
	Probe(ctx context.Context, page PageContext) (string, bool)
}

// FrameURLStrategy inspects embedded-frame URLs for a session query
// parameter.
type FrameURLStrategy struct {
	Param string
}

func (s FrameURLStrategy) Name() string { return "frame-url" }

func (s FrameURLStrategy) Probe(_ context.Context, page PageContext) (string, bool) {
	for _, raw := range page.FrameURLs() {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if hint := u.Query().Get(s.Param); hint != "" {
			return hint, true
		}
	}
	return "", false
}

// GlobalDataStrategy inspects a known global data object exposed by the
// widget.
type GlobalDataStrategy struct {
	Key string
}

func (s GlobalDataStrategy) Name() string { return "global-data" }

func (s GlobalDataStrategy) Probe(_ context.Context, page PageContext) (string, bool) {
	if hint, ok := page.GlobalData(s.Key); ok && hint != "" {
		return hint, true
	}
	return "", false
}

// StorageStrategy inspects persisted local storage for a session blob,
// either a bare identifier or a JSON object carrying one.
type StorageStrategy struct {
	Key string
}

func (s StorageStrategy) Name() string { return "storage" }

func (s StorageStrategy) Probe(_ context.Context, page PageContext) (string, bool) {
	raw, ok := page.StorageGet(s.Key)
	if !ok || raw == "" {
		return "", false
	}

	var blob struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err == nil && blob.SessionID != "" {
		return blob.SessionID, true
	}
	if json.Valid([]byte(raw)) {
		return "", false
	}
	return raw, true
}

// ScriptScanStrategy scans inline script text for a recognizable
// identifier pattern. The pattern's first capture group is the hint.
type ScriptScanStrategy struct {
	Pattern *regexp.Regexp
}

func (s ScriptScanStrategy) Name() string { return "script-scan" }

func (s ScriptScanStrategy) Probe(_ context.Context, page PageContext) (string, bool) {
	for _, script := range page.InlineScripts() {
		if m := s.Pattern.FindStringSubmatch(script); len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// MessageStrategy drains cross-origin messages received so far, looking
// for one carrying session data. Never blocks waiting for a message.
type MessageStrategy struct{}

func (s MessageStrategy) Name() string { return "message" }

func (s MessageStrategy) Probe(ctx context.Context, page PageContext) (string, bool) {
	for {
		select {
		case <-ctx.Done():
			return "", false
		case raw, ok := <-page.Messages():
			if !ok {
				return "", false
			}
			var msg struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal([]byte(raw), &msg); err == nil && msg.SessionID != "" {
				return msg.SessionID, true
			}
		default:
			return "", false
		}
	}
}

// DefaultStrategies is the production probe order against the embedded
// chat widget.
func DefaultStrategies() []Strategy {
	return []Strategy{
		FrameURLStrategy{Param: "session_id"},
		GlobalDataStrategy{Key: "sessionId"},
		StorageStrategy{Key: "widget_session"},
		ScriptScanStrategy{Pattern: regexp.MustCompile(`session_id['"]?\s*[:=]\s*['"]([A-Za-z0-9_-]+)['"]`)},
		MessageStrategy{},
	}
}
