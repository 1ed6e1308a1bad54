// Package capture implements the client-side visitor capture agent:
// a privacy gate, a bounded session-hint discoverer, and resilient
// delivery of visitor-identity records to the ingestion endpoint.
package capture

// TrackingSignals carries the browsing context's tracking-preference
// state at capture time.
type TrackingSignals struct {
	DoNotTrack           bool
	GlobalPrivacyControl bool
	ConsentDenied        bool
	OptOutMarker         bool
	PrivacyClient        bool
}

// Decision is the privacy gate's verdict. A deny short-circuits the whole
// capture; no partial data is ever sent.
type Decision struct {
	Allowed bool
	Reason  string
}

// EvaluatePrivacy is the gate predicate. Pure and total: any raised
// signal denies tracking.
func EvaluatePrivacy(signals TrackingSignals) Decision {
	switch {
	case signals.DoNotTrack:
		return Decision{Reason: "do-not-track"}
	case signals.GlobalPrivacyControl:
		return Decision{Reason: "global-privacy-control"}
	case signals.ConsentDenied:
		return Decision{Reason: "consent-denied"}
	case signals.OptOutMarker:
		return Decision{Reason: "opt-out"}
	case signals.PrivacyClient:
		return Decision{Reason: "privacy-client"}
	default:
		return Decision{Allowed: true}
	}
}
