package capture

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Discoverer drives an ordered list of strategies under a bounded polling
// loop. Exhaustion is an expected outcome, not an error: it routes later
// matching to the contact-based fallback tier.
type Discoverer struct {
	strategies      []Strategy
	initialInterval time.Duration
	maxInterval     time.Duration
	maxAttempts     int
}

// DiscoveryOutcome reports what one discovery run found.
type DiscoveryOutcome struct {
	Hint     string
	Found    bool
	Strategy string
	Attempts int
}

// NewDiscoverer builds a discoverer with the default polling budget:
// 200ms initial backoff doubling to an 800ms ceiling, 8 attempts, under
// five seconds total.
func NewDiscoverer(strategies []Strategy) *Discoverer {
	return &Discoverer{
		strategies:      strategies,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     800 * time.Millisecond,
		maxAttempts:     8,
	}
}

// Discover polls every strategy once per tick until one yields a hint,
// the attempt ceiling is reached, or ctx is cancelled. It always resolves
// within its time budget.
func (d *Discoverer) Discover(ctx context.Context, page PageContext) DiscoveryOutcome {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	policy.MaxInterval = d.maxInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.Reset()

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		for _, strategy := range d.strategies {
			if hint, ok := strategy.Probe(ctx, page); ok {
				return DiscoveryOutcome{
					Hint:     hint,
					Found:    true,
					Strategy: strategy.Name(),
					Attempts: attempt,
				}
			}
		}

		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return DiscoveryOutcome{Attempts: attempt}
		case <-time.After(policy.NextBackOff()):
		}
	}

	return DiscoveryOutcome{Attempts: d.maxAttempts}
}
