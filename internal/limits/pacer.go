package limits

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// pacerFloorFraction keeps a trickle of requests flowing even when the
// reported window is nearly exhausted, so the gateway still observes the
// reset instead of stalling forever.
const pacerFloorFraction = 0.05

// Pacer throttles upstream calls with a token bucket whose rate shrinks as
// the backend reports the primary window filling up.
type Pacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	maxRPS  float64
}

// NewPacer builds a Pacer admitting up to maxRPS requests per second with
// the given burst. Non-positive arguments fall back to 1 rps / burst 1.
func NewPacer(maxRPS float64, burst int) *Pacer {
	if maxRPS <= 0 {
		maxRPS = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(maxRPS), burst),
		maxRPS:  maxRPS,
	}
}

// Wait blocks until a token is available or ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Observe rescales the admission rate from a reported snapshot: the rate is
// the configured maximum scaled by the primary window's remaining share,
// floored so the bucket never stops refilling.
func (p *Pacer) Observe(s *Snapshot) {
	if s == nil || s.Primary == nil {
		return
	}
	remaining := (100 - s.Primary.UsedPercent) / 100
	if remaining < pacerFloorFraction {
		remaining = pacerFloorFraction
	}
	if remaining > 1 {
		remaining = 1
	}

	p.mu.Lock()
	p.limiter.SetLimit(rate.Limit(p.maxRPS * remaining))
	p.mu.Unlock()
}

// Limit reports the current admission rate in requests per second.
func (p *Pacer) Limit() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.limiter.Limit())
}
