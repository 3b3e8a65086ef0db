package resilience

import (
	"github.com/sony/gobreaker"
)

// StreamingCircuitBreaker guards calls whose outcome is unknown until the
// stream ends, long after setup. Allow admits the call and hands back the
// recording callback; the caller holds it across the whole read loop and
// fires it once at stream end. Built on gobreaker's two-step breaker.
type StreamingCircuitBreaker struct {
	cb *gobreaker.TwoStepCircuitBreaker
}

func NewStreamingCircuitBreaker(cfg BreakerConfig) *StreamingCircuitBreaker {
	return &StreamingCircuitBreaker{
		cb: gobreaker.NewTwoStepCircuitBreaker(cfg.settings()),
	}
}

// Allow admits or rejects the call. On admission the returned callback MUST
// be fired exactly once with the stream outcome; losing it leaks a half-open
// slot. Rejection returns gobreaker.ErrOpenState or ErrTooManyRequests.
func (s *StreamingCircuitBreaker) Allow() (done func(success bool), err error) {
	return s.cb.Allow()
}

func (s *StreamingCircuitBreaker) State() gobreaker.State {
	return s.cb.State()
}
