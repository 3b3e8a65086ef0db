// Package resilience wraps failsafe-go retry policies and a gobreaker
// circuit breaker behind a small executor type. The token refresher and
// the upstream client build their policies here so retry classification
// lives in one place.
package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// RetryConfig describes a bounded exponential-backoff retry policy.
type RetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterDelay time.Duration
	// RetryIf classifies errors worth another attempt. Nil retries every
	// error.
	RetryIf func(err error) bool
	// AbortOn short-circuits the policy for error classes that can never
	// succeed on retry, like a rejected refresh token.
	AbortOn []error
	// Name tags retry log lines.
	Name string
}

// DefaultRetryConfig suits short control-plane calls: three extra attempts,
// half-second base delay, capped at 30s.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:  3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	JitterDelay: 250 * time.Millisecond,
}

// BreakerConfig configures the gobreaker wrapper.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
	OnStateChange    func(name string, from, to gobreaker.State)
	IsSuccessful     func(err error) bool
}

// DefaultIsSuccessful decides whether an error counts as a breaker failure.
// Client-caused errors (bad request, auth expiry) must not trip the breaker;
// the upstream package installs its classifier here during init to avoid an
// import cycle.
var DefaultIsSuccessful func(err error) bool

// DefaultBreakerConfig returns breaker settings sized for a single busy
// upstream: trip after 5 consecutive failures or a 50% failure ratio over
// at least 10 calls, half-open after 30s.
func DefaultBreakerConfig(name string) BreakerConfig {
	isSuccessful := DefaultIsSuccessful
	if isSuccessful == nil {
		isSuccessful = func(err error) bool { return err == nil }
	}
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
		IsSuccessful:     isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
}

// settings converts a BreakerConfig to gobreaker settings; shared by the
// synchronous and two-step breaker constructors.
func (cfg BreakerConfig) settings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: cfg.OnStateChange,
		IsSuccessful:  cfg.IsSuccessful,
	}
}

// CircuitBreaker wraps gobreaker with typed accessors.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(cfg.settings())}
}

func (c *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return c.cb.Execute(fn)
}

func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}

func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

func (c *CircuitBreaker) Name() string {
	return c.cb.Name()
}

// NewRetryPolicy builds a failsafe retry policy from cfg, wiring the
// RetryIf and AbortOn classifications.
func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay)
	if cfg.JitterDelay > 0 {
		builder = builder.WithJitter(cfg.JitterDelay)
	}
	if cfg.RetryIf != nil {
		retryIf := cfg.RetryIf
		builder = builder.HandleIf(func(_ R, err error) bool {
			return err != nil && retryIf(err)
		})
	}
	if len(cfg.AbortOn) > 0 {
		builder = builder.AbortOnErrors(cfg.AbortOn...)
	}
	if cfg.Name != "" {
		name := cfg.Name
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[R]) {
			log.Debugf("%s: retry %d after error: %v", name, e.Attempts()-1, e.LastError())
		})
	}
	return builder.Build()
}

// Executor runs a function under a retry policy, optionally behind a
// circuit breaker.
type Executor[R any] struct {
	executor failsafe.Executor[R]
	breaker  *CircuitBreaker
}

func NewExecutor[R any](retryConfig RetryConfig, breakerConfig *BreakerConfig) *Executor[R] {
	rp := NewRetryPolicy[R](retryConfig)

	var breaker *CircuitBreaker
	if breakerConfig != nil {
		breaker = NewCircuitBreaker(*breakerConfig)
	}

	return &Executor[R]{
		executor: failsafe.With(rp),
		breaker:  breaker,
	}
}

func (e *Executor[R]) Execute(ctx context.Context, fn func() (R, error)) (R, error) {
	if e.breaker != nil {
		result, err := e.breaker.Execute(func() (any, error) {
			return e.executor.WithContext(ctx).Get(fn)
		})
		if err != nil {
			var zero R
			return zero, err
		}
		return result.(R), nil
	}
	return e.executor.WithContext(ctx).Get(fn)
}

func (e *Executor[R]) CircuitBreaker() *CircuitBreaker {
	return e.breaker
}

// CalculateBackoffNoJitter computes plain exponential backoff. The gateway
// retry loop uses it so attempt delays stay predictable in logs.
func CalculateBackoffNoJitter(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// WaitWithContext sleeps for delay or until ctx is cancelled.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryBudget is a token bucket bounding concurrent retries so a misbehaving
// upstream cannot trigger a retry storm across many in-flight requests.
type RetryBudget struct {
	capacity    atomic.Int64
	maxCapacity int64
}

// NewRetryBudget creates a retry budget with the specified capacity.
func NewRetryBudget(maxCapacity int64) *RetryBudget {
	if maxCapacity <= 0 {
		maxCapacity = 50
	}
	rb := &RetryBudget{maxCapacity: maxCapacity}
	rb.capacity.Store(maxCapacity)
	return rb
}

// TryAcquire attempts to take a retry token. False means the budget is
// exhausted and the caller should fail instead of retrying.
func (rb *RetryBudget) TryAcquire() bool {
	for {
		current := rb.capacity.Load()
		if current <= 0 {
			return false
		}
		if rb.capacity.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Release returns a retry token after the attempt finishes.
func (rb *RetryBudget) Release() {
	for {
		current := rb.capacity.Load()
		if current >= rb.maxCapacity {
			return
		}
		if rb.capacity.CompareAndSwap(current, current+1) {
			return
		}
	}
}

// Available returns the current number of retry tokens.
func (rb *RetryBudget) Available() int64 {
	return rb.capacity.Load()
}

// MaxCapacity returns the budget ceiling.
func (rb *RetryBudget) MaxCapacity() int64 {
	return rb.maxCapacity
}
