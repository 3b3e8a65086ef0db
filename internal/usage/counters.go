package usage

import (
	"sync/atomic"
	"time"
)

// Counters provides lock-free atomic counters for real-time usage metrics.
// These back the /health report and are updated on every request; historical
// breakdowns are queried from the database backend instead.
type Counters struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	failureCount  atomic.Int64
	streamedCount atomic.Int64
	totalTokens   atomic.Int64
	lastRequestNs atomic.Int64
}

// NewCounters creates a new counter set initialized to zero.
func NewCounters() *Counters {
	return &Counters{}
}

// Record increments counters for one finished request.
// This method is lock-free and safe for high-concurrency use.
func (c *Counters) Record(failed, streamed bool, tokens int64, at time.Time) {
	if c == nil {
		return
	}
	c.totalRequests.Add(1)
	if failed {
		c.failureCount.Add(1)
	} else {
		c.successCount.Add(1)
	}
	if streamed {
		c.streamedCount.Add(1)
	}
	c.totalTokens.Add(tokens)
	if !at.IsZero() {
		c.lastRequestNs.Store(at.UnixNano())
	}
}

// Snapshot returns current counter values as an immutable snapshot.
func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	snap := CounterSnapshot{
		TotalRequests: c.totalRequests.Load(),
		SuccessCount:  c.successCount.Load(),
		FailureCount:  c.failureCount.Load(),
		StreamedCount: c.streamedCount.Load(),
		TotalTokens:   c.totalTokens.Load(),
	}
	if ns := c.lastRequestNs.Load(); ns != 0 {
		at := time.Unix(0, ns).UTC()
		snap.LastRequestAt = &at
	}
	return snap
}

// Reset zeroes all counters. Use with caution.
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	c.totalRequests.Store(0)
	c.successCount.Store(0)
	c.failureCount.Store(0)
	c.streamedCount.Store(0)
	c.totalTokens.Store(0)
	c.lastRequestNs.Store(0)
}

// Bootstrap seeds counters with aggregated historical data. Called once at
// startup so restarts do not zero the lifetime totals.
func (c *Counters) Bootstrap(stats AggregatedStats) {
	if c == nil {
		return
	}
	c.totalRequests.Store(stats.TotalRequests)
	c.successCount.Store(stats.SuccessCount)
	c.failureCount.Store(stats.FailureCount)
	c.streamedCount.Store(stats.StreamedCount)
	c.totalTokens.Store(stats.TotalTokens)
}

// CounterSnapshot holds an immutable point-in-time view of counter values.
type CounterSnapshot struct {
	TotalRequests int64      `json:"total_requests"`
	SuccessCount  int64      `json:"success_count"`
	FailureCount  int64      `json:"failure_count"`
	StreamedCount int64      `json:"streamed_count"`
	TotalTokens   int64      `json:"total_tokens"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`
}
