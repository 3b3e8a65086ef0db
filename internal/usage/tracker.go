package usage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tracker collects usage statistics using lock-free counters and delegates
// persistence to a Backend. The backend may be nil, in which case only the
// in-memory counters are maintained. A nil *Tracker is safe to call.
type Tracker struct {
	counters *Counters
	backend  Backend
	disabled atomic.Bool
}

// NewTracker constructs a tracker. backend may be nil for counters-only mode.
func NewTracker(backend Backend) *Tracker {
	return &Tracker{
		counters: NewCounters(),
		backend:  backend,
	}
}

// Initialize creates and starts a database-backed tracker, seeding the
// counters from historical data so lifetime totals survive restarts.
func Initialize(cfg BackendConfig) (*Tracker, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Start(); err != nil {
		return nil, err
	}

	tracker := NewTracker(backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		log.Warnf("Failed to bootstrap usage counters from history: %v", err)
	} else if stats != nil {
		tracker.counters.Bootstrap(*stats)
		log.Infof("Bootstrapped usage counters: %d requests, %d tokens", stats.TotalRequests, stats.TotalTokens)
	}

	return tracker, nil
}

// Observe records one finished request. It fills in defaults the caller may
// not have: a zero RequestedAt is stamped now, an empty model becomes
// "unknown", and a zero total is computed from input+output.
func (t *Tracker) Observe(rec Record) {
	if t == nil || t.disabled.Load() {
		return
	}

	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	} else {
		rec.RequestedAt = rec.RequestedAt.UTC()
	}
	if rec.Model == "" {
		rec.Model = "unknown"
	}
	if rec.Endpoint == "" {
		rec.Endpoint = "unknown"
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}

	t.counters.Record(rec.Failed, rec.Streamed, rec.TotalTokens, rec.RequestedAt)

	if t.backend != nil {
		t.backend.Enqueue(rec)
	}
}

// Counters returns the current counter snapshot.
func (t *Tracker) Counters() CounterSnapshot {
	if t == nil {
		return CounterSnapshot{}
	}
	return t.counters.Snapshot()
}

// Backend returns the backend for query operations. May be nil.
func (t *Tracker) Backend() Backend {
	if t == nil {
		return nil
	}
	return t.backend
}

// SetEnabled toggles whether new requests are recorded.
func (t *Tracker) SetEnabled(enabled bool) {
	if t == nil {
		return
	}
	t.disabled.Store(!enabled)
}

// Enabled reports the current recording state.
func (t *Tracker) Enabled() bool {
	return t != nil && !t.disabled.Load()
}

// Snapshot builds the full usage report: counters plus, when a backend is
// configured, the per-day, per-hour, per-endpoint and per-model breakdowns
// since the given time. Query failures degrade the report rather than fail
// it.
func (t *Tracker) Snapshot(ctx context.Context, since time.Time) *Snapshot {
	if t == nil {
		return &Snapshot{}
	}

	counters := t.counters.Snapshot()
	snap := &Snapshot{
		TotalRequests: counters.TotalRequests,
		SuccessCount:  counters.SuccessCount,
		FailureCount:  counters.FailureCount,
		StreamedCount: counters.StreamedCount,
		TotalTokens:   counters.TotalTokens,
		LastRequestAt: counters.LastRequestAt,
	}
	if t.backend == nil {
		return snap
	}

	if daily, err := t.backend.QueryDailyStats(ctx, since); err != nil {
		log.Warnf("Usage daily stats query failed: %v", err)
	} else if len(daily) > 0 {
		snap.RequestsByDay = make(map[string]int64, len(daily))
		snap.TokensByDay = make(map[string]int64, len(daily))
		for _, d := range daily {
			snap.RequestsByDay[d.Day] = d.Requests
			snap.TokensByDay[d.Day] = d.Tokens
		}
	}

	if hourly, err := t.backend.QueryHourlyStats(ctx, since); err != nil {
		log.Warnf("Usage hourly stats query failed: %v", err)
	} else if len(hourly) > 0 {
		snap.RequestsByHour = make(map[string]int64, len(hourly))
		snap.TokensByHour = make(map[string]int64, len(hourly))
		for _, h := range hourly {
			key := fmt.Sprintf("%02d", h.Hour)
			snap.RequestsByHour[key] = h.Requests
			snap.TokensByHour[key] = h.Tokens
		}
	}

	if endpoints, err := t.backend.QueryEndpointStats(ctx, since); err != nil {
		log.Warnf("Usage endpoint stats query failed: %v", err)
	} else {
		snap.Endpoints = endpoints
	}

	if models, err := t.backend.QueryModelStats(ctx, since); err != nil {
		log.Warnf("Usage model stats query failed: %v", err)
	} else {
		snap.Models = models
	}

	return snap
}

// Stop gracefully shuts down the backend, flushing pending writes.
func (t *Tracker) Stop() error {
	if t == nil || t.backend == nil {
		return nil
	}
	return t.backend.Stop()
}
