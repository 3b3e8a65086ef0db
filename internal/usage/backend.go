// Package usage tracks per-request statistics for the gateway: lock-free
// counters for the /health report plus an optional database backend for
// historical queries.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/yaananth/chatmock/internal/config"
)

// Backend persists usage records and answers the aggregation queries behind
// GET /v1/usage. Enqueue must be non-blocking; writes happen on a background
// batch loop between Start and Stop. Implementations are safe for concurrent
// use.
type Backend interface {
	Enqueue(record Record)
	// Flush forces pending records to storage.
	Flush(ctx context.Context) error

	QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error)
	QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error)
	QueryHourlyStats(ctx context.Context, since time.Time) ([]HourlyStats, error)
	QueryEndpointStats(ctx context.Context, since time.Time) ([]EndpointStats, error)
	QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error)

	// Cleanup removes records older than before and reports how many went.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	Start() error
	// Stop drains the queue and flushes before returning.
	Stop() error
}

// BackendConfig sizes the batch writer. Zero values take backend defaults.
type BackendConfig struct {
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	RetentionDays int
}

// NewBackend picks the backend from the DSN scheme: sqlite://path or
// postgres://url.
func NewBackend(cfg BackendConfig) (Backend, error) {
	parsed, err := config.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, fmt.Errorf("DSN is required (use sqlite:// or postgres://)")
	}

	switch parsed.Backend {
	case "postgres":
		return NewPostgresBackend(parsed.URL, cfg)
	case "sqlite":
		return NewSQLiteBackend(parsed.Path, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", parsed.Backend)
	}
}
