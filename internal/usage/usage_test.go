package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"), BackendConfig{BatchSize: 10})
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Stop() })
	return backend
}

func testRecords() []Record {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return []Record{
		{
			Endpoint:        "chat_completions",
			Model:           "gpt-5",
			RequestedAt:     day.Add(10 * time.Hour),
			Streamed:        true,
			DurationMs:      1200,
			InputTokens:     100,
			OutputTokens:    50,
			ReasoningTokens: 10,
			TotalTokens:     150,
		},
		{
			Endpoint:    "chat_completions",
			Model:       "gpt-5-codex",
			RequestedAt: day.Add(11 * time.Hour),
			Failed:      true,
			DurationMs:  300,
		},
		{
			Endpoint:     "responses",
			Model:        "gpt-5",
			RequestedAt:  day.Add(10*time.Hour + 30*time.Minute),
			DurationMs:   800,
			InputTokens:  40,
			OutputTokens: 10,
			CachedTokens: 20,
			TotalTokens:  50,
		},
	}
}

func TestCountersRecordAndSnapshot(t *testing.T) {
	c := NewCounters()
	t1 := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	c.Record(false, true, 100, t1)
	c.Record(true, false, 0, t2)

	snap := c.Snapshot()
	if snap.TotalRequests != 2 || snap.SuccessCount != 1 || snap.FailureCount != 1 {
		t.Errorf("unexpected counts: %+v", snap)
	}
	if snap.StreamedCount != 1 {
		t.Errorf("streamed = %d, want 1", snap.StreamedCount)
	}
	if snap.TotalTokens != 100 {
		t.Errorf("tokens = %d, want 100", snap.TotalTokens)
	}
	if snap.LastRequestAt == nil || !snap.LastRequestAt.Equal(t2) {
		t.Errorf("last request = %v, want %v", snap.LastRequestAt, t2)
	}
}

func TestCountersBootstrap(t *testing.T) {
	c := NewCounters()
	c.Bootstrap(AggregatedStats{TotalRequests: 40, SuccessCount: 35, FailureCount: 5, StreamedCount: 12, TotalTokens: 9000})

	c.Record(false, false, 100, time.Now())

	snap := c.Snapshot()
	if snap.TotalRequests != 41 {
		t.Errorf("total = %d, want 41", snap.TotalRequests)
	}
	if snap.SuccessCount != 36 || snap.FailureCount != 5 {
		t.Errorf("success/failure = %d/%d", snap.SuccessCount, snap.FailureCount)
	}
	if snap.TotalTokens != 9100 {
		t.Errorf("tokens = %d, want 9100", snap.TotalTokens)
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, rec := range testRecords() {
		backend.Enqueue(rec)
	}
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if stats.TotalRequests != 3 || stats.SuccessCount != 2 || stats.FailureCount != 1 {
		t.Errorf("unexpected global stats: %+v", stats)
	}
	if stats.StreamedCount != 1 {
		t.Errorf("streamed = %d, want 1", stats.StreamedCount)
	}
	if stats.TotalTokens != 200 {
		t.Errorf("tokens = %d, want 200", stats.TotalTokens)
	}
}

func TestSQLiteBackendDailyAndHourlyStats(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, rec := range testRecords() {
		backend.Enqueue(rec)
	}
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	daily, err := backend.QueryDailyStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryDailyStats: %v", err)
	}
	if len(daily) != 1 {
		t.Fatalf("expected 1 day, got %d: %+v", len(daily), daily)
	}
	if daily[0].Day != "2025-03-14" || daily[0].Requests != 3 || daily[0].Tokens != 200 {
		t.Errorf("unexpected daily stats: %+v", daily[0])
	}

	hourly, err := backend.QueryHourlyStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryHourlyStats: %v", err)
	}
	if len(hourly) != 2 {
		t.Fatalf("expected 2 hour buckets, got %d: %+v", len(hourly), hourly)
	}
	if hourly[0].Hour != 10 || hourly[0].Requests != 2 {
		t.Errorf("hour 10 = %+v", hourly[0])
	}
	if hourly[1].Hour != 11 || hourly[1].Requests != 1 {
		t.Errorf("hour 11 = %+v", hourly[1])
	}
}

func TestSQLiteBackendEndpointStats(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, rec := range testRecords() {
		backend.Enqueue(rec)
	}
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	endpoints, err := backend.QueryEndpointStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryEndpointStats: %v", err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d: %+v", len(endpoints), endpoints)
	}

	chat := endpoints[0]
	if chat.Endpoint != "chat_completions" {
		t.Fatalf("expected chat_completions first (most requests), got %q", chat.Endpoint)
	}
	if chat.Requests != 2 || chat.SuccessCount != 1 || chat.FailureCount != 1 || chat.StreamedCount != 1 {
		t.Errorf("unexpected chat stats: %+v", chat)
	}
	if chat.InputTokens != 100 || chat.OutputTokens != 50 || chat.ReasoningTokens != 10 {
		t.Errorf("unexpected chat token sums: %+v", chat)
	}
	if chat.AvgDurationMs != 750 {
		t.Errorf("avg duration = %d, want 750", chat.AvgDurationMs)
	}
	models := make(map[string]bool, len(chat.Models))
	for _, m := range chat.Models {
		models[m] = true
	}
	if !models["gpt-5"] || !models["gpt-5-codex"] {
		t.Errorf("models = %v, want gpt-5 and gpt-5-codex", chat.Models)
	}

	if endpoints[1].Endpoint != "responses" || endpoints[1].Requests != 1 {
		t.Errorf("unexpected second endpoint: %+v", endpoints[1])
	}
}

func TestSQLiteBackendModelStats(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	for _, rec := range testRecords() {
		backend.Enqueue(rec)
	}
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	models, err := backend.QueryModelStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryModelStats: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d: %+v", len(models), models)
	}

	gpt5 := models[0]
	if gpt5.Model != "gpt-5" {
		t.Fatalf("expected gpt-5 first (most requests), got %q", gpt5.Model)
	}
	if gpt5.Requests != 2 || gpt5.TotalTokens != 200 || gpt5.CachedTokens != 20 {
		t.Errorf("unexpected gpt-5 stats: %+v", gpt5)
	}
	if gpt5.AvgDurationMs != 1000 {
		t.Errorf("gpt-5 avg duration = %d, want 1000", gpt5.AvgDurationMs)
	}

	codex := models[1]
	if codex.Model != "gpt-5-codex" || codex.FailureCount != 1 {
		t.Errorf("unexpected gpt-5-codex stats: %+v", codex)
	}
}

func TestSQLiteBackendEmptyQueries(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryGlobalStats on empty db: %v", err)
	}
	if stats.TotalRequests != 0 || stats.TotalTokens != 0 {
		t.Errorf("expected zeros, got %+v", stats)
	}

	daily, err := backend.QueryDailyStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryDailyStats on empty db: %v", err)
	}
	if len(daily) != 0 {
		t.Errorf("expected no days, got %+v", daily)
	}

	endpoints, err := backend.QueryEndpointStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryEndpointStats on empty db: %v", err)
	}
	if len(endpoints) != 0 {
		t.Errorf("expected no endpoints, got %+v", endpoints)
	}
}

func TestSQLiteBackendSinceFilter(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	recs := testRecords()
	for _, rec := range recs {
		backend.Enqueue(rec)
	}
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// Only the 11:00 record is at or after this cutoff.
	since := time.Date(2025, 3, 14, 10, 45, 0, 0, time.UTC)
	stats, err := backend.QueryGlobalStats(ctx, since)
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if stats.TotalRequests != 1 || stats.FailureCount != 1 {
		t.Errorf("unexpected filtered stats: %+v", stats)
	}
}

func TestSQLiteBackendCleanup(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	now := time.Now().UTC()
	backend.Enqueue(Record{Endpoint: "responses", Model: "gpt-5", RequestedAt: now.Add(-48 * time.Hour), TotalTokens: 10})
	backend.Enqueue(Record{Endpoint: "responses", Model: "gpt-5", RequestedAt: now.Add(-time.Hour), TotalTokens: 20})
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deleted, err := backend.Cleanup(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if stats.TotalRequests != 1 || stats.TotalTokens != 20 {
		t.Errorf("unexpected stats after cleanup: %+v", stats)
	}
}

func TestSQLiteBackendStopDrainsQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	backend, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if err := backend.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	backend.Enqueue(Record{Endpoint: "responses", Model: "gpt-5", RequestedAt: time.Now().UTC(), TotalTokens: 42})
	if err := backend.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	reopened, err := NewSQLiteBackend(path, BackendConfig{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Stop()

	stats, err := reopened.QueryGlobalStats(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("QueryGlobalStats: %v", err)
	}
	if stats.TotalRequests != 1 || stats.TotalTokens != 42 {
		t.Errorf("expected drained record to persist, got %+v", stats)
	}
}

func TestTrackerObserveDefaults(t *testing.T) {
	backend := newTestBackend(t)
	tracker := NewTracker(backend)
	ctx := context.Background()

	tracker.Observe(Record{InputTokens: 10, OutputTokens: 5})
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	counters := tracker.Counters()
	if counters.TotalRequests != 1 || counters.TotalTokens != 15 {
		t.Errorf("unexpected counters: %+v", counters)
	}
	if counters.LastRequestAt == nil {
		t.Error("expected last request time to be stamped")
	}

	models, err := backend.QueryModelStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryModelStats: %v", err)
	}
	if len(models) != 1 || models[0].Model != "unknown" {
		t.Errorf("expected model to default to unknown, got %+v", models)
	}
	if models[0].TotalTokens != 15 {
		t.Errorf("total tokens = %d, want computed 15", models[0].TotalTokens)
	}

	endpoints, err := backend.QueryEndpointStats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("QueryEndpointStats: %v", err)
	}
	if len(endpoints) != 1 || endpoints[0].Endpoint != "unknown" {
		t.Errorf("expected endpoint to default to unknown, got %+v", endpoints)
	}
}

func TestTrackerDisabled(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.SetEnabled(false)

	tracker.Observe(Record{Endpoint: "responses", Model: "gpt-5", TotalTokens: 100})
	if counters := tracker.Counters(); counters.TotalRequests != 0 {
		t.Errorf("disabled tracker recorded: %+v", counters)
	}
	if tracker.Enabled() {
		t.Error("Enabled() should report false")
	}

	tracker.SetEnabled(true)
	tracker.Observe(Record{Endpoint: "responses", Model: "gpt-5", TotalTokens: 100})
	if counters := tracker.Counters(); counters.TotalRequests != 1 {
		t.Errorf("re-enabled tracker did not record: %+v", counters)
	}
}

func TestTrackerNilSafe(t *testing.T) {
	var tracker *Tracker
	tracker.Observe(Record{Endpoint: "responses"})
	if counters := tracker.Counters(); counters.TotalRequests != 0 {
		t.Errorf("unexpected counters from nil tracker: %+v", counters)
	}
	if tracker.Backend() != nil {
		t.Error("nil tracker should have nil backend")
	}
	if snap := tracker.Snapshot(context.Background(), time.Time{}); snap.TotalRequests != 0 {
		t.Errorf("unexpected snapshot from nil tracker: %+v", snap)
	}
	if err := tracker.Stop(); err != nil {
		t.Errorf("Stop on nil tracker: %v", err)
	}
}

func TestTrackerSnapshotSections(t *testing.T) {
	backend := newTestBackend(t)
	tracker := NewTracker(backend)
	ctx := context.Background()

	for _, rec := range testRecords() {
		tracker.Observe(rec)
	}
	if err := backend.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snap := tracker.Snapshot(ctx, time.Time{})
	if snap.TotalRequests != 3 || snap.SuccessCount != 2 || snap.FailureCount != 1 {
		t.Errorf("unexpected totals: %+v", snap)
	}
	if snap.RequestsByDay["2025-03-14"] != 3 {
		t.Errorf("requests by day = %v", snap.RequestsByDay)
	}
	if snap.TokensByDay["2025-03-14"] != 200 {
		t.Errorf("tokens by day = %v", snap.TokensByDay)
	}
	if snap.RequestsByHour["10"] != 2 || snap.RequestsByHour["11"] != 1 {
		t.Errorf("requests by hour = %v", snap.RequestsByHour)
	}
	if len(snap.Endpoints) != 2 {
		t.Errorf("endpoints = %+v", snap.Endpoints)
	}
	if len(snap.Models) != 2 {
		t.Errorf("models = %+v", snap.Models)
	}
}

func TestTrackerCountersOnlySnapshot(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Observe(Record{Endpoint: "responses", Model: "gpt-5", TotalTokens: 50})

	snap := tracker.Snapshot(context.Background(), time.Time{})
	if snap.TotalRequests != 1 || snap.TotalTokens != 50 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.RequestsByDay != nil || snap.Endpoints != nil {
		t.Errorf("expected no backend sections, got %+v", snap)
	}
}

func TestNewBackendDSN(t *testing.T) {
	if _, err := NewBackend(BackendConfig{DSN: ""}); err == nil {
		t.Error("expected error for empty DSN")
	}
	if _, err := NewBackend(BackendConfig{DSN: "redis://localhost"}); err == nil {
		t.Error("expected error for unsupported DSN")
	}

	backend, err := NewBackend(BackendConfig{DSN: "sqlite://" + filepath.Join(t.TempDir(), "usage.db")})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if _, ok := backend.(*SQLiteBackend); !ok {
		t.Errorf("expected *SQLiteBackend, got %T", backend)
	}
	_ = backend.Stop()
}
