package usage

import "time"

// Record is one completed request as persisted by a Backend. Endpoint is the
// serving surface ("chat_completions", "completions", "responses",
// "ollama_chat", "ollama_generate"), not the upstream URL.
type Record struct {
	Endpoint        string    `json:"endpoint"`
	Model           string    `json:"model"`
	RequestedAt     time.Time `json:"requested_at"`
	Streamed        bool      `json:"streamed"`
	Failed          bool      `json:"failed"`
	DurationMs      int64     `json:"duration_ms"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	ReasoningTokens int64     `json:"reasoning_tokens"`
	CachedTokens    int64     `json:"cached_tokens"`
	TotalTokens     int64     `json:"total_tokens"`
}

// AggregatedStats represents summary statistics for a time period.
type AggregatedStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	StreamedCount int64 `json:"streamed_count"`
	TotalTokens   int64 `json:"total_tokens"`
}

// DailyStats represents aggregated metrics for a single day.
type DailyStats struct {
	Day      string `json:"day"` // Format: "2006-01-02"
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// HourlyStats represents aggregated metrics for an hour of the day.
type HourlyStats struct {
	Hour     int   `json:"hour"` // 0-23
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// EndpointStats represents aggregated metrics per serving endpoint.
type EndpointStats struct {
	Endpoint        string   `json:"endpoint"`
	Requests        int64    `json:"requests"`
	SuccessCount    int64    `json:"success_count"`
	FailureCount    int64    `json:"failure_count"`
	StreamedCount   int64    `json:"streamed_count"`
	InputTokens     int64    `json:"input_tokens"`
	OutputTokens    int64    `json:"output_tokens"`
	ReasoningTokens int64    `json:"reasoning_tokens"`
	TotalTokens     int64    `json:"total_tokens"`
	AvgDurationMs   int64    `json:"avg_duration_ms"`
	Models          []string `json:"models"`
}

// ModelStats represents aggregated metrics per model.
type ModelStats struct {
	Model           string `json:"model"`
	Requests        int64  `json:"requests"`
	SuccessCount    int64  `json:"success_count"`
	FailureCount    int64  `json:"failure_count"`
	StreamedCount   int64  `json:"streamed_count"`
	InputTokens     int64  `json:"input_tokens"`
	OutputTokens    int64  `json:"output_tokens"`
	ReasoningTokens int64  `json:"reasoning_tokens"`
	CachedTokens    int64  `json:"cached_tokens"`
	TotalTokens     int64  `json:"total_tokens"`
	AvgDurationMs   int64  `json:"avg_duration_ms"`
}

// Snapshot combines counters with database query results for the
// GET /v1/usage response. Map keys are day strings ("2006-01-02") and hour
// strings ("00".."23").
type Snapshot struct {
	TotalRequests int64      `json:"total_requests"`
	SuccessCount  int64      `json:"success_count"`
	FailureCount  int64      `json:"failure_count"`
	StreamedCount int64      `json:"streamed_count"`
	TotalTokens   int64      `json:"total_tokens"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`

	RequestsByDay  map[string]int64 `json:"requests_by_day,omitempty"`
	TokensByDay    map[string]int64 `json:"tokens_by_day,omitempty"`
	RequestsByHour map[string]int64 `json:"requests_by_hour,omitempty"`
	TokensByHour   map[string]int64 `json:"tokens_by_hour,omitempty"`

	Endpoints []EndpointStats `json:"endpoints,omitempty"`
	Models    []ModelStats    `json:"models,omitempty"`
}
