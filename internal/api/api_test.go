package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/gateway"
	"github.com/yaananth/chatmock/internal/upstream"
	"github.com/yaananth/chatmock/internal/usage"
)

type stubTokens struct{}

func (stubTokens) Access(ctx context.Context) (string, string, error) {
	return "test-token", "acct-test", nil
}

func sseBody(events ...string) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("data: ")
		b.WriteString(ev)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// completedExchange is a minimal successful upstream reply most tests share.
func completedExchange() string {
	return sseBody(
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.output_text.delta","delta":"Hello world"}`,
		`{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":7,"output_tokens":3,"total_tokens":10}}}`,
	)
}

func newUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestServer stands up the full stack: gin front end over a real gateway
// pointed at the given upstream. The usage tracker is shared, as in serve.
func newTestServer(t *testing.T, upstreamURL string, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	tracker := usage.NewTracker(nil)
	gw := gateway.New(gateway.Options{
		Config:   cfg,
		Tokens:   stubTokens{},
		Upstream: upstream.NewClient(upstream.Config{URL: upstreamURL}),
		Usage:    tracker,
	})
	return New(Options{Config: cfg, Gateway: gw, Usage: tracker})
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestRootServesBanner(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)
	w := do(t, s, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != "Ollama is running" {
		t.Errorf("body = %q", got)
	}
}

func TestModelList(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)
	w := do(t, s, http.MethodGet, "/v1/models", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := gjson.Parse(w.Body.String())
	if got := body.Get("object").String(); got != "list" {
		t.Errorf("object = %q", got)
	}
	if got := int(body.Get("data.#").Int()); got != 3 {
		t.Errorf("model count = %d, want 3", got)
	}
}

func TestChatCompletionOverHTTP(t *testing.T) {
	up := newUpstream(t, completedExchange())
	s := newTestServer(t, up.URL, nil)

	w := do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	body := gjson.Parse(w.Body.String())
	if got := body.Get("object").String(); got != "chat.completion" {
		t.Errorf("object = %q", got)
	}
	if got := body.Get("choices.0.message.content").String(); got != "Hello world" {
		t.Errorf("content = %q", got)
	}
}

func TestChatCompletionStreamingOverHTTP(t *testing.T) {
	up := newUpstream(t, completedExchange())
	s := newTestServer(t, up.URL, nil)

	w := do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5","stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("cache control = %q", got)
	}
	out := w.Body.String()
	if !strings.Contains(out, `"object":"chat.completion.chunk"`) {
		t.Errorf("no chunk frames in stream: %s", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Errorf("stream does not end with [DONE]: %q", out)
	}
}

func TestAPIKeyGate(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", func(cfg *config.Config) {
		cfg.APIKeys = []string{"sk-local-1"}
	})

	w := do(t, s, http.MethodGet, "/v1/models", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d", w.Code)
	}
	if got := gjson.Parse(w.Body.String()).Get("error.message").String(); got != "Invalid API key" {
		t.Errorf("message = %q", got)
	}

	w = do(t, s, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer sk-local-1"})
	if w.Code != http.StatusOK {
		t.Errorf("status with bearer key = %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/version", "", map[string]string{"x-api-key": "sk-local-1"})
	if w.Code != http.StatusOK {
		t.Errorf("status with x-api-key = %d", w.Code)
	}

	// Probes must work without credentials.
	w = do(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)
	w := do(t, s, http.MethodPost, "/v1/chat/completions", "{", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Parse(w.Body.String()).Get("error.message").String(); got != "Invalid JSON body" {
		t.Errorf("message = %q", got)
	}
}

func TestResponsesSurfaceDisabled(t *testing.T) {
	off := false
	s := newTestServer(t, "http://127.0.0.1:0", func(cfg *config.Config) {
		cfg.EnableResponsesAPI = &off
	})

	w := do(t, s, http.MethodPost, "/v1/responses", `{"model":"gpt-5","input":"hi"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("POST status = %d", w.Code)
	}
	if got := gjson.Parse(w.Body.String()).Get("error.message").String(); got != "Not found" {
		t.Errorf("message = %q", got)
	}
	w = do(t, s, http.MethodGet, "/v1/responses/resp_x", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("GET status = %d", w.Code)
	}
}

func TestResponseRetrieval(t *testing.T) {
	up := newUpstream(t, sseBody(
		`{"type":"response.created","response":{"id":"resp_A"}}`,
		`{"type":"response.output_text.delta","delta":"Answer"}`,
		`{"type":"response.completed","response":{"id":"resp_A"}}`,
	))
	s := newTestServer(t, up.URL, nil)

	w := do(t, s, http.MethodPost, "/v1/responses",
		`{"model":"gpt-5","input":"question","store":true,"stream":false}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodGet, "/v1/responses/resp_A", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	if got := gjson.Parse(w.Body.String()).Get("id").String(); got != "resp_A" {
		t.Errorf("id = %q", got)
	}

	w = do(t, s, http.MethodGet, "/v1/responses/resp_missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", w.Code)
	}
	if got := gjson.Parse(w.Body.String()).Get("error.message").String(); got != "Not found" {
		t.Errorf("message = %q", got)
	}
}

func TestOllamaShowUnknownModel(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)
	w := do(t, s, http.MethodPost, "/api/show", `{"name":"llama3"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Parse(w.Body.String()).Get("error").String(); got != "model 'llama3' not found" {
		t.Errorf("error = %q", got)
	}
}

func TestOllamaVersionAndTags(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)

	w := do(t, s, http.MethodGet, "/api/version", "", nil)
	if got := gjson.Parse(w.Body.String()).Get("version").String(); got != "0.9.0" {
		t.Errorf("version = %q", got)
	}

	w = do(t, s, http.MethodGet, "/api/tags", "", nil)
	body := gjson.Parse(w.Body.String())
	if got := int(body.Get("models.#").Int()); got != 3 {
		t.Fatalf("tag count = %d, want 3", got)
	}
	if name := body.Get("models.0.name").String(); !strings.HasSuffix(name, ":latest") {
		t.Errorf("first tag = %q, want :latest suffix", name)
	}
}

func TestOllamaChatNDJSON(t *testing.T) {
	up := newUpstream(t, completedExchange())
	s := newTestServer(t, up.URL, nil)

	w := do(t, s, http.MethodPost, "/api/chat",
		`{"model":"gpt-5","stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Errorf("content type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	last := gjson.Parse(lines[len(lines)-1])
	if !last.Get("done").Bool() {
		t.Errorf("last line not done: %s", lines[len(lines)-1])
	}
}

func TestPreflightCORS(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)
	w := do(t, s, http.MethodOptions, "/v1/chat/completions", "", map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Headers": "X-Custom-Header",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "X-Custom-Header" {
		t.Errorf("allow-headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "POST, GET, OPTIONS" {
		t.Errorf("allow-methods = %q", got)
	}
}

func TestRateLimitsWithoutData(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0", nil)
	w := do(t, s, http.MethodGet, "/v1/rate_limits", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := gjson.Parse(w.Body.String()).Get("error.message").String(); got != "No rate limit data recorded yet" {
		t.Errorf("message = %q", got)
	}
}

func TestUsageEndpoint(t *testing.T) {
	up := newUpstream(t, completedExchange())
	s := newTestServer(t, up.URL, nil)

	if w := do(t, s, http.MethodGet, "/v1/usage?since=yesterday", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", w.Code)
	}

	do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`, nil)

	w := do(t, s, http.MethodGet, "/v1/usage", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := gjson.Parse(w.Body.String())
	if got := body.Get("total_requests").Int(); got != 1 {
		t.Errorf("total_requests = %d, want 1", got)
	}
	if got := body.Get("total_tokens").Int(); got != 10 {
		t.Errorf("total_tokens = %d, want 10", got)
	}
}

func TestHealthReport(t *testing.T) {
	up := newUpstream(t, completedExchange())
	s := newTestServer(t, up.URL, nil)
	do(t, s, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`, nil)

	w := do(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := gjson.Parse(w.Body.String())
	if got := body.Get("status").String(); got != "healthy" {
		t.Errorf("status = %q", got)
	}
	if got := body.Get("metrics.requests.total").Int(); got != 1 {
		t.Errorf("requests.total = %d, want 1", got)
	}
	if got := body.Get("metrics.requests.success_rate").Float(); got != 100 {
		t.Errorf("success_rate = %v, want 100", got)
	}
	if !body.Get("metrics.uptime_human").Exists() {
		t.Error("missing uptime_human")
	}
	if got := body.Get("prompt_cache.error").String(); got != "prompt cache not configured" {
		t.Errorf("prompt_cache = %q", got)
	}
}
