package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/diag"
	"github.com/yaananth/chatmock/internal/respstore"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/upstream"
	"github.com/yaananth/chatmock/internal/usage"
)

type stubTokens struct{ err error }

func (s stubTokens) Access(ctx context.Context) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return "test-token", "acct-test", nil
}

// sseBody frames events as data-only SSE lines with a trailing [DONE].
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

// captureServer records upstream request payloads and serves one canned SSE
// body per call, repeating the last one when calls outnumber bodies.
type captureServer struct {
	*httptest.Server
	mu       sync.Mutex
	payloads [][]byte
}

func newCaptureServer(t *testing.T, bodies ...string) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		idx := len(cs.payloads)
		cs.payloads = append(cs.payloads, payload)
		cs.mu.Unlock()
		if idx >= len(bodies) {
			idx = len(bodies) - 1
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, bodies[idx])
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) payload(t *testing.T, i int) gjson.Result {
	t.Helper()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if i >= len(cs.payloads) {
		t.Fatalf("Expected at least %d upstream calls, got %d", i+1, len(cs.payloads))
	}
	return gjson.ParseBytes(cs.payloads[i])
}

func (cs *captureServer) calls() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.payloads)
}

func newTestGateway(t *testing.T, url string, mutate func(*config.Config)) *Gateway {
	t.Helper()
	cfg := config.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return New(Options{
		Config:   cfg,
		Tokens:   stubTokens{},
		Upstream: upstream.NewClient(upstream.Config{URL: url}),
		Usage:    usage.NewTracker(nil),
		Diag:     diag.NewRecorder(64),
	})
}

func drainStream(t *testing.T, s *Stream) string {
	t.Helper()
	var out bytes.Buffer
	for chunk := range s.Frames {
		if chunk.Err != nil {
			t.Fatalf("Unexpected stream error: %v", chunk.Err)
		}
		out.Write(chunk.Data)
	}
	return out.String()
}

func TestChatCompletionAggregate(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.output_text.delta","delta":"Hello"}`,
		`{"type":"response.output_text.delta","delta":" world"}`,
		`{"type":"response.completed","response":{"id":"resp_1","usage":{"input_tokens":7,"output_tokens":3,"total_tokens":10}}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if res.Stream != nil {
		t.Fatal("Expected an aggregated body, got a stream")
	}

	body := gjson.ParseBytes(res.Body)
	if got := body.Get("id").String(); got != "resp_1" {
		t.Errorf("id = %q, want resp_1", got)
	}
	if got := body.Get("object").String(); got != "chat.completion" {
		t.Errorf("object = %q", got)
	}
	if got := body.Get("model").String(); got != "gpt-5" {
		t.Errorf("model = %q", got)
	}
	if got := body.Get("choices.0.message.content").String(); got != "Hello world" {
		t.Errorf("content = %q", got)
	}
	if got := body.Get("choices.0.finish_reason").String(); got != "stop" {
		t.Errorf("finish_reason = %q", got)
	}
	if got := body.Get("usage.total_tokens").Int(); got != 10 {
		t.Errorf("usage.total_tokens = %d", got)
	}

	counters := g.usage.Counters()
	if counters.TotalRequests != 1 || counters.StreamedCount != 0 {
		t.Errorf("counters = %+v, want one non-streamed request", counters)
	}
	if counters.TotalTokens != 10 {
		t.Errorf("counted tokens = %d, want 10", counters.TotalTokens)
	}
}

func TestChatCompletionStream(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.created","response":{"id":"resp_1"}}`,
		`{"type":"response.output_text.delta","delta":"Hello"}`,
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","stream":true,"messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if res.Stream == nil {
		t.Fatal("Expected a stream result")
	}
	if res.Stream.ContentType != "text/event-stream" {
		t.Errorf("content type = %q", res.Stream.ContentType)
	}

	out := drainStream(t, res.Stream)
	if !strings.Contains(out, `"chat.completion.chunk"`) {
		t.Errorf("Expected chunk frames, got %q", out)
	}
	if !strings.Contains(out, "Hello") {
		t.Errorf("Expected content delta in stream, got %q", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Errorf("Expected terminal [DONE], got tail %q", out[max(0, len(out)-40):])
	}

	counters := g.usage.Counters()
	if counters.StreamedCount != 1 || counters.FailureCount != 0 {
		t.Errorf("counters = %+v, want one streamed success", counters)
	}
}

func TestChatCompletionEffortSuffixAndModelEcho(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5-high","messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}

	payload := srv.payload(t, 0)
	if got := payload.Get("model").String(); got != "gpt-5" {
		t.Errorf("upstream model = %q, want gpt-5", got)
	}
	if got := payload.Get("reasoning.effort").String(); got != "high" {
		t.Errorf("upstream reasoning.effort = %q, want high", got)
	}
	if got := payload.Get("store").Bool(); got {
		t.Error("store must never be forwarded as true")
	}
	if !payload.Get("stream").Bool() {
		t.Error("upstream stream must always be true")
	}

	if got := gjson.ParseBytes(res.Body).Get("model").String(); got != "gpt-5-high" {
		t.Errorf("wire model = %q, want the requested name echoed", got)
	}
}

func TestCompletionsAggregateFallbackID(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.output_text.delta","delta":"Hi"}`,
		`{"type":"response.completed"}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.CreateCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","prompt":"say hi"}`),
	})
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}

	body := gjson.ParseBytes(res.Body)
	if got := body.Get("id").String(); got != "cmpl" {
		t.Errorf("id = %q, want cmpl fallback", got)
	}
	if got := body.Get("object").String(); got != "text_completion" {
		t.Errorf("object = %q", got)
	}
	if got := body.Get("choices.0.text").String(); got != "Hi" {
		t.Errorf("text = %q", got)
	}
	if body.Get("usage").Exists() {
		t.Error("usage must be omitted when the backend reported none")
	}
	if !strings.Contains(string(res.Body), `"logprobs":null`) {
		t.Errorf("Expected null logprobs, got %s", res.Body)
	}
}

func TestResponsesAggregateStoresAndThreads(t *testing.T) {
	srv := newCaptureServer(t,
		sseBody(
			`{"type":"response.created","response":{"id":"resp_A"}}`,
			`{"type":"response.output_text.delta","delta":"Answer one"}`,
			`{"type":"response.completed","response":{"id":"resp_A","usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}}}`,
		),
		sseBody(
			`{"type":"response.created","response":{"id":"resp_B"}}`,
			`{"type":"response.output_text.delta","delta":"Answer two"}`,
			`{"type":"response.completed","response":{"id":"resp_B"}}`,
		),
	)
	g := newTestGateway(t, srv.URL, nil)

	first, err := g.CreateResponse(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","input":"first question","store":true,"stream":false}`),
	})
	if err != nil {
		t.Fatalf("First CreateResponse: %v", err)
	}
	body := gjson.ParseBytes(first.Body)
	if got := body.Get("id").String(); got != "resp_A" {
		t.Fatalf("id = %q", got)
	}
	if got := body.Get("output.0.content.0.text").String(); got != "Answer one" {
		t.Errorf("output text = %q", got)
	}
	if got := body.Get("usage.total_tokens").Int(); got != 7 {
		t.Errorf("usage.total_tokens = %d", got)
	}

	stored, err := g.GetResponse(context.Background(), "resp_A")
	if err != nil {
		t.Fatalf("GetResponse after store=true: %v", err)
	}
	if !bytes.Equal(stored, first.Body) {
		t.Error("Stored object differs from the returned body")
	}

	if _, err := g.CreateResponse(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","input":"second question","previous_response_id":"resp_A","stream":false}`),
	}); err != nil {
		t.Fatalf("Second CreateResponse: %v", err)
	}

	payload := srv.payload(t, 1)
	input := payload.Get("input")
	if got := int(input.Get("#").Int()); got != 3 {
		t.Fatalf("Spliced input length = %d, want 3: %s", got, input.Raw)
	}
	if got := input.Get("0.content.0.text").String(); got != "first question" {
		t.Errorf("input[0] = %q", got)
	}
	if got := input.Get("1.role").String(); got != "assistant" {
		t.Errorf("input[1].role = %q", got)
	}
	if got := input.Get("1.content.0.text").String(); got != "Answer one" {
		t.Errorf("input[1] text = %q", got)
	}
	if got := input.Get("2.content.0.text").String(); got != "second question" {
		t.Errorf("input[2] = %q", got)
	}

	// store=false: the object is not retrievable, but the thread is kept.
	if _, err := g.GetResponse(context.Background(), "resp_B"); !errors.Is(err, respstore.ErrNotFound) {
		t.Errorf("GetResponse(resp_B) err = %v, want ErrNotFound", err)
	}
	if _, ok := g.store.Thread("resp_B"); !ok {
		t.Error("Expected a recorded thread for the unstored response")
	}
}

func TestResponsesUnknownThreadIgnored(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	_, err := g.CreateResponse(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","input":"hello","previous_response_id":"resp_gone","stream":false}`),
	})
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if got := int(srv.payload(t, 0).Get("input.#").Int()); got != 1 {
		t.Errorf("input length = %d, want the new turn only", got)
	}
}

func TestResponsesStreamPassthrough(t *testing.T) {
	raw := "data: {\"type\":\"response.created\",\"response\":{\"id\":\"resp_1\"}}\n\n" +
		"data: {\"type\":\"response.unknown_future_event\",\"x\":1}\n\n" +
		"data: [DONE]\n\n"
	srv := newCaptureServer(t, raw)
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.CreateResponse(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","input":"hello"}`),
	})
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	if res.Stream == nil {
		t.Fatal("Expected a stream: responses default to streaming")
	}
	if res.Stream.StatusCode != http.StatusOK {
		t.Errorf("status = %d", res.Stream.StatusCode)
	}

	if out := drainStream(t, res.Stream); out != raw {
		t.Errorf("Passthrough altered the byte stream:\n got %q\nwant %q", out, raw)
	}
}

func TestResponsesFailedEventMaps502(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.failed","response":{"error":{"message":"boom"}}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	_, err := g.CreateResponse(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","input":"hello","stream":false}`),
	})
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *upstream.Error", err)
	}
	if ue.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", ue.StatusCode)
	}
	if got := gjson.ParseBytes(ue.Body).Get("error.message").String(); got != "boom" {
		t.Errorf("error message = %q", got)
	}

	counters := g.usage.Counters()
	if counters.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", counters.FailureCount)
	}
}

func TestUpstreamClientErrorNotRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad token"}}`)
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL, func(c *config.Config) { c.RequestRetry = 2 })

	_, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`),
	})
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *upstream.Error", err)
	}
	if ue.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", ue.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (4xx is not retryable)", calls)
	}
}

func TestRetryRecoversAfterServerError(t *testing.T) {
	prev := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = prev })

	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":{"message":"transient"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"type":"response.output_text.delta","delta":"ok"}`,
			`{"type":"response.completed","response":{"id":"resp_1"}}`,
		))
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL, func(c *config.Config) { c.RequestRetry = 1 })

	res, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion after retry: %v", err)
	}
	if got := gjson.ParseBytes(res.Body).Get("choices.0.message.content").String(); got != "ok" {
		t.Errorf("content = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestAuthErrorSurfaces(t *testing.T) {
	srv := newCaptureServer(t, sseBody(`{"type":"response.completed"}`))
	g := New(Options{
		Config:   config.NewDefaultConfig(),
		Tokens:   stubTokens{err: auth.ErrNoCredentials},
		Upstream: upstream.NewClient(upstream.Config{URL: srv.URL}),
		Usage:    usage.NewTracker(nil),
	})

	_, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`),
	})
	if !errors.Is(err, auth.ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
	if srv.calls() != 0 {
		t.Error("No upstream call expected without credentials")
	}
	if counters := g.usage.Counters(); counters.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", counters.FailureCount)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	srv := newCaptureServer(t, sseBody(`{"type":"response.completed"}`))
	g := newTestGateway(t, srv.URL, nil)

	_, err := g.CreateChatCompletion(context.Background(), Request{Raw: []byte(`{`)})
	var me *translator.MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *translator.MalformedError", err)
	}
	if srv.calls() != 0 {
		t.Error("Malformed bodies must not reach the upstream")
	}
}

func TestOllamaChatAggregateEstimatesUsage(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.output_text.delta","delta":"Hi there"}`,
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.OllamaChat(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","stream":false,"messages":[{"role":"user","content":"hello there friend"}]}`),
	})
	if err != nil {
		t.Fatalf("OllamaChat: %v", err)
	}
	if res.Stream != nil {
		t.Fatal("Expected a single aggregated body")
	}

	body := gjson.ParseBytes(res.Body)
	if !body.Get("done").Bool() {
		t.Error("done = false, want true")
	}
	if got := body.Get("done_reason").String(); got != "stop" {
		t.Errorf("done_reason = %q", got)
	}
	if got := body.Get("message.content").String(); got != "Hi there" {
		t.Errorf("content = %q", got)
	}
	if body.Get("prompt_eval_count").Int() <= 0 {
		t.Error("Expected estimated prompt tokens when the backend reported none")
	}
	if body.Get("eval_count").Int() <= 0 {
		t.Error("Expected estimated completion tokens when the backend reported none")
	}
}

func TestOllamaChatStreamsNDJSON(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.output_text.delta","delta":"Hi"}`,
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	res, err := g.OllamaChat(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("OllamaChat: %v", err)
	}
	if res.Stream == nil {
		t.Fatal("Ollama chat defaults to streaming")
	}
	if res.Stream.ContentType != "application/x-ndjson" {
		t.Errorf("content type = %q", res.Stream.ContentType)
	}

	out := drainStream(t, res.Stream)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := gjson.Parse(lines[len(lines)-1])
	if !last.Get("done").Bool() {
		t.Errorf("Last line must be the done chunk, got %q", lines[len(lines)-1])
	}
}

func TestOllamaTags(t *testing.T) {
	g := newTestGateway(t, "http://unused.invalid", nil)

	tags := g.OllamaTags()
	if len(tags.Models) != 3 {
		t.Fatalf("models = %d, want 3", len(tags.Models))
	}
	for _, m := range tags.Models {
		if !strings.HasSuffix(m.Name, ":latest") {
			t.Errorf("name %q missing :latest tag", m.Name)
		}
		if len(m.Digest) != 64 {
			t.Errorf("digest %q is not a sha256 hex", m.Digest)
		}
		if m.Details.Format != "gguf" {
			t.Errorf("details.format = %q", m.Details.Format)
		}
	}
}

func TestOllamaShow(t *testing.T) {
	g := newTestGateway(t, "http://unused.invalid", nil)

	show, err := g.OllamaShow([]byte(`{"name":"gpt-5:latest"}`))
	if err != nil {
		t.Fatalf("OllamaShow: %v", err)
	}
	found := false
	for _, c := range show.Capabilities {
		if c == "tools" {
			found = true
		}
	}
	if !found {
		t.Errorf("capabilities = %v, want tools included", show.Capabilities)
	}

	if _, err := g.OllamaShow([]byte(`{"model":"llama3"}`)); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
}

func TestListModelsVariantExpansion(t *testing.T) {
	g := newTestGateway(t, "http://unused.invalid", nil)
	if got := len(g.ListModels()); got != 3 {
		t.Fatalf("base models = %d, want 3", got)
	}

	g.SetConfig(func() *config.Config {
		c := config.NewDefaultConfig()
		c.ExposeReasoningModels = true
		return c
	}())
	if got := len(g.ListModels()); got != 15 {
		t.Errorf("expanded models = %d, want 15", got)
	}
}

func TestDiagnosticsRecordRequestShaping(t *testing.T) {
	srv := newCaptureServer(t, sseBody(
		`{"type":"response.completed","response":{"id":"resp_1"}}`,
	))
	g := newTestGateway(t, srv.URL, nil)

	_, err := g.CreateChatCompletion(context.Background(), Request{
		Raw: []byte(`{"model":"gpt-5","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`),
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}

	types := make(map[diag.EventType]int)
	for _, ev := range g.diag.Recent(0) {
		types[ev.Type]++
		if ev.Endpoint != "chat_completions" {
			t.Errorf("event %s endpoint = %q", ev.Type, ev.Endpoint)
		}
	}
	if types[diag.EventRequestReceived] != 1 {
		t.Errorf("request_received events = %d", types[diag.EventRequestReceived])
	}
	if types[diag.EventParamStripped] != 1 {
		t.Errorf("param_stripped events = %d", types[diag.EventParamStripped])
	}
	if types[diag.EventAggregated] != 1 {
		t.Errorf("nonstream_aggregated events = %d", types[diag.EventAggregated])
	}
}
