// Package gateway executes client requests end to end: translate the body
// into the upstream Responses dialect, attach ChatGPT credentials, drive the
// upstream stream and project the reply back onto the surface the client
// spoke. Each exported method is one operation; the HTTP layer only routes,
// authenticates clients and encodes errors.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/diag"
	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/limits"
	"github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/prompts"
	"github.com/yaananth/chatmock/internal/registry"
	"github.com/yaananth/chatmock/internal/resilience"
	"github.com/yaananth/chatmock/internal/respstore"
	"github.com/yaananth/chatmock/internal/session"
	"github.com/yaananth/chatmock/internal/streamutil"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/translator/ir"
	"github.com/yaananth/chatmock/internal/upstream"
	"github.com/yaananth/chatmock/internal/usage"
)

// Endpoint labels shared by diagnostics and usage records.
const (
	endpointChat           = "chat_completions"
	endpointCompletions    = "completions"
	endpointResponses      = "responses"
	endpointOllamaChat     = "ollama_chat"
	endpointOllamaGenerate = "ollama_generate"
)

const (
	contentTypeSSE    = "text/event-stream"
	contentTypeNDJSON = "application/x-ndjson"
)

// retryBaseDelay seeds the exponential backoff between upstream attempts.
var retryBaseDelay = time.Second

// TokenSource supplies upstream credentials. *token.Manager satisfies it.
type TokenSource interface {
	Access(ctx context.Context) (accessToken, accountID string, err error)
}

// Options wires a Gateway. Config, Tokens and Upstream are required; nil
// optional collaborators disable their feature.
type Options struct {
	Config    *config.Config
	Tokens    TokenSource
	Upstream  *upstream.Client
	Prompts   *prompts.Cache
	Sessions  *session.Cache
	Responses *respstore.Store
	Limits    *limits.Tracker
	Usage     *usage.Tracker
	Diag      *diag.Recorder
	Catalog   *registry.Catalog
}

// Gateway is safe for concurrent use. Configuration is swapped atomically on
// reload; each request works against the snapshot it started with.
type Gateway struct {
	cfg      atomic.Pointer[config.Config]
	tokens   TokenSource
	client   *upstream.Client
	prompts  *prompts.Cache
	sessions *session.Cache
	store    *respstore.Store
	limits   *limits.Tracker
	usage    *usage.Tracker
	diag     *diag.Recorder
	catalog  *registry.Catalog

	// retryBudget bounds retries across in-flight requests so a failing
	// upstream cannot multiply load through simultaneous retry loops.
	retryBudget *resilience.RetryBudget
}

// New assembles a Gateway from its collaborators.
func New(opts Options) *Gateway {
	g := &Gateway{
		tokens:      opts.Tokens,
		client:      opts.Upstream,
		prompts:     opts.Prompts,
		sessions:    opts.Sessions,
		store:       opts.Responses,
		limits:      opts.Limits,
		usage:       opts.Usage,
		diag:        opts.Diag,
		catalog:     opts.Catalog,
		retryBudget: resilience.NewRetryBudget(50),
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	g.cfg.Store(cfg)
	if g.sessions == nil {
		g.sessions = session.NewCache(session.DefaultMaxEntries)
	}
	if g.store == nil {
		g.store = respstore.New(respstore.Options{})
	}
	if g.catalog == nil {
		g.catalog = registry.NewCatalog()
	}
	return g
}

// SetConfig swaps the active configuration. In-flight requests keep the
// snapshot they started with.
func (g *Gateway) SetConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	g.cfg.Store(cfg)
}

func (g *Gateway) snapshot() *config.Config {
	return g.cfg.Load()
}

// Request is one client call as received by the HTTP layer.
type Request struct {
	// Raw is the request body verbatim.
	Raw []byte
	// SessionID optionally pins the prompt cache key (X-Session-Id header).
	SessionID string
	// UserAgent tags compatibility conversions in diagnostics.
	UserAgent string
}

// Stream is a live client-bound stream. Frames closes when the stream ends;
// canceling the request context aborts production.
type Stream struct {
	StatusCode  int
	ContentType string
	Frames      <-chan streamutil.Chunk
}

// Result is one finished operation: either an encoded body or a live stream.
type Result struct {
	Body   []byte
	Stream *Stream
}

func (g *Gateway) translatorOpts(cfg *config.Config) translator.Options {
	return translator.Options{
		DebugModel:         cfg.DebugModel,
		ReasoningEffort:    cfg.ReasoningEffort,
		ReasoningSummary:   cfg.ReasoningSummary,
		ReasoningCompat:    cfg.ReasoningCompat,
		DefaultWebSearch:   cfg.DefaultWebSearch,
		NoBaseInstructions: cfg.NoBaseInstructions,
	}
}

// ListModels returns the catalog, expanded per effort level when configured.
func (g *Gateway) ListModels() []registry.Model {
	return g.catalog.Models(g.snapshot().ExposeReasoningModels)
}

// GetResponse serves a locally stored response object by id.
func (g *Gateway) GetResponse(ctx context.Context, id string) (json.RawMessage, error) {
	reqID := newRequestID()
	obj, err := g.store.Get(ctx, id)
	g.diag.ResponseFetched(reqID, id, err == nil)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// instructionsFor resolves the managed instruction document, falling back to
// the built-in copy when no prompt cache is wired.
func (g *Gateway) instructionsFor(ctx context.Context, key string) string {
	if g.prompts != nil {
		return g.prompts.Get(ctx, key)
	}
	return prompts.BuiltinDefault(key)
}

func newRequestID() string {
	return uuid.NewString()
}

// exchange carries one request through translation, upstream call and
// projection. It records the usage outcome exactly once.
type exchange struct {
	g        *Gateway
	cfg      *config.Config
	reqID    string
	endpoint string
	started  time.Time

	tr            *translator.Translation
	wireModel     string
	clientSession string

	// instructions is the managed document; empty in verbatim mode.
	instructions     string
	instructionsUsed bool
	sessionID        string

	observeOnce sync.Once
}

type translateFunc func(raw []byte, opts translator.Options) (*translator.Translation, error)

// prepare translates the body and emits the request-shaping diagnostics.
// The prompt cache key is resolved here; the session id waits until open so
// thread splicing can extend the input first.
func (g *Gateway) prepare(ctx context.Context, endpoint string, req Request, translate translateFunc) (*exchange, error) {
	cfg := g.snapshot()
	reqID := newRequestID()
	g.diag.RequestReceived(reqID, endpoint, len(req.Raw))

	tr, err := translate(req.Raw, g.translatorOpts(cfg))
	if err != nil {
		return nil, err
	}
	g.diag.ParamsStripped(reqID, endpoint, tr.StrippedParams)
	g.diag.RefsSanitized(reqID, endpoint, tr.SanitizedRefs)
	if tr.CompatConverted {
		g.diag.CompatConverted(reqID, endpoint, req.UserAgent)
	}

	ex := &exchange{
		g:             g,
		cfg:           cfg,
		reqID:         reqID,
		endpoint:      endpoint,
		started:       time.Now(),
		tr:            tr,
		clientSession: req.SessionID,
	}
	ex.wireModel = tr.RequestedModel
	if ex.wireModel == "" {
		ex.wireModel = tr.Model
	}
	if !tr.VerbatimInstructions {
		ex.instructions = g.instructionsFor(ctx, tr.PromptKey)
		ex.instructionsUsed = ex.instructions != ""
	}
	return ex, nil
}

// effectiveInstructions is the text that reaches the upstream instructions
// field, used for session keying and token estimation.
func (ex *exchange) effectiveInstructions() string {
	if ex.tr.VerbatimInstructions {
		return ex.tr.ClientInstructions
	}
	return ex.instructions
}

// open performs the upstream call, retrying failures that happen before any
// bytes have streamed when request-retry is configured. Rate-limit headers
// are recorded on success and error replies alike.
func (ex *exchange) open(ctx context.Context) (*upstream.Response, error) {
	ex.sessionID = ex.g.sessions.Ensure(ex.effectiveInstructions(), ex.tr.InputItems, ex.clientSession)

	payload, err := translator.BuildPayload(ex.tr, ex.instructions, ex.sessionID)
	if err != nil {
		ex.finish(false, true, nil)
		return nil, err
	}

	accessToken, accountID, err := ex.g.tokens.Access(ctx)
	if err != nil {
		ex.finish(false, true, nil)
		return nil, err
	}

	if ex.g.limits != nil {
		if err := ex.g.limits.Wait(ctx); err != nil {
			ex.finish(false, true, nil)
			return nil, err
		}
	}

	req := upstream.Request{
		Payload:     payload,
		AccessToken: accessToken,
		AccountID:   accountID,
		SessionID:   ex.sessionID,
	}

	retries := ex.cfg.RequestRetry
	if retries < 0 {
		retries = 0
	}
	maxDelay := time.Duration(ex.cfg.MaxRetryInterval) * time.Second
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	for attempt := 0; ; attempt++ {
		resp, err := ex.g.client.Stream(ctx, req)
		if err == nil {
			if ex.g.limits != nil {
				ex.g.limits.Record(resp.Header)
			}
			return resp, nil
		}

		var ue *upstream.Error
		if errors.As(err, &ue) {
			if ex.g.limits != nil {
				ex.g.limits.Record(ue.Header)
			}
			ex.g.diag.UpstreamError(ex.reqID, ex.endpoint, ex.tr.Model, ue.StatusCode, ue.Body)
			ex.maybeInvalidatePrompt(ue)
		}

		if attempt >= retries || !retryable(err) || ctx.Err() != nil {
			ex.finish(false, true, nil)
			return nil, err
		}
		if !ex.g.retryBudget.TryAcquire() {
			logging.Warn("Upstream retry budget exhausted, failing without retry")
			ex.finish(false, true, nil)
			return nil, err
		}

		delay := resilience.CalculateBackoffNoJitter(attempt, retryBaseDelay, maxDelay)
		logging.Warnf("Upstream call failed (attempt %d/%d), retrying in %s: %v", attempt+1, retries+1, delay, err)
		waitErr := resilience.WaitWithContext(ctx, delay)
		ex.g.retryBudget.Release()
		if waitErr != nil {
			ex.finish(false, true, nil)
			return nil, waitErr
		}
	}
}

// retryable reports whether a fresh attempt could help: transport failures,
// 429 and 5xx qualify; other client errors and an open breaker do not.
func retryable(err error) bool {
	if errors.Is(err, upstream.ErrCircuitOpen) {
		return false
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		return ue.StatusCode >= 500 || ue.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// maybeInvalidatePrompt bans the managed instruction document when the
// upstream error blames the instructions field.
func (ex *exchange) maybeInvalidatePrompt(ue *upstream.Error) {
	if !ex.instructionsUsed || ex.g.prompts == nil {
		return
	}
	msg := ue.Message()
	if !strings.Contains(strings.ToLower(msg), "instruction") {
		return
	}
	ex.g.prompts.MarkInvalid(ex.tr.PromptKey, ex.instructions, msg)
}

// finish records the request outcome. Only the first call counts, so every
// terminal path may report without coordinating.
func (ex *exchange) finish(streamed, failed bool, u *ir.Usage) {
	ex.observeOnce.Do(func() {
		rec := usage.Record{
			Endpoint:    ex.endpoint,
			Model:       ex.tr.Model,
			RequestedAt: ex.started,
			Streamed:    streamed,
			Failed:      failed,
			DurationMs:  time.Since(ex.started).Milliseconds(),
		}
		if u != nil {
			rec.InputTokens = u.InputTokens
			rec.OutputTokens = u.OutputTokens
			rec.ReasoningTokens = u.ReasoningTokens
			rec.TotalTokens = u.Total()
		}
		ex.g.usage.Observe(rec)
	})
}
