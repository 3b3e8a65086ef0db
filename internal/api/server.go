// Package api serves the OpenAI- and Ollama-compatible HTTP surface over the
// gateway: inference routes, the response store, and the info endpoints
// (health, rate limits, usage, diagnostics tail).
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/diag"
	"github.com/yaananth/chatmock/internal/gateway"
	"github.com/yaananth/chatmock/internal/limits"
	"github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/prompts"
	"github.com/yaananth/chatmock/internal/usage"
)

// Options wires the server's collaborators. Gateway and Config are required;
// the rest degrade to absent sections in the info endpoints.
type Options struct {
	Config  *config.Config
	Gateway *gateway.Gateway
	Limits  *limits.Tracker
	Usage   *usage.Tracker
	Diag    *diag.Recorder
	Prompts *prompts.Cache
}

// Server is the gin front end. Config reads go through an atomic snapshot so
// the watcher can swap settings without a restart; requests in flight keep
// the snapshot they started with.
type Server struct {
	engine  *gin.Engine
	gw      *gateway.Gateway
	cfg     atomic.Pointer[config.Config]
	limits  *limits.Tracker
	usage   *usage.Tracker
	diag    *diag.Recorder
	prompts *prompts.Cache

	startedAt time.Time
}

// New builds the server and registers every route.
func New(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		gw:        opts.Gateway,
		limits:    opts.Limits,
		usage:     opts.Usage,
		diag:      opts.Diag,
		prompts:   opts.Prompts,
		startedAt: time.Now(),
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	s.cfg.Store(cfg)

	s.engine.Use(logging.GinLogrusLogger())
	s.engine.Use(logging.GinLogrusRecovery())
	s.engine.Use(corsMiddleware())
	s.routes()
	return s
}

// SetConfig installs a new config snapshot.
func (s *Server) SetConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	s.cfg.Store(cfg)
}

func (s *Server) snapshot() *config.Config { return s.cfg.Load() }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	// Ollama clients probe the root path for the banner before anything else.
	s.engine.GET("/", s.ollamaRoot)
	s.engine.HEAD("/", s.ollamaRoot)
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/v1", s.apiKeyAuth())
	{
		v1.GET("/models", s.listModels)
		v1.POST("/chat/completions", s.chatCompletions)
		v1.POST("/completions", s.completions)
		v1.POST("/responses", s.responsesEnabled(), s.createResponse)
		v1.GET("/responses/:id", s.responsesEnabled(), s.getResponse)
		v1.GET("/rate_limits", s.rateLimits)
		v1.GET("/usage", s.usageReport)
		v1.GET("/diagnostics/ws", s.diagnosticsWS)
	}

	api := s.engine.Group("/api", s.apiKeyAuth())
	{
		api.GET("/tags", s.ollamaTags)
		api.POST("/chat", s.ollamaChat)
		api.POST("/generate", s.ollamaGenerate)
		api.POST("/show", s.ollamaShow)
		api.GET("/version", s.ollamaVersion)
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests with a
// short grace period.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.snapshot()
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Serving on http://%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	}
}
