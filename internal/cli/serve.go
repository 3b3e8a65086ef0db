package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yaananth/chatmock/internal/api"
	"github.com/yaananth/chatmock/internal/auth/token"
	"github.com/yaananth/chatmock/internal/bootstrap"
	"github.com/yaananth/chatmock/internal/config"
	"github.com/yaananth/chatmock/internal/diag"
	"github.com/yaananth/chatmock/internal/gateway"
	"github.com/yaananth/chatmock/internal/limits"
	"github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/prompts"
	"github.com/yaananth/chatmock/internal/registry"
	"github.com/yaananth/chatmock/internal/respstore"
	"github.com/yaananth/chatmock/internal/session"
	"github.com/yaananth/chatmock/internal/store"
	"github.com/yaananth/chatmock/internal/upstream"
	"github.com/yaananth/chatmock/internal/usage"
)

var (
	serveHost             string
	servePort             int
	serveDebugModel       string
	serveReasoningEffort  string
	serveReasoningSummary string
	serveReasoningCompat  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local OpenAI- and Ollama-compatible server",
	Long: `Run the API server. Requests are fulfilled through the ChatGPT
account captured by 'chatmock login'; flags override the config file.`,
	RunE: func(c *cobra.Command, args []string) error {
		result, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			return err
		}
		cfg := result.Config

		if c.Flags().Changed("host") {
			cfg.Host = serveHost
		}
		if c.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if c.Flags().Changed("debug-model") {
			cfg.DebugModel = serveDebugModel
		}
		if c.Flags().Changed("reasoning-effort") {
			cfg.ReasoningEffort = serveReasoningEffort
		}
		if c.Flags().Changed("reasoning-summary") {
			cfg.ReasoningSummary = serveReasoningSummary
		}
		if c.Flags().Changed("reasoning-compat") {
			cfg.ReasoningCompat = serveReasoningCompat
		}
		if verbose {
			cfg.Verbose = true
		}
		cfg.Sanitize()

		logging.SetDebug(cfg.Debug)
		logging.SetVerbose(cfg.Verbose)
		if err := logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.AuthDir); err != nil {
			return fmt.Errorf("configure log output: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, result.ConfigFilePath)
	},
}

// runServe assembles the collaborator graph and serves until ctx ends.
func runServe(ctx context.Context, cfg *config.Config, configPath string) error {
	home := cfg.AuthDir

	// Pull remotely synced state before anything reads auth.json.
	var remote *store.RemoteStore
	if cfg.RemoteStore.Endpoint != "" {
		r, err := store.NewRemoteStore(cfg.RemoteStore)
		if err != nil {
			logging.WithError(err).Warn("remote store disabled")
		} else {
			remote = r
			syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := remote.SyncDown(syncCtx, home); err != nil {
				logging.WithError(err).Warn("remote store initial sync failed")
			}
			cancel()
		}
	}

	tokens := token.NewManager(token.Options{
		AuthDir:      home,
		ClientID:     cfg.ClientID,
		Issuer:       cfg.Issuer,
		PreferAPIKey: cfg.PreferAPIKey,
	})
	go func() {
		if err := tokens.Watch(ctx); err != nil && ctx.Err() == nil {
			logging.WithError(err).Debug("credential watcher stopped")
		}
	}()

	client := upstream.NewClient(upstream.Config{
		IdleTimeout: time.Duration(cfg.StreamIdleTimeout) * time.Second,
	})

	promptCache, err := prompts.NewCache(prompts.Config{
		Dir:       filepath.Join(home, "prompt_cache"),
		TTL:       time.Duration(cfg.Prompts.TTLHours) * time.Hour,
		AcceptAny: cfg.Prompts.AcceptAny,
	})
	if err != nil {
		return err
	}
	promptCache.DiscoverLocalPrompts()

	storeOpts := respstore.Options{
		MaxResponses: cfg.ResponseStore.MaxEntries,
		ThreadDepth:  cfg.ResponseStore.MaxThreadItems,
	}
	if cfg.ResponseStore.DSN != "" {
		parsed, err := config.ParseDSN(cfg.ResponseStore.DSN)
		if err != nil {
			return fmt.Errorf("response store dsn: %w", err)
		}
		if parsed.Backend != "sqlite" {
			return fmt.Errorf("response store dsn: only sqlite is supported, got %s", parsed.Backend)
		}
		mirror, err := respstore.OpenMirror(parsed.Path)
		if err != nil {
			return err
		}
		mirror.Start()
		defer func() {
			if err := mirror.Stop(); err != nil {
				logging.WithError(err).Warn("response mirror shutdown failed")
			}
		}()
		storeOpts.Mirror = mirror
	}
	responses := respstore.New(storeOpts)

	var pacer *limits.Pacer
	if cfg.PaceUpstream {
		pacer = limits.NewPacer(5, 5)
	}
	limitTracker := limits.NewTracker(filepath.Join(home, "usage_limits.json"), pacer)

	usageTracker := usage.NewTracker(nil)
	if cfg.Usage.DSN != "" {
		flushInterval, _ := time.ParseDuration(cfg.Usage.FlushInterval)
		tracker, err := usage.Initialize(usage.BackendConfig{
			DSN:           cfg.Usage.DSN,
			BatchSize:     cfg.Usage.BatchSize,
			FlushInterval: flushInterval,
			RetentionDays: cfg.Usage.RetentionDays,
		})
		if err != nil {
			logging.WithError(err).Warn("usage backend disabled, keeping in-memory counters")
		} else {
			usageTracker = tracker
		}
	}
	defer func() {
		if err := usageTracker.Stop(); err != nil {
			logging.WithError(err).Warn("usage backend shutdown failed")
		}
	}()

	recorder := diag.NewRecorder(256)

	catalog := registry.NewCatalog()
	if cfg.ModelsOverride != "" {
		if err := catalog.LoadOverrides(cfg.ModelsOverride); err != nil {
			logging.WithError(err).Warnf("models override %s ignored", cfg.ModelsOverride)
		}
	}

	gw := gateway.New(gateway.Options{
		Config:    cfg,
		Tokens:    tokens,
		Upstream:  client,
		Prompts:   promptCache,
		Sessions:  session.NewCache(session.DefaultMaxEntries),
		Responses: responses,
		Limits:    limitTracker,
		Usage:     usageTracker,
		Diag:      recorder,
		Catalog:   catalog,
	})

	srv := api.New(api.Options{
		Config:  cfg,
		Gateway: gw,
		Limits:  limitTracker,
		Usage:   usageTracker,
		Diag:    recorder,
		Prompts: promptCache,
	})

	go config.Watch(ctx, configPath, func(next *config.Config) {
		gw.SetConfig(next)
		srv.SetConfig(next)
		logging.SetDebug(next.Debug)
		logging.SetVerbose(next.Verbose)
	})

	if remote != nil {
		interval := 5 * time.Minute
		if cfg.RemoteStore.SyncInterval != "" {
			if d, err := time.ParseDuration(cfg.RemoteStore.SyncInterval); err == nil && d > 0 {
				interval = d
			}
		}
		go remote.Run(ctx, home, interval)
	}

	return srv.Run(ctx)
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveHost, "host", "127.0.0.1", "listen address")
	f.IntVarP(&servePort, "port", "p", 8000, "listen port")
	f.StringVar(&serveDebugModel, "debug-model", "", "forcibly override the requested model")
	f.StringVar(&serveReasoningEffort, "reasoning-effort", "medium", "reasoning effort (minimal|low|medium|high)")
	f.StringVar(&serveReasoningSummary, "reasoning-summary", "auto", "reasoning summary verbosity (auto|concise|detailed|none)")
	f.StringVar(&serveReasoningCompat, "reasoning-compat", "think-tags", "reasoning exposure mode (legacy|o3|think-tags)")
	rootCmd.AddCommand(serveCmd)
}
