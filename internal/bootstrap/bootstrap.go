// Package bootstrap prepares the environment shared by chatmock commands:
// .env loading, home-directory resolution, config load with first-run
// initialization, and deployment env overrides.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/yaananth/chatmock/internal/config"
	log "github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/util"
)

// Result is what every command starts from.
type Result struct {
	Config         *config.Config
	ConfigFilePath string
}

// Bootstrap loads .env, resolves the config path (creating a commented
// default at the standard location on first run), loads the config, applies
// environment overrides, and makes sure the state directory exists.
func Bootstrap(configPath string) (*Result, error) {
	loadDotEnv()

	home, err := util.DefaultHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	defaultConfigPath := filepath.Join(home, "config.yaml")

	if configPath == "" {
		configPath = defaultConfigPath
	} else if resolved, errResolve := util.ResolveAuthDir(configPath); errResolve == nil {
		configPath = resolved
	}

	if configPath == defaultConfigPath {
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			autoInitConfig(configPath)
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	cfg.Sanitize()

	if cfg.AuthDir == "" {
		cfg.AuthDir = home
	} else if resolved, errResolve := util.ResolveAuthDir(cfg.AuthDir); errResolve == nil {
		cfg.AuthDir = resolved
	}
	if err := util.EnsureDir(cfg.AuthDir); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", cfg.AuthDir, err)
	}

	return &Result{Config: cfg, ConfigFilePath: configPath}, nil
}

// loadDotEnv picks up a .env in the working directory. Absence is normal.
func loadDotEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	if err := godotenv.Load(filepath.Join(wd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}
}

// ApplyEnvOverrides layers CHATMOCK_* deployment variables over the file
// config, for containers that mount no config file at all.
func ApplyEnvOverrides(cfg *config.Config) {
	if host, ok := lookupEnv("CHATMOCK_HOST"); ok {
		cfg.Host = host
	}
	if port, ok := lookupEnvInt("CHATMOCK_PORT"); ok {
		cfg.Port = port
	}
	if debug, ok := lookupEnvBool("CHATMOCK_DEBUG"); ok {
		cfg.Debug = debug
	}
	if verbose, ok := lookupEnvBool("CHATMOCK_VERBOSE"); ok {
		cfg.Verbose = verbose
	}
	if keys, ok := lookupEnv("CHATMOCK_API_KEYS"); ok {
		cfg.APIKeys = nil
		for _, k := range strings.Split(keys, ",") {
			if trimmed := strings.TrimSpace(k); trimmed != "" {
				cfg.APIKeys = append(cfg.APIKeys, trimmed)
			}
		}
	}
	if proxyURL, ok := lookupEnv("CHATMOCK_PROXY_URL"); ok {
		cfg.ProxyURL = proxyURL
	}
	if dsn, ok := lookupEnv("CHATMOCK_USAGE_DSN"); ok {
		cfg.Usage.DSN = dsn
	}
	if dsn, ok := lookupEnv("CHATMOCK_RESPONSE_STORE_DSN"); ok {
		cfg.ResponseStore.DSN = dsn
	}
	if toFile, ok := lookupEnvBool("CHATMOCK_LOGGING_TO_FILE"); ok {
		cfg.LoggingToFile = toFile
	}
	if retry, ok := lookupEnvInt("CHATMOCK_REQUEST_RETRY"); ok {
		cfg.RequestRetry = retry
	}
	if interval, ok := lookupEnvInt("CHATMOCK_MAX_RETRY_INTERVAL"); ok {
		cfg.MaxRetryInterval = interval
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupEnvInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// autoInitConfig silently creates the default config on first run.
func autoInitConfig(configPath string) {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	if err := os.WriteFile(configPath, config.GenerateDefaultConfigYAML(), 0o600); err != nil {
		return
	}
	fmt.Printf("First run: created config at %s\n", configPath)
}
