// Package token manages the ChatGPT credential at runtime: it serves
// access tokens, refreshes them through the issuer when they near expiry,
// and keeps the in-memory bundle in step with auth.json on disk.
package token

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/resilience"
)

// expiryMargin is how close to the access token's exp claim a refresh is
// forced. The issuer's access tokens live long enough that five minutes of
// slack never causes refresh churn.
const expiryMargin = 5 * time.Minute

// rotationAge forces a refresh once last_refresh is this old, keeping the
// refresh token itself rotating.
const rotationAge = 55 * time.Minute

// refreshTimeout bounds one refresh attempt against the token endpoint.
const refreshTimeout = 30 * time.Second

// Options configures a Manager. Zero durations fall back to defaults.
type Options struct {
	// AuthDir is the directory holding auth.json.
	AuthDir string
	// ClientID is the OAuth client identity.
	ClientID string
	// Issuer is the OAuth issuer base URL.
	Issuer string
	// HTTPClient performs refresh calls. Nil uses a default client.
	HTTPClient *http.Client
	// PreferAPIKey serves the stored API key instead of the access token.
	PreferAPIKey bool
	// RefreshTimeout bounds one refresh attempt. Default 30s.
	RefreshTimeout time.Duration
	// RetryBaseDelay is the transient-retry backoff base. Default 1s.
	RetryBaseDelay time.Duration
}

// Manager is the process-wide credential holder. All accessors are safe
// for concurrent use; at most one refresh is in flight at a time and
// concurrent callers share its outcome.
type Manager struct {
	dir            string
	clientID       string
	issuer         string
	client         *http.Client
	preferAPIKey   bool
	refreshTimeout time.Duration

	exec *resilience.Executor[*auth.Bundle]
	sf   singleflight.Group

	mu     sync.RWMutex
	bundle *auth.Bundle
	loaded bool
}

// NewManager builds a Manager over the credential in opts.AuthDir. The
// bundle is loaded lazily on first use so a missing login surfaces as
// ErrNoCredentials at request time, not at startup.
func NewManager(opts Options) *Manager {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = refreshTimeout
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.RefreshTimeout}
	}
	m := &Manager{
		dir:            opts.AuthDir,
		clientID:       opts.ClientID,
		issuer:         strings.TrimRight(opts.Issuer, "/"),
		client:         client,
		preferAPIKey:   opts.PreferAPIKey,
		refreshTimeout: opts.RefreshTimeout,
	}
	m.exec = resilience.NewExecutor[*auth.Bundle](resilience.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  opts.RetryBaseDelay,
		MaxDelay:   10 * opts.RetryBaseDelay,
		Name:       "token refresh",
		RetryIf: func(err error) bool {
			var te *auth.TransientError
			return errors.As(err, &te)
		},
		AbortOn: []error{auth.ErrReauthRequired},
	}, nil)
	return m
}

// Access returns a valid bearer token and the account id to send with it.
// It refreshes first when the cached token is missing, near expiry, or the
// bundle has not been rotated within the rotation window.
func (m *Manager) Access(ctx context.Context) (accessToken, accountID string, err error) {
	bundle, err := m.current()
	if err != nil {
		return "", "", err
	}

	if m.preferAPIKey && bundle.APIKey != "" {
		return bundle.APIKey, bundle.Tokens.AccountID, nil
	}

	if !needsRefresh(bundle) {
		return bundle.Tokens.AccessToken, bundle.Tokens.AccountID, nil
	}

	refreshed, err := m.refresh(ctx)
	if err != nil {
		return "", "", err
	}
	return refreshed.Tokens.AccessToken, refreshed.Tokens.AccountID, nil
}

// Bundle returns a copy of the current credential, or nil when none is
// loaded and none exists on disk.
func (m *Manager) Bundle() *auth.Bundle {
	bundle, err := m.current()
	if err != nil {
		return nil
	}
	copied := *bundle
	return &copied
}

// APIKey returns the stored platform API key, if the login captured one.
func (m *Manager) APIKey() string {
	bundle, err := m.current()
	if err != nil {
		return ""
	}
	return bundle.APIKey
}

// Reload discards the in-memory bundle so the next access rereads disk.
// The login flow calls this after writing a fresh auth.json.
func (m *Manager) Reload() {
	m.mu.Lock()
	m.bundle = nil
	m.loaded = false
	m.mu.Unlock()
}

func (m *Manager) current() (*auth.Bundle, error) {
	m.mu.RLock()
	if m.loaded && m.bundle != nil {
		b := m.bundle
		m.mu.RUnlock()
		return b, nil
	}
	m.mu.RUnlock()

	bundle, err := auth.Load(m.dir)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.bundle = bundle
	m.loaded = true
	m.mu.Unlock()
	return bundle, nil
}

// needsRefresh applies the refresh triggers to a bundle: no access token,
// exp claim within the margin, or a stale last_refresh.
func needsRefresh(b *auth.Bundle) bool {
	if b.Tokens.AccessToken == "" {
		return true
	}
	if exp, ok := auth.TokenExpiry(b.Tokens.AccessToken); ok {
		if time.Until(exp) < expiryMargin {
			return true
		}
	}
	if lr := auth.ParseStamp(b.LastRefresh); !lr.IsZero() {
		if time.Since(lr) > rotationAge {
			return true
		}
	}
	return false
}

// refresh runs the single-flight refresh. Waiters piggyback on the one
// in-flight call and all receive the same outcome.
func (m *Manager) refresh(ctx context.Context) (*auth.Bundle, error) {
	result, err, _ := m.sf.Do("refresh", func() (any, error) {
		// A waiter that queued behind a finished refresh should not
		// trigger another one.
		bundle, err := m.current()
		if err != nil {
			return nil, err
		}
		if !needsRefresh(bundle) {
			return bundle, nil
		}
		if bundle.Tokens.RefreshToken == "" {
			return nil, auth.ErrReauthRequired
		}

		refreshed, err := m.exec.Execute(ctx, func() (*auth.Bundle, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
			defer cancel()
			return m.doRefresh(attemptCtx, bundle)
		})
		if err != nil {
			if errors.Is(err, auth.ErrReauthRequired) {
				return nil, auth.ErrReauthRequired
			}
			var te *auth.TransientError
			if errors.As(err, &te) {
				return nil, te
			}
			return nil, &auth.TransientError{Err: err}
		}

		if err := auth.Save(m.dir, refreshed); err != nil {
			log.Warnf("token refresh succeeded but persisting auth.json failed: %v", err)
		}
		m.mu.Lock()
		m.bundle = refreshed
		m.loaded = true
		m.mu.Unlock()
		log.Debug("access token refreshed")
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*auth.Bundle), nil
}

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// doRefresh performs one refresh-grant call and folds the result into a
// new bundle. New tokens replace old ones; fields the issuer omits keep
// their previous values.
func (m *Manager) doRefresh(ctx context.Context, old *auth.Bundle) (*auth.Bundle, error) {
	payload, err := json.Marshal(refreshRequest{
		ClientID:     m.clientID,
		GrantType:    "refresh_token",
		RefreshToken: old.Tokens.RefreshToken,
		Scope:        "openid profile email",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.issuer+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &auth.TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &auth.TransientError{Err: fmt.Errorf("read token response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The issuer rejected the refresh token itself; retrying cannot
		// help. The body is not logged verbatim to keep tokens out of logs.
		log.Warnf("token refresh rejected with status %d", resp.StatusCode)
		return nil, auth.ErrReauthRequired
	default:
		return nil, &auth.TransientError{Err: fmt.Errorf("token endpoint status %d", resp.StatusCode)}
	}

	var tr refreshResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &auth.TransientError{Err: fmt.Errorf("parse token response: %w", err)}
	}
	if tr.AccessToken == "" && tr.IDToken == "" {
		return nil, &auth.TransientError{Err: errors.New("token endpoint returned no tokens")}
	}

	updated := *old
	if tr.IDToken != "" {
		updated.Tokens.IDToken = tr.IDToken
	}
	if tr.AccessToken != "" {
		updated.Tokens.AccessToken = tr.AccessToken
	}
	if tr.RefreshToken != "" {
		updated.Tokens.RefreshToken = tr.RefreshToken
	}
	if id := auth.AccountIDFromToken(updated.Tokens.IDToken); id != "" {
		updated.Tokens.AccountID = id
	}
	updated.LastRefresh = auth.NowStamp()
	return &updated, nil
}

// Watch reloads the bundle whenever auth.json changes on disk, picking up
// logins performed by another process. Blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create auth watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic renames replace the file
	// node, which silently detaches a file-level watch.
	if err := watcher.Add(m.dir); err != nil {
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}

	target := auth.FilePath(m.dir)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Debounce: atomic writes produce create+rename bursts.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				m.Reload()
				log.Debug("auth.json changed on disk, credential reloaded")
			})
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("auth watcher: %v", watchErr)
		}
	}
}
