// Package login implements the browser-based ChatGPT sign-in: a PKCE
// authorization-code flow against the OpenAI authorization server with a
// loopback callback server, persisting the resulting credential bundle
// to auth.json.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/yaananth/chatmock/internal/auth"
	log "github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/misc"
	"github.com/yaananth/chatmock/internal/oauth/pkce"
)

const (
	callbackPath = "/auth/callback"
	successPath  = "/success"
)

var (
	// ErrPortBusy means another process already holds the callback port,
	// usually a concurrent login run.
	ErrPortBusy = errors.New("login: callback port is already in use")
	// ErrStateMismatch means the callback carried a state parameter that
	// does not belong to this session.
	ErrStateMismatch = errors.New("login: state parameter mismatch")
	// ErrMissingCode means the callback arrived without an authorization code.
	ErrMissingCode = errors.New("login: missing auth code")
)

// Options configures a login flow.
type Options struct {
	// AuthDir is the directory auth.json is written to.
	AuthDir string
	// ClientID identifies this app to the authorization server.
	ClientID string
	// Issuer is the authorization server base URL.
	Issuer string
	// Port is the loopback callback port. The redirect URI registered for
	// the client id uses 1455, so overriding it only works against a
	// non-production issuer.
	Port int
	// NoBrowser prints the authorization URL instead of opening a browser.
	NoBrowser bool
	// HTTPClient performs the token exchanges.
	HTTPClient *http.Client
}

// Session is a single sign-in attempt: one PKCE pair, one state nonce, one
// expected callback.
type Session struct {
	opts   Options
	conf   *oauth2.Config
	codes  *pkce.Codes
	state  string
	client *http.Client

	mu     sync.Mutex
	bundle *auth.Bundle
}

// NewSession generates the PKCE pair and state nonce for one login attempt
// and builds the authorization-code configuration around them.
func NewSession(opts Options) (*Session, error) {
	if opts.ClientID == "" {
		return nil, errors.New("login: oauth client id is required")
	}
	if opts.AuthDir == "" {
		return nil, errors.New("login: auth directory is required")
	}
	opts.Issuer = strings.TrimRight(strings.TrimSpace(opts.Issuer), "/")
	if opts.Issuer == "" {
		opts.Issuer = "https://auth.openai.com"
	}
	if opts.Port <= 0 {
		opts.Port = 1455
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	codes, err := pkce.Generate()
	if err != nil {
		return nil, err
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		return nil, fmt.Errorf("login state generation failed: %w", err)
	}

	return &Session{
		opts: opts,
		conf: &oauth2.Config{
			ClientID:    opts.ClientID,
			RedirectURL: fmt.Sprintf("http://localhost:%d%s", opts.Port, callbackPath),
			Scopes:      []string{"openid", "profile", "email", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.Issuer + "/oauth/authorize",
				TokenURL:  opts.Issuer + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		codes:  codes,
		state:  state,
		client: opts.HTTPClient,
	}, nil
}

// AuthURL returns the authorization URL the user's browser must visit.
func (s *Session) AuthURL() string {
	return s.conf.AuthCodeURL(s.state,
		oauth2.SetAuthURLParam("code_challenge", s.codes.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
		oauth2.SetAuthURLParam("codex_cli_simplified_flow", "true"),
	)
}

// Complete validates the callback parameters, exchanges the authorization
// code for tokens, optionally trades the id token for an API key, and
// persists the resulting bundle to disk.
func (s *Session) Complete(ctx context.Context, code, state string) (*auth.Bundle, error) {
	if state != s.state {
		return nil, ErrStateMismatch
	}
	if code == "" {
		return nil, ErrMissingCode
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.conf.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", s.codes.CodeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange failed: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	idClaims, _ := auth.ParseJWTClaims(idToken)

	bundle := &auth.Bundle{
		Tokens: auth.TokenData{
			IDToken:      idToken,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			AccountID:    auth.AccountIDFromClaims(idClaims),
		},
		LastRefresh: auth.NowStamp(),
	}

	// Only accounts carrying organization and project claims can mint an
	// API key. Everyone else gets tokens only, and a failed mint is not a
	// failed login.
	if key, err := s.exchangeAPIKey(ctx, idToken, idClaims); err != nil {
		log.Warnf("api key exchange failed, continuing with tokens only: %v", err)
	} else {
		bundle.APIKey = key
	}

	if err := auth.Save(s.opts.AuthDir, bundle); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}

	s.mu.Lock()
	s.bundle = bundle
	s.mu.Unlock()
	return bundle, nil
}

// Bundle returns the credentials captured by a completed session, or nil.
func (s *Session) Bundle() *auth.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle
}
