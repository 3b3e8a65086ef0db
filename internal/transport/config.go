// Package transport holds the shared HTTP transport tuning. The gateway
// talks to a small fixed set of hosts (the ChatGPT backend, the auth
// issuer, prompt sources), so the pool is sized for connection reuse per
// host rather than host fan-out.
package transport

import "time"

// Config is the single source of truth for outbound transport settings.
var Config = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	// HTTP/2 specific settings
	H2ReadIdleTimeout            time.Duration
	H2PingTimeout                time.Duration
	H2StrictMaxConcurrentStreams bool
	H2AllowHTTP                  bool
}{
	MaxIdleConns:        256,
	MaxIdleConnsPerHost: 64,
	MaxConnsPerHost:     0, // HTTP/2 multiplexes

	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	// The backend holds the response open while the model thinks; first
	// bytes can take minutes on large contexts.
	ResponseHeaderTimeout: 600 * time.Second,
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,

	// HTTP/2 keepalive pings keep long SSE streams from dying silently.
	H2ReadIdleTimeout:            30 * time.Second,
	H2PingTimeout:                15 * time.Second,
	H2StrictMaxConcurrentStreams: false,
	H2AllowHTTP:                  false,
}
