package resilience

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"

	"github.com/yaananth/chatmock/internal/transport"
)

// sharedTransport is the singleton transport for non-proxy requests.
var (
	sharedTransport     *http.Transport
	sharedTransportOnce sync.Once
)

// SharedTransport returns the pooled HTTP/2-enabled transport used for all
// direct outbound calls.
func SharedTransport() *http.Transport {
	sharedTransportOnce.Do(func() {
		sharedTransport = newBaseTransport()
		sharedTransport.DialContext = newDialer().DialContext
	})
	return sharedTransport
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   transport.Config.DialTimeout,
		KeepAlive: transport.Config.KeepAlive,
		DualStack: true,
	}
}

// newBaseTransport builds an http.Transport from the shared tuning. The
// caller sets DialContext for its use case.
func newBaseTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        transport.Config.MaxIdleConns,
		MaxIdleConnsPerHost: transport.Config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     transport.Config.MaxConnsPerHost,
		IdleConnTimeout:     transport.Config.IdleConnTimeout,

		TLSHandshakeTimeout:   transport.Config.TLSHandshakeTimeout,
		ExpectContinueTimeout: transport.Config.ExpectContinueTimeout,
		ResponseHeaderTimeout: transport.Config.ResponseHeaderTimeout,

		ForceAttemptHTTP2: true,

		// Decompression is handled explicitly by the upstream client so
		// Accept-Encoding can advertise zstd and brotli too.
		DisableCompression: true,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,
	}
	configureHTTP2(t)
	return t
}

func configureHTTP2(t *http.Transport) {
	h2Transport, err := http2.ConfigureTransports(t)
	if err != nil {
		return
	}
	h2Transport.ReadIdleTimeout = transport.Config.H2ReadIdleTimeout
	h2Transport.PingTimeout = transport.Config.H2PingTimeout
	h2Transport.StrictMaxConcurrentStreams = transport.Config.H2StrictMaxConcurrentStreams
	h2Transport.AllowHTTP = transport.Config.H2AllowHTTP
}

// ProxyTransport creates a transport routed through an HTTP/HTTPS proxy.
func ProxyTransport(proxyURL *url.URL) *http.Transport {
	t := newBaseTransport()
	t.Proxy = http.ProxyURL(proxyURL)
	t.DialContext = newDialer().DialContext
	return t
}

// SOCKS5Transport creates a transport dialing through a SOCKS5 proxy.
func SOCKS5Transport(dialFunc func(network, addr string) (net.Conn, error)) *http.Transport {
	t := newBaseTransport()
	t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialFunc(network, addr)
	}
	return t
}

// TransportCache caches transports by proxy URL so repeated client
// construction reuses connection pools.
type TransportCache struct {
	mu    sync.RWMutex
	cache map[string]*http.Transport
}

func NewTransportCache() *TransportCache {
	return &TransportCache{
		cache: make(map[string]*http.Transport),
	}
}

// Get returns a cached transport for the proxy URL, or nil.
func (c *TransportCache) Get(proxyURL string) *http.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[proxyURL]
}

// GetOrCreate returns a cached transport or creates and caches a new one.
// An empty proxy URL yields the shared direct transport.
func (c *TransportCache) GetOrCreate(proxyURLStr string) (*http.Transport, error) {
	if proxyURLStr == "" {
		return SharedTransport(), nil
	}

	c.mu.RLock()
	if t := c.cache[proxyURLStr]; t != nil {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	proxyURL, err := url.Parse(proxyURLStr)
	if err != nil {
		return nil, err
	}

	var t *http.Transport
	switch proxyURL.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if proxyURL.User != nil {
			username := proxyURL.User.Username()
			password, _ := proxyURL.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, proxyAuth, proxy.Direct)
		if err != nil {
			return nil, err
		}
		t = SOCKS5Transport(dialer.Dial)
	case "http", "https":
		t = ProxyTransport(proxyURL)
	default:
		return SharedTransport(), nil
	}

	c.mu.Lock()
	c.cache[proxyURLStr] = t
	c.mu.Unlock()

	return t, nil
}

// NewHTTPClient creates an http.Client honoring the configured proxy.
// A zero timeout means no client-level deadline, which streaming callers
// need; they bound reads with contexts instead.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	cache := globalTransportCache()
	tr, err := cache.GetOrCreate(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

var (
	globalCache     *TransportCache
	globalCacheOnce sync.Once
)

func globalTransportCache() *TransportCache {
	globalCacheOnce.Do(func() {
		globalCache = NewTransportCache()
	})
	return globalCache
}
