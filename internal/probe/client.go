package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"favprobe/internal/config"
)

// StatusError reports a response outside the 2xx range
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Response is a fully read HTTP response
type Response struct {
	URL        string // final URL after redirects
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool   // body hit MaxBodySize
	RemoteAddr string // address the connection was made to
}

// Client wraps an HTTP client with rate limiting capabilities
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter // nil when unlimited
	tracker    *IPTracker
	config     *config.Config
	logger     *slog.Logger
}

// NewClient creates a new HTTP client with settings suited to scanning
// embedded admin interfaces
func NewClient(cfg *config.Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dialer := &net.Dialer{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tracker := NewIPTracker()

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     BuildTLSConfig(cfg),
		TLSHandshakeTimeout: time.Duration(cfg.TLSHandshakeTimeout) * time.Second,
		DialContext:         tracker.DialContext(dialer),
	}

	if cfg.Proxy != "" {
		if err := configureProxy(transport, dialer, tracker, cfg.Proxy); err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !cfg.FollowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}

	c := &Client{
		httpClient: httpClient,
		tracker:    tracker,
		config:     cfg,
		logger:     logger,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// BuildTLSConfig returns the TLS settings for the secure tier. Appliance
// admin pages often still run TLS 1.0 with CBC suites, so those stay enabled.
func BuildTLSConfig(cfg *config.Config) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS10,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
			tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
			tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		},
	}
}

// configureProxy routes the transport through an HTTP or SOCKS5 proxy
func configureProxy(transport *http.Transport, dialer *net.Dialer, tracker *IPTracker, rawURL string) error {
	proxyURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
		return nil
	case "socks5", "socks5h":
		socks, err := proxy.FromURL(proxyURL, dialer)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return errors.New("SOCKS5 dialer does not support contexts")
		}
		transport.DialContext = tracker.wrap(contextDialer.DialContext)
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}
}

// Get waits for the rate limiter, performs a GET and reads at most
// MaxBodySize bytes of the body. Non-2xx responses return a *StatusError
// together with the response.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(startTime)
	if err != nil {
		c.debug("HTTP request failed", "url", rawURL, "error", err, "duration", elapsed)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}

	out := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		RemoteAddr: c.tracker.Lookup(resp.Request.URL),
	}
	if int64(len(body)) > c.config.MaxBodySize {
		out.Body = body[:c.config.MaxBodySize]
		out.Truncated = true
		c.logger.Warn("response body truncated", "url", rawURL, "max_size", c.config.MaxBodySize)
	}

	c.debug("HTTP request succeeded",
		"url", rawURL,
		"final_url", out.URL,
		"status_code", resp.StatusCode,
		"bytes", len(out.Body),
		"duration", elapsed,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{URL: out.URL, StatusCode: resp.StatusCode}
	}
	return out, nil
}

// wait blocks on the global limiter with the configured timeout
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Duration(c.config.RateLimitTimeout)*time.Second)
	defer waitCancel()

	if err := c.limiter.Wait(waitCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("rate limit wait timeout after %ds", c.config.RateLimitTimeout)
		}
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return nil
}

func (c *Client) debug(msg string, args ...any) {
	c.logger.Debug(msg, args...)
	if c.config.DebugLogger != nil {
		c.config.DebugLogger.Debug(msg, args...)
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
