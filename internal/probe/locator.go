package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"

	"favprobe/internal/config"
	"favprobe/internal/parser"
)

// ErrDiscovery matches every *DiscoveryError
var ErrDiscovery = errors.New("favicon discovery failed")

// DiscoveryError carries the failure of each tier
type DiscoveryError struct {
	Addr   netip.Addr
	Plain  error
	Secure error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover favicon on %s: http: %v; https: %v", e.Addr, e.Plain, e.Secure)
}

func (e *DiscoveryError) Unwrap() []error {
	return []error{e.Plain, e.Secure}
}

func (e *DiscoveryError) Is(target error) bool {
	return target == ErrDiscovery
}

// Discovery is a successfully parsed root page
type Discovery struct {
	Addr       netip.Addr
	PageURL    string // final URL of the root page
	Secure     bool   // found by the https tier
	Host       string // name the https tier connected to
	Page       parser.Page
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

// Locator finds the favicon reference of a host
type Locator struct {
	client    *Client
	resolver  Resolver
	httpPort  int
	httpsPort int
	logger    *slog.Logger
}

// NewLocator creates a Locator using client for page fetches and resolver
// for the reverse lookup of the https tier
func NewLocator(client *Client, resolver Resolver, cfg *config.Config) *Locator {
	return &Locator{
		client:    client,
		resolver:  resolver,
		httpPort:  cfg.HTTPPort,
		httpsPort: cfg.HTTPSPort,
		logger:    client.logger,
	}
}

// Locate fetches http://addr/ and, if that fails for any reason, retries
// once over https against the reverse name of addr.
func (l *Locator) Locate(ctx context.Context, addr netip.Addr) (*Discovery, error) {
	disc, plainErr := l.fetchPage(ctx, "http", hostPort(addr.String(), l.httpPort, 80))
	if plainErr == nil {
		disc.Addr = addr
		return disc, nil
	}
	l.logger.Debug("plain tier failed", "addr", addr, "error", plainErr)

	if err := ctx.Err(); err != nil {
		return nil, &DiscoveryError{Addr: addr, Plain: plainErr, Secure: err}
	}

	name := l.reverseName(ctx, addr)
	disc, secureErr := l.fetchPage(ctx, "https", hostPort(name, l.httpsPort, 443))
	if secureErr != nil {
		l.logger.Debug("secure tier failed", "addr", addr, "host", name, "error", secureErr)
		return nil, &DiscoveryError{Addr: addr, Plain: plainErr, Secure: secureErr}
	}
	disc.Addr = addr
	disc.Secure = true
	disc.Host = name
	return disc, nil
}

// reverseName returns the PTR name of addr, or the address literal when
// there is none
func (l *Locator) reverseName(ctx context.Context, addr netip.Addr) string {
	if l.resolver == nil {
		return addr.String()
	}
	name, err := l.resolver.LookupAddr(ctx, addr)
	if err != nil || name == "" {
		l.logger.Debug("reverse lookup failed, using address", "addr", addr, "error", err)
		return addr.String()
	}
	return name
}

func (l *Locator) fetchPage(ctx context.Context, scheme, host string) (*Discovery, error) {
	root := (&url.URL{Scheme: scheme, Host: host, Path: "/"}).String()

	resp, err := l.client.Get(ctx, root)
	if err != nil {
		return nil, err
	}

	page, err := parser.ParsePage(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Discovery{
		PageURL:    resp.URL,
		Page:       page,
		Header:     resp.Header,
		Body:       resp.Body,
		RemoteAddr: resp.RemoteAddr,
	}, nil
}

// hostPort formats host for a URL authority, omitting the scheme's default port
func hostPort(host string, port, defaultPort int) string {
	if port == defaultPort || port == 0 {
		if a, err := netip.ParseAddr(host); err == nil && a.Is6() {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
