package probe

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"favprobe/internal/config"
	"favprobe/internal/hash"
	"favprobe/internal/parser"
)

// ErrFetch matches every *FetchError
var ErrFetch = errors.New("favicon fetch failed")

// FetchError reports why no digest could be produced
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch favicon %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Outcome is the result of one favicon fetch. Digests is only meaningful
// when Err is nil.
type Outcome struct {
	Addr       netip.Addr
	FaviconURL string
	Digests    hash.Digests
	Data       []byte
	Err        error
}

// OK reports whether the outcome carries a digest
func (o Outcome) OK() bool {
	return o.Err == nil && o.Digests.MD5 != ""
}

// Fetcher downloads and hashes favicons
type Fetcher struct {
	client   *Client
	httpPort int
}

// NewFetcher creates a Fetcher that shares client with the Locator
func NewFetcher(client *Client, cfg *config.Config) *Fetcher {
	return &Fetcher{client: client, httpPort: cfg.HTTPPort}
}

// Fetch retrieves the favicon discovered for addr and hashes the bytes as
// received. A nil disc fetches the conventional /favicon.ico.
func (f *Fetcher) Fetch(ctx context.Context, addr netip.Addr, disc *Discovery) Outcome {
	out := Outcome{Addr: addr}

	ref, pageURL := parser.DefaultIconPath, ""
	if disc != nil {
		ref, pageURL = disc.Page.IconRef, disc.PageURL
	}

	iconURL, err := IconURL(addr, f.httpPort, pageURL, ref)
	if err != nil {
		out.Err = &FetchError{URL: ref, Err: err}
		return out
	}
	out.FaviconURL = iconURL

	resp, err := f.client.Get(ctx, iconURL)
	if err != nil {
		out.Err = &FetchError{URL: iconURL, Err: err}
		return out
	}
	if resp.Truncated {
		out.Err = &FetchError{URL: iconURL, Err: fmt.Errorf("favicon larger than %d bytes", f.client.config.MaxBodySize)}
		return out
	}

	out.Data = resp.Body
	out.Digests = hash.Compute(resp.Body)
	return out
}

// IconURL builds the favicon URL for addr. Backslashes in ref become forward
// slashes; relative references resolve against http://addr plus the path of
// pageURL, absolute ones keep their host and path. The icon is always
// fetched over plain http.
func IconURL(addr netip.Addr, httpPort int, pageURL, ref string) (string, error) {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, `\`, "/"))
	if ref == "" {
		ref = parser.DefaultIconPath
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("malformed favicon reference: %w", err)
	}

	base := &url.URL{Scheme: "http", Host: hostPort(addr.String(), httpPort, 80), Path: "/"}
	if pageURL != "" {
		if page, err := url.Parse(pageURL); err == nil && page.Path != "" {
			base.Path = page.Path
		}
	}

	resolved := base.ResolveReference(refURL)
	switch resolved.Scheme {
	case "http":
	case "https":
		resolved.Scheme = "http"
	default:
		return "", fmt.Errorf("unsupported favicon scheme %q", resolved.Scheme)
	}
	if resolved.Host == "" {
		return "", errors.New("favicon reference has no host")
	}
	resolved.Fragment = ""
	return resolved.String(), nil
}
