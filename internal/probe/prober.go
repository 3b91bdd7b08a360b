package probe

import (
	"context"
	"net/netip"
	"time"

	"favprobe/internal/config"
)

// Result is the outcome of probing one address. Outcome.Err holds the
// *DiscoveryError when the root page could not be fetched, otherwise any
// *FetchError.
type Result struct {
	Addr      netip.Addr
	Discovery *Discovery
	Outcome   Outcome
}

// Prober runs locate then fetch for single addresses
type Prober struct {
	client  *Client
	locator *Locator
	fetcher *Fetcher
	config  *config.Config
}

// NewProber creates a Prober resolving names with the configured resolver
func NewProber(cfg *config.Config) (*Prober, error) {
	return NewProberWithResolver(cfg, NewResolver(cfg.Resolver, time.Duration(cfg.Timeout)*time.Second))
}

// NewProberWithResolver creates a Prober with an explicit resolver
func NewProberWithResolver(cfg *config.Config, resolver Resolver) (*Prober, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Prober{
		client:  client,
		locator: NewLocator(client, resolver, cfg),
		fetcher: NewFetcher(client, cfg),
		config:  cfg,
	}, nil
}

// Close cleans up all resources used by the prober
func (p *Prober) Close() error {
	return p.client.Close()
}

// Probe locates and fetches the favicon of addr
func (p *Prober) Probe(ctx context.Context, addr netip.Addr) Result {
	result := Result{Addr: addr}

	disc, err := p.locator.Locate(ctx, addr)
	if err != nil {
		result.Outcome = Outcome{Addr: addr, Err: err}
		return result
	}
	result.Discovery = disc
	result.Outcome = p.fetcher.Fetch(ctx, addr, disc)

	if result.Outcome.Err != nil {
		p.client.debug("favicon fetch failed", "addr", addr, "url", result.Outcome.FaviconURL, "error", result.Outcome.Err)
	}
	return result
}
