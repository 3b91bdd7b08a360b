package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrNoName is returned when an address has no PTR record
var ErrNoName = errors.New("no reverse name")

// Resolver maps an address back to a host name
type Resolver interface {
	LookupAddr(ctx context.Context, addr netip.Addr) (string, error)
}

// SystemResolver uses the operating system resolver
type SystemResolver struct {
	Resolver *net.Resolver
}

// LookupAddr returns the first PTR name for addr without the trailing dot
func (s SystemResolver) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	names, err := r.LookupAddr(ctx, addr.String())
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if name = strings.TrimSuffix(name, "."); name != "" {
			return name, nil
		}
	}
	return "", ErrNoName
}

// DNSResolver sends PTR queries to a specific DNS server
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver creates a resolver for server (host or host:port, port 53 by default)
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupAddr queries the PTR record of addr
func (d *DNSResolver) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("reverse name for %s: %w", addr, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	in, _, err := d.client.ExchangeContext(ctx, msg, d.server)
	if err != nil {
		return "", fmt.Errorf("PTR query to %s: %w", d.server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		if in.Rcode == dns.RcodeNameError {
			return "", ErrNoName
		}
		return "", fmt.Errorf("PTR query to %s: %s", d.server, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			if name := strings.TrimSuffix(ptr.Ptr, "."); name != "" {
				return name, nil
			}
		}
	}
	return "", ErrNoName
}

// NewResolver picks the DNS server resolver when server is set, the system one otherwise
func NewResolver(server string, timeout time.Duration) Resolver {
	if server == "" {
		return SystemResolver{}
	}
	return NewDNSResolver(server, timeout)
}
