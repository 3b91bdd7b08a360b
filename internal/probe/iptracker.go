package probe

import (
	"context"
	"net"
	"net/url"
	"sync"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// IPTracker records the remote address each dialed host resolved to
type IPTracker struct {
	ips sync.Map // host or host:port -> IP string
}

// NewIPTracker creates a new IPTracker
func NewIPTracker() *IPTracker {
	return &IPTracker{}
}

// GetIP returns the recorded IP for a hostname, or empty string if not found
func (t *IPTracker) GetIP(hostname string) string {
	if val, ok := t.ips.Load(hostname); ok {
		return val.(string)
	}
	return ""
}

// Lookup returns the recorded IP for the host of u
func (t *IPTracker) Lookup(u *url.URL) string {
	if ip := t.GetIP(u.Host); ip != "" {
		return ip
	}
	return t.GetIP(u.Hostname())
}

// DialContext returns a custom DialContext function that records resolved IPs
func (t *IPTracker) DialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return t.wrap(dialer.DialContext)
}

func (t *IPTracker) wrap(dial dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		if remoteAddr := conn.RemoteAddr(); remoteAddr != nil {
			ip, _, splitErr := net.SplitHostPort(remoteAddr.String())
			if splitErr == nil {
				t.ips.Store(host, ip)
				if port != "" {
					t.ips.Store(net.JoinHostPort(host, port), ip)
				}
			}
		}

		return conn, nil
	}
}
