package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicServers are queried when the system resolver fails to resolve the relay host.
var PublicServers = []string{
	"1.1.1.1",         // Cloudflare
	"1.0.0.1",         // Cloudflare
	"8.8.8.8",         // Google
	"8.8.4.4",         // Google
	"9.9.9.9",         // Quad9
	"149.112.112.112", // Quad9
}

// Resolver resolves relay hostnames, falling back to racing public DNS servers.
type Resolver struct {
	Servers       []string
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration

	// lookup is swapped in tests
	lookup func(ctx context.Context, r *net.Resolver, host string) ([]string, error)
}

// NewResolver returns a resolver using PublicServers as fallback.
func NewResolver() *Resolver {
	return &Resolver{
		Servers:       PublicServers,
		LocalTimeout:  time.Second,
		RemoteTimeout: 2 * time.Second,
	}
}

// Lookup resolves a hostname to a single IP address, preferring IPv4.
// IP literals are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ip, err := r.lookupWith(localCtx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	if len(r.Servers) == 0 {
		return "", err
	}
	return r.race(ctx, host)
}

// race queries every public server at once and returns the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ip, err := r.lookupWith(ctx, remoteResolver(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup for %s timed out during public DNS race", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

func (r *Resolver) lookupWith(ctx context.Context, res *net.Resolver, host string) (string, error) {
	lookup := r.lookup
	if lookup == nil {
		lookup = func(ctx context.Context, res *net.Resolver, host string) ([]string, error) {
			return res.LookupHost(ctx, host)
		}
	}

	ips, err := lookup(ctx, res, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

func remoteResolver(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
