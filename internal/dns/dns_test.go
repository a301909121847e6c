package dns

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
)

func TestLookupIPLiteral(t *testing.T) {
	r := NewResolver()
	r.lookup = func(context.Context, *net.Resolver, string) ([]string, error) {
		t.Fatalf("IP literal should not hit a resolver")
		return nil, nil
	}

	got, err := r.Lookup(context.Background(), "127.0.0.1")
	if err != nil || got != "127.0.0.1" {
		t.Fatalf("Lookup: got %q, %v", got, err)
	}
}

func TestLookupPrefersIPv4(t *testing.T) {
	r := NewResolver()
	r.lookup = func(context.Context, *net.Resolver, string) ([]string, error) {
		return []string{"::1", "10.1.2.3"}, nil
	}

	got, err := r.Lookup(context.Background(), "relay.local")
	if err != nil || got != "10.1.2.3" {
		t.Fatalf("Lookup: got %q, %v", got, err)
	}
}

func TestLookupFallsBackToPublicRace(t *testing.T) {
	var calls atomic.Int32
	r := NewResolver()
	r.Servers = []string{"192.0.2.1", "192.0.2.2"}
	r.lookup = func(_ context.Context, res *net.Resolver, _ string) ([]string, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("system resolver down")
		}
		if !res.PreferGo {
			t.Errorf("fallback should use a Go resolver dialing the public server")
		}
		return []string{"203.0.113.9"}, nil
	}

	got, err := r.Lookup(context.Background(), "relay.example.com")
	if err != nil || got != "203.0.113.9" {
		t.Fatalf("Lookup: got %q, %v", got, err)
	}
}

func TestLookupAllFail(t *testing.T) {
	r := NewResolver()
	r.Servers = []string{"192.0.2.1"}
	r.lookup = func(context.Context, *net.Resolver, string) ([]string, error) {
		return nil, errors.New("nope")
	}

	if _, err := r.Lookup(context.Background(), "relay.example.com"); err == nil {
		t.Fatalf("expected error")
	}
}
