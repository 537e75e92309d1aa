package geoip

import (
	"errors"
	"net/netip"
	"testing"
)

func TestNewResolverWithoutPath(t *testing.T) {
	r, err := NewResolver("  ")
	if err != nil || r != nil {
		t.Fatalf("NewResolver = %v, %v", r, err)
	}
	if _, err := r.CountryCode("203.0.113.9"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil resolver err = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on nil resolver: %v", err)
	}
}

func TestNewResolverMissingFile(t *testing.T) {
	if _, err := NewResolver(t.TempDir() + "/missing.mmdb"); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestRoutable(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":         true,
		"2001:4860::8888": true,
		"127.0.0.1":       false,
		"10.1.2.3":        false,
		"192.168.0.10":    false,
		"::1":             false,
		"::ffff:10.0.0.1": false,
		"169.254.10.10":   false,
		"::ffff:8.8.4.4":  true,
	}
	for ip, want := range cases {
		if got := routable(netip.MustParseAddr(ip)); got != want {
			t.Errorf("routable(%s) = %v, want %v", ip, got, want)
		}
	}
}
