package egress

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
	err   map[string]error
}

func (f *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if err, ok := f.err[host]; ok {
		return nil, err
	}
	return f.addrs[host], nil
}

func TestCheckPolicyAllowSkipsEverything(t *testing.T) {
	g := NewGateWithResolver(&fakeResolver{})
	g.Load(Rules{Policy: PolicyAllow})
	d := g.Check(context.Background(), "https://anything.example", "anything.example")
	if !d.Allowed {
		t.Fatal("expected policy=allow to pass everything")
	}
}

func TestCheckAllowedHostname(t *testing.T) {
	g := NewGateWithResolver(&fakeResolver{})
	g.Load(Rules{Policy: PolicyRestricted, AllowedHostnames: []string{"api.example.com"}})
	d := g.Check(context.Background(), "https://api.example.com/x", "api.example.com")
	if !d.Allowed {
		t.Fatal("expected allowlisted hostname to pass")
	}
}

func TestCheckDirectPrivateIPAllowed(t *testing.T) {
	g := NewGateWithResolver(&fakeResolver{})
	g.Load(Rules{Policy: PolicyRestricted})
	d := g.Check(context.Background(), "http://10.0.0.5", "10.0.0.5")
	if !d.Allowed {
		t.Fatal("expected direct RFC1918 IP to be allowed")
	}
}

func TestCheckDirectPublicIPDenied(t *testing.T) {
	g := NewGateWithResolver(&fakeResolver{})
	g.Load(Rules{Policy: PolicyRestricted})
	d := g.Check(context.Background(), "http://93.184.216.34", "93.184.216.34")
	if d.Allowed {
		t.Fatal("expected direct public IP to be denied")
	}
}

func TestCheckDNSResolvesToPrivateOnlyAllowed(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"internal.example": {{IP: net.ParseIP("192.168.1.10")}},
	}}
	g := NewGateWithResolver(resolver)
	g.Load(Rules{Policy: PolicyRestricted})
	d := g.Check(context.Background(), "http://internal.example", "internal.example")
	if !d.Allowed {
		t.Fatal("expected hostname resolving only to private addresses to be allowed")
	}
}

func TestCheckDNSResolvesToAnyPublicDenied(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"mixed.example": {{IP: net.ParseIP("192.168.1.10")}, {IP: net.ParseIP("8.8.8.8")}},
	}}
	g := NewGateWithResolver(resolver)
	g.Load(Rules{Policy: PolicyRestricted})
	d := g.Check(context.Background(), "http://mixed.example", "mixed.example")
	if d.Allowed {
		t.Fatal("expected hostname with any public resolved address to be denied")
	}
}

func TestCheckDNSLookupErrorDeniesWithReason(t *testing.T) {
	resolver := &fakeResolver{err: map[string]error{"broken.example": errors.New("no such host")}}
	g := NewGateWithResolver(resolver)
	g.Load(Rules{Policy: PolicyRestricted})
	d := g.Check(context.Background(), "http://broken.example", "broken.example")
	if d.Allowed {
		t.Fatal("expected lookup error to deny")
	}
	if d.Reason == "" {
		t.Fatal("expected lookup error reason to be carried on the decision")
	}
}

func TestCheckCachesDenialWithoutReResolving(t *testing.T) {
	calls := 0
	resolver := &countingResolver{fakeResolver: fakeResolver{addrs: map[string][]net.IPAddr{
		"public.example": {{IP: net.ParseIP("8.8.8.8")}},
	}}, calls: &calls}
	g := NewGateWithResolver(resolver)
	g.Load(Rules{Policy: PolicyRestricted, CacheTTL: time.Minute})

	d1 := g.Check(context.Background(), "http://public.example", "public.example")
	d2 := g.Check(context.Background(), "http://public.example", "public.example")
	if d1.Allowed || d2.Allowed {
		t.Fatal("expected both checks to deny")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one DNS lookup due to caching, got %d", calls)
	}
}

type countingResolver struct {
	fakeResolver
	calls *int
}

func (c *countingResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	*c.calls++
	return c.fakeResolver.LookupIPAddr(ctx, host)
}
