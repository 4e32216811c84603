// Package egress implements the runtime egress gate: deciding whether an
// outbound request may reach its resolved destination, guarding against
// SSRF and DNS-rebinding by only ever trusting resolved IPs, never the raw
// hostname, once a lookup has happened.
package egress

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Policy is the top-level disposition: "allow" passes every request
// without inspecting the destination at all; "restricted" applies the
// allowlist/private-address rules below.
type Policy string

const (
	PolicyAllow      Policy = "allow"
	PolicyRestricted Policy = "restricted"
)

// Rules is the signed egress-policy catalog.
type Rules struct {
	Policy           Policy   `json:"policy"`
	AllowedHostnames []string `json:"allowed_hostnames"`
	CacheTTL         time.Duration `json:"cache_ttl"`
}

// Decision is the outcome of a single egress check.
type Decision struct {
	Allowed bool
	Reason  string
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

// Resolver abstracts DNS lookup so tests can substitute a fake without a
// real network. net.DefaultResolver.LookupIPAddr satisfies this shape.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Gate evaluates outbound targets against the currently loaded Rules,
// caching decisions per (target, host) for the configured TTL. A cached
// denial re-throws without re-resolving, matching the spec's explicit
// "cached denials re-throw" rule — this also means a host that starts
// resolving privately after being denied publicly stays denied until the
// cache entry expires.
type Gate struct {
	rules    atomic.Pointer[Rules]
	resolver Resolver

	mu    sync.Mutex
	cache map[string]cacheEntry
}

const defaultCacheTTL = 5 * time.Minute

// NewGate builds a Gate using net.DefaultResolver for DNS lookups.
func NewGate() *Gate {
	return &Gate{resolver: net.DefaultResolver, cache: make(map[string]cacheEntry)}
}

// NewGateWithResolver builds a Gate using a caller-supplied Resolver, for
// tests that must not touch the network.
func NewGateWithResolver(r Resolver) *Gate {
	return &Gate{resolver: r, cache: make(map[string]cacheEntry)}
}

// Load publishes a new Rules snapshot and clears the decision cache, since
// a policy change invalidates any previously cached allow/deny result.
func (g *Gate) Load(r Rules) {
	g.rules.Store(&r)
	g.mu.Lock()
	g.cache = make(map[string]cacheEntry)
	g.mu.Unlock()
}

// Check resolves host (the destination's hostname, no port) and decides
// whether the request may proceed. target is the full destination
// identifier (e.g. scheme://host:port/path) used only as the second half
// of the cache key, so the same host reached via two different target
// paths is cached independently.
func (g *Gate) Check(ctx context.Context, target, host string) Decision {
	rules := g.rules.Load()
	if rules == nil {
		return Decision{Allowed: false, Reason: "egress gate has no rules loaded"}
	}
	if rules.Policy == PolicyAllow {
		return Decision{Allowed: true}
	}

	cacheKey := target + "|" + host
	if cached, ok := g.cachedDecision(cacheKey); ok {
		return cached
	}

	decision := g.evaluate(ctx, rules, host)
	g.storeDecision(cacheKey, decision, rules.CacheTTL)
	return decision
}

func (g *Gate) evaluate(ctx context.Context, rules *Rules, host string) Decision {
	lowerHost := strings.ToLower(host)
	for _, allowed := range rules.AllowedHostnames {
		if strings.ToLower(allowed) == lowerHost {
			return Decision{Allowed: true}
		}
	}

	if ip := net.ParseIP(stripZone(lowerHost)); ip != nil {
		if isPrivate(ip) {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Reason: "destination IP " + ip.String() + " is not private and host is not allowlisted"}
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, lowerHost)
	if err != nil {
		return Decision{Allowed: false, Reason: "DNS lookup failed: " + err.Error()}
	}
	if len(addrs) == 0 {
		return Decision{Allowed: false, Reason: "DNS lookup returned no addresses"}
	}
	for _, a := range addrs {
		if !isPrivate(a.IP) {
			return Decision{Allowed: false, Reason: "host " + host + " resolves to non-private address " + a.IP.String()}
		}
	}
	return Decision{Allowed: true}
}

func stripZone(host string) string {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		return host[:i]
	}
	return host
}

func (g *Gate) cachedDecision(key string) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return Decision{}, false
	}
	return entry.decision, true
}

func (g *Gate) storeDecision(key string, d Decision, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	g.mu.Lock()
	g.cache[key] = cacheEntry{decision: d, expires: time.Now().Add(ttl)}
	g.mu.Unlock()
}

var privateNetworks = mustParseCIDRs([]string{
	"127.0.0.0/8",    // loopback v4
	"10.0.0.0/8",     // RFC1918
	"172.16.0.0/12",  // RFC1918
	"192.168.0.0/16", // RFC1918
	"100.64.0.0/10",  // CGNAT
	"169.254.0.0/16", // link-local v4
	"::1/128",        // loopback v6
	"fe80::/10",      // link-local v6
	"fc00::/7",       // ULA v6
})

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("egress: invalid built-in CIDR " + c + ": " + err.Error())
		}
		out = append(out, n)
	}
	return out
}

func isPrivate(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
