// Package destination gates outbound channel deliveries against per-channel
// regex allow/deny lists, compiled once at load time.
package destination

import (
	"regexp"
	"sync/atomic"

	"github.com/clawee/clawee-core/internal/domain/clawerr"
)

// Mode is the fallback disposition when a target matches neither the
// allow nor the deny pattern list.
type Mode string

const (
	ModeAllow Mode = "allow"
	ModeDeny  Mode = "deny"
)

// ScopeRules is one scope's (default or per-channel) regex configuration,
// as loaded from the signed destination-policy catalog before compilation.
type ScopeRules struct {
	Mode    Mode     `json:"mode"`
	Allow   []string `json:"allow"`
	Deny    []string `json:"deny"`
}

// Rules is the signed destination-policy catalog: a default scope plus
// optional per-channel overrides.
type Rules struct {
	Default  ScopeRules            `json:"default"`
	Channels map[string]ScopeRules `json:"channels"`
}

type compiledScope struct {
	mode  Mode
	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// Gate evaluates a destination string (e.g. a URL or channel target
// address) against the currently loaded Rules.
type Gate struct {
	rules atomic.Pointer[compiledRules]
}

type compiledRules struct {
	defaultScope compiledScope
	channels     map[string]compiledScope
}

// NewGate builds a Gate with no rules loaded; an unloaded Gate denies
// everything.
func NewGate() *Gate {
	return &Gate{}
}

// Load compiles every pattern in r. Compilation is total: a single invalid
// regex anywhere in the catalog fails the entire load and the gate keeps
// serving its previously loaded rules (the caller is responsible for not
// publishing on error, matching the catalog hot-reload invariant).
func (g *Gate) Load(r Rules) error {
	defaultScope, err := compileScope(r.Default)
	if err != nil {
		return clawerr.Wrap(clawerr.KindConfiguration, "destination: default scope failed to compile", err).WithGate("destination")
	}
	channels := make(map[string]compiledScope, len(r.Channels))
	for ch, scope := range r.Channels {
		cs, err := compileScope(scope)
		if err != nil {
			return clawerr.Wrap(clawerr.KindConfiguration, "destination: channel "+ch+" scope failed to compile", err).WithGate("destination")
		}
		channels[ch] = cs
	}
	g.rules.Store(&compiledRules{defaultScope: defaultScope, channels: channels})
	return nil
}

func compileScope(s ScopeRules) (compiledScope, error) {
	allow, err := compileAll(s.Allow)
	if err != nil {
		return compiledScope{}, err
	}
	deny, err := compileAll(s.Deny)
	if err != nil {
		return compiledScope{}, err
	}
	return compiledScope{mode: s.Mode, allow: allow, deny: deny}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Check evaluates target under channel's scope (falling back to the
// default scope). Deny match wins; otherwise under mode=deny an allow
// match is required; under mode=allow the target is allowed unless an
// allowlist is configured and nothing in it matches.
func (g *Gate) Check(channel, target string) (bool, string) {
	rules := g.rules.Load()
	if rules == nil {
		return false, "destination gate has no rules loaded"
	}
	scope := rules.defaultScope
	if channel != "" {
		if override, ok := rules.channels[channel]; ok {
			scope = override
		}
	}

	for _, re := range scope.deny {
		if re.MatchString(target) {
			return false, "target matched a deny pattern"
		}
	}

	matchesAllow := matchesAny(scope.allow, target)

	if scope.mode == ModeDeny {
		if !matchesAllow {
			return false, "mode=deny and target matched no allow pattern"
		}
		return true, ""
	}

	// mode == allow
	if len(scope.allow) > 0 && !matchesAllow {
		return false, "allowlist configured and target matched no allow pattern"
	}
	return true, ""
}

func matchesAny(patterns []*regexp.Regexp, target string) bool {
	for _, re := range patterns {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}
