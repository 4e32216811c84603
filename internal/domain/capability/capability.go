// Package capability implements the tool/action allow-deny gate: per-scope
// (default or per-channel) rule sets that decide whether a batch of
// requested tool names may proceed.
package capability

import (
	"strings"
	"sync/atomic"
)

// Mode is the fallback disposition for names matched by neither allow nor
// deny sets.
type Mode string

const (
	ModeAllow Mode = "allow"
	ModeDeny  Mode = "deny"
)

// ScopeRule is one scope's allow/deny configuration. Gate.Load lowercases
// all four sets when it compiles a scope, and Check lowercases the names
// it looks up, so matching is case-insensitive.
type ScopeRule struct {
	Mode        Mode     `json:"mode"`
	AllowTools  []string `json:"allow_tools"`
	DenyTools   []string `json:"deny_tools"`
	AllowActions []string `json:"allow_actions"`
	DenyActions []string `json:"deny_actions"`
}

// Rules is the signed capability catalog: a default scope plus optional
// per-channel overrides keyed by channel name.
type Rules struct {
	Default  ScopeRule            `json:"default"`
	Channels map[string]ScopeRule `json:"channels"`
}

// Decision is the per-tool-name outcome of a capability check.
type Decision struct {
	Allowed bool
	Denied  []string // tool names that were denied, in request order
	Reason  string
}

type compiledScope struct {
	mode         Mode
	allowTools   map[string]struct{}
	denyTools    map[string]struct{}
	allowActions map[string]struct{}
	denyActions  map[string]struct{}
}

// Gate evaluates a batch of requested tool names (and a single governing
// action) against the currently loaded Rules. Reload publishes a new
// snapshot atomically.
type Gate struct {
	rules atomic.Pointer[compiledRules]
}

type compiledRules struct {
	defaultScope compiledScope
	channels     map[string]compiledScope
}

// NewGate builds a Gate with no rules loaded; an unloaded Gate denies
// everything, since a capability gate that silently allows before its
// catalog has loaded would defeat the point of the gate.
func NewGate() *Gate {
	return &Gate{}
}

// Load publishes a new Rules snapshot.
func (g *Gate) Load(r Rules) {
	channels := make(map[string]compiledScope, len(r.Channels))
	for ch, scope := range r.Channels {
		channels[ch] = compileScope(scope)
	}
	g.rules.Store(&compiledRules{defaultScope: compileScope(r.Default), channels: channels})
}

func compileScope(s ScopeRule) compiledScope {
	return compiledScope{
		mode:         s.Mode,
		allowTools:   toSet(s.AllowTools),
		denyTools:    toSet(s.DenyTools),
		allowActions: toSet(s.AllowActions),
		denyActions:  toSet(s.DenyActions),
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = struct{}{}
	}
	return out
}

// Check evaluates action (typically "tool.execute") and the batch of
// toolNames under channel's scope, falling back to the default scope if
// channel has no override. A prior deny on action fails the whole batch
// without inspecting individual tool names.
func (g *Gate) Check(channel, action string, toolNames []string) Decision {
	rules := g.rules.Load()
	if rules == nil {
		return Decision{Allowed: false, Reason: "capability gate has no rules loaded"}
	}
	scope := rules.defaultScope
	if channel != "" {
		if override, ok := rules.channels[channel]; ok {
			scope = override
		}
	}

	if action != "" && !resolve(strings.ToLower(action), scope.allowActions, scope.denyActions, scope.mode) {
		return Decision{Allowed: false, Reason: "action " + action + " denied by capability scope"}
	}

	var denied []string
	for _, name := range toolNames {
		if !resolve(strings.ToLower(name), scope.allowTools, scope.denyTools, scope.mode) {
			denied = append(denied, name)
		}
	}
	if len(denied) > 0 {
		return Decision{Allowed: false, Denied: denied, Reason: "one or more requested tools denied by capability scope"}
	}
	return Decision{Allowed: true}
}

// resolve reports whether name is allowed against deny/allow sets with a
// mode fallback: deny-wins, then allow-wins, then mode decides.
func resolve(name string, allow, deny map[string]struct{}, mode Mode) bool {
	if _, ok := deny[name]; ok {
		return false
	}
	if _, ok := allow[name]; ok {
		return true
	}
	return mode == ModeAllow
}
