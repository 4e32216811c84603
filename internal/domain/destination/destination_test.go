package destination

import "testing"

func TestCheckDenyPatternWins(t *testing.T) {
	g := NewGate()
	if err := g.Load(Rules{Default: ScopeRules{Mode: ModeAllow, Deny: []string{`^https://evil\.example`}}}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Check("", "https://evil.example/path"); ok {
		t.Fatal("expected deny pattern to win")
	}
}

func TestCheckModeDenyRequiresAllowMatch(t *testing.T) {
	g := NewGate()
	if err := g.Load(Rules{Default: ScopeRules{Mode: ModeDeny, Allow: []string{`^https://good\.example`}}}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Check("", "https://good.example/x"); !ok {
		t.Fatal("expected allow match to pass under mode=deny")
	}
	if ok, _ := g.Check("", "https://other.example/x"); ok {
		t.Fatal("expected non-matching target to fail under mode=deny")
	}
}

func TestCheckModeAllowWithConfiguredAllowlist(t *testing.T) {
	g := NewGate()
	if err := g.Load(Rules{Default: ScopeRules{Mode: ModeAllow, Allow: []string{`^https://good\.example`}}}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Check("", "https://good.example/x"); !ok {
		t.Fatal("expected matching target to pass")
	}
	if ok, _ := g.Check("", "https://other.example/x"); ok {
		t.Fatal("expected non-matching target to fail when an allowlist is configured under mode=allow")
	}
}

func TestCheckModeAllowWithoutAllowlistPassesEverythingNotDenied(t *testing.T) {
	g := NewGate()
	if err := g.Load(Rules{Default: ScopeRules{Mode: ModeAllow}}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Check("", "https://anything.example"); !ok {
		t.Fatal("expected mode=allow with empty allowlist to pass")
	}
}

func TestLoadFailsOnInvalidRegex(t *testing.T) {
	g := NewGate()
	err := g.Load(Rules{Default: ScopeRules{Mode: ModeAllow, Allow: []string{"(unterminated"}}})
	if err == nil {
		t.Fatal("expected compile failure for invalid regex")
	}
}

func TestCheckPerChannelOverride(t *testing.T) {
	g := NewGate()
	err := g.Load(Rules{
		Default: ScopeRules{Mode: ModeAllow},
		Channels: map[string]ScopeRules{
			"slack": {Mode: ModeDeny, Allow: []string{`^https://hooks\.slack\.com`}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := g.Check("slack", "https://hooks.slack.com/services/x"); !ok {
		t.Fatal("expected slack channel allow match to pass")
	}
	if ok, _ := g.Check("slack", "https://example.com"); ok {
		t.Fatal("expected slack channel mode=deny fallback to reject non-matching target")
	}
}
