package policy

import (
	"encoding/json"
	"strings"
	"sync/atomic"
)

// Engine evaluates EvaluationContexts against the currently loaded Rules.
// Reload publishes a new Rules snapshot atomically; in-flight evaluations
// always observe a complete rule set, never a torn one.
type Engine struct {
	rules atomic.Pointer[compiledRules]
}

// compiledRules is Rules normalized to lowercase, deduplicated sets, built
// once per load so Evaluate never re-normalizes on the hot path.
type compiledRules struct {
	highRiskTools    map[string]struct{}
	criticalPatterns []string
	highRiskPatterns []string
}

// NewEngine builds an Engine with no rules loaded; Evaluate on an Engine
// with no rules always allows, since there is nothing to compare against.
func NewEngine() *Engine {
	return &Engine{}
}

// Load publishes a new rule set, replacing whatever was previously active.
func (e *Engine) Load(r Rules) {
	e.rules.Store(compile(r))
}

func compile(r Rules) *compiledRules {
	tools := make(map[string]struct{}, len(r.HighRiskTools))
	for _, t := range r.HighRiskTools {
		tools[strings.ToLower(t)] = struct{}{}
	}
	critical := make([]string, len(r.CriticalPatterns))
	for i, p := range r.CriticalPatterns {
		critical[i] = strings.ToLower(p)
	}
	high := make([]string, len(r.HighRiskPatterns))
	for i, p := range r.HighRiskPatterns {
		high[i] = strings.ToLower(p)
	}
	return &compiledRules{highRiskTools: tools, criticalPatterns: critical, highRiskPatterns: high}
}

// Evaluate computes a Decision for evalCtx against the currently loaded
// rules, in the fixed signal order and tie-break rule: any critical-pattern
// signal forces block at critical risk; else any high-risk-* signal forces
// require_approval at high risk; else allow at low risk.
func (e *Engine) Evaluate(evalCtx EvaluationContext) Decision {
	rules := e.rules.Load()
	if rules == nil {
		rules = &compiledRules{}
	}

	haystack := buildHaystack(evalCtx)

	var signals []string

	for _, p := range rules.criticalPatterns {
		if strings.Contains(haystack, p) {
			signals = append(signals, "critical-pattern:"+p)
		}
	}
	for _, name := range evalCtx.ToolNames {
		if _, ok := rules.highRiskTools[strings.ToLower(name)]; ok {
			signals = append(signals, "high-risk-tool:"+strings.ToLower(name))
		}
	}
	for _, p := range rules.highRiskPatterns {
		if strings.Contains(haystack, p) {
			signals = append(signals, "high-risk-pattern:"+p)
		}
	}
	if isAdminSystemWrite(evalCtx.Path, evalCtx.Method) {
		signals = append(signals, "high-risk-path:admin-system")
	}
	modality := evalCtx.Modality
	if modality == "" {
		modality = "text"
	}
	if modality != "text" {
		signals = append(signals, "modality:"+modality)
	}

	return tieBreak(signals)
}

func buildHaystack(evalCtx EvaluationContext) string {
	var sb strings.Builder
	if evalCtx.Body != nil {
		if b, err := json.Marshal(evalCtx.Body); err == nil {
			sb.WriteString(strings.ToLower(string(b)))
			sb.WriteByte(' ')
		}
	}
	sb.WriteString(strings.ToLower(evalCtx.Path))
	sb.WriteByte(' ')
	sb.WriteString(strings.ToLower(strings.Join(evalCtx.ToolNames, " ")))
	return sb.String()
}

func isAdminSystemWrite(path, method string) bool {
	lowerPath := strings.ToLower(path)
	mentionsAdminOrSystem := strings.Contains(lowerPath, "admin") || strings.Contains(lowerPath, "system")
	return mentionsAdminOrSystem && strings.ToUpper(method) != "GET"
}

func tieBreak(signals []string) Decision {
	for _, s := range signals {
		if strings.HasPrefix(s, "critical-pattern:") {
			return Decision{Action: ActionBlock, RiskClass: RiskCritical, MatchedSignals: signals, Reason: "matched a critical pattern"}
		}
	}
	for _, s := range signals {
		if strings.HasPrefix(s, "high-risk-") {
			return Decision{Action: ActionRequireApproval, RiskClass: RiskHigh, MatchedSignals: signals, Reason: "matched a high-risk signal"}
		}
	}
	return Decision{Action: ActionAllow, RiskClass: RiskLow, MatchedSignals: signals, Reason: "no high-risk or critical signals matched"}
}
