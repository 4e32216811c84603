package policy

import "testing"

func testEngine() *Engine {
	e := NewEngine()
	e.Load(Rules{
		HighRiskTools:    []string{"shell_exec", "file_delete"},
		CriticalPatterns: []string{"drop table", "rm -rf /"},
		HighRiskPatterns: []string{"sudo", "chmod 777"},
	})
	return e
}

func TestEvaluateAllowsCleanRequest(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{
		ToolNames: []string{"read_file"},
		Path:      "/api/read",
		Method:    "GET",
	})
	if d.Action != ActionAllow || d.RiskClass != RiskLow {
		t.Fatalf("expected allow/low, got %+v", d)
	}
	if len(d.MatchedSignals) != 0 {
		t.Fatalf("expected no signals, got %v", d.MatchedSignals)
	}
}

func TestEvaluateBlocksCriticalPattern(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{
		ToolNames: []string{"run_sql"},
		Body:      map[string]interface{}{"query": "DROP TABLE users"},
	})
	if d.Action != ActionBlock || d.RiskClass != RiskCritical {
		t.Fatalf("expected block/critical, got %+v", d)
	}
	if d.MatchedSignals[0] != "critical-pattern:drop table" {
		t.Fatalf("unexpected signals: %v", d.MatchedSignals)
	}
}

func TestEvaluateRequiresApprovalForHighRiskTool(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{ToolNames: []string{"shell_exec"}})
	if d.Action != ActionRequireApproval || d.RiskClass != RiskHigh {
		t.Fatalf("expected require_approval/high, got %+v", d)
	}
}

func TestEvaluateAdminSystemPathOnNonGet(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{Path: "/admin/users", Method: "POST"})
	if d.Action != ActionRequireApproval {
		t.Fatalf("expected require_approval for admin POST, got %+v", d)
	}
	found := false
	for _, s := range d.MatchedSignals {
		if s == "high-risk-path:admin-system" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected admin-system signal, got %v", d.MatchedSignals)
	}
}

func TestEvaluateAdminPathOnGetIsSafe(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{Path: "/admin/users", Method: "GET"})
	if d.Action != ActionAllow {
		t.Fatalf("expected allow for admin GET, got %+v", d)
	}
}

func TestEvaluateNonTextModalitySignal(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{Modality: "vision"})
	if d.Action != ActionAllow || d.RiskClass != RiskLow {
		t.Fatalf("expected allow/low for a modality-only signal, got %+v", d)
	}
	if len(d.MatchedSignals) != 1 || d.MatchedSignals[0] != "modality:vision" {
		t.Fatalf("expected modality:vision signal, got %v", d.MatchedSignals)
	}
}

func TestEvaluateWithNoRulesLoadedAllows(t *testing.T) {
	d := NewEngine().Evaluate(EvaluationContext{ToolNames: []string{"anything"}})
	if d.Action != ActionAllow {
		t.Fatalf("expected allow with empty rule set, got %+v", d)
	}
}

func TestEvaluateCriticalOutranksHighRisk(t *testing.T) {
	d := testEngine().Evaluate(EvaluationContext{
		ToolNames: []string{"shell_exec"},
		Body:      map[string]interface{}{"cmd": "rm -rf /"},
	})
	if d.Action != ActionBlock || d.RiskClass != RiskCritical {
		t.Fatalf("expected critical to outrank high-risk, got %+v", d)
	}
}
