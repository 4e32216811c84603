// Package service composes the domain gates into the fixed-order request
// pipeline: egress, capability, model registry, policy, approval, budget.
// Any gate that does not allow short-circuits the remaining gates; the
// invariant registry still records the gates that did run. The channel
// destination gate is owned by Pipeline too but sits outside the fixed
// sequence — see CheckDestination.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clawee/clawee-core/internal/domain/approval"
	"github.com/clawee/clawee-core/internal/domain/audit"
	"github.com/clawee/clawee-core/internal/domain/budget"
	"github.com/clawee/clawee-core/internal/domain/canon"
	"github.com/clawee/clawee-core/internal/domain/capability"
	"github.com/clawee/clawee-core/internal/domain/clawerr"
	"github.com/clawee/clawee-core/internal/domain/destination"
	"github.com/clawee/clawee-core/internal/domain/egress"
	"github.com/clawee/clawee-core/internal/domain/invariant"
	"github.com/clawee/clawee-core/internal/domain/modelregistry"
	"github.com/clawee/clawee-core/internal/domain/policy"
)

var tracer = otel.Tracer("github.com/clawee/clawee-core/internal/service")

// Request is everything the pipeline needs to evaluate one inbound call.
type Request struct {
	Channel           string
	Action            string
	ToolNames         []string
	Path              string
	Method            string
	Modality          string
	Body              map[string]interface{}
	DestinationTarget string
	DestinationHost   string
	ModelID           string
	InputTokens       int64
	OutputTokens      int64

	// NormalizedKeyFields is the subset of the request the approval
	// fingerprint is computed over — callers choose what identifies "the
	// same request" for their protocol (e.g. tool name + normalized args).
	NormalizedKeyFields map[string]interface{}
}

// Outcome is the terminal result of running the pipeline.
type Outcome string

const (
	OutcomeAllowed          Outcome = "allowed"
	OutcomeDenied           Outcome = "denied"
	OutcomeApprovalRequired Outcome = "approval_required"
)

// Result is the pipeline's decision for one Request.
type Result struct {
	Outcome    Outcome
	Err        *clawerr.Error
	RiskClass  policy.RiskClass
	ApprovalID string
}

// Pipeline wires the gates together. Every gate and store field is
// required except Destination (nil makes CheckDestination allow every
// target); Logger and Audit are optional.
type Pipeline struct {
	Egress      *egress.Gate
	Destination *destination.Gate
	Capability  *capability.Gate
	Models      *modelregistry.Registry
	Policy      *policy.Engine
	Approvals   approval.Store
	ApprovalTTL time.Duration
	MaxUses     int
	ApprovalRules approval.Rules
	Budget      *budget.Controller
	Pricing     budget.PricingCatalog
	Invariants  *invariant.Registry
	Logger      *slog.Logger

	// Audit, if set, receives one record per Execute call documenting the
	// terminal outcome. A nil Audit is valid and simply skips logging.
	Audit audit.AuditStore
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Execute runs the fixed gate order and returns the first non-allow
// result, or OutcomeAllowed if every gate passed (the caller still owes
// Record after the upstream forward completes — see Record).
func (p *Pipeline) Execute(ctx context.Context, req Request) (result Result) {
	ctx, span := tracer.Start(ctx, "pipeline.execute")
	defer span.End()
	log := p.logger().With("channel", req.Channel, "action", req.Action)

	now := time.Now()
	defer func() { p.appendAudit(ctx, req, result, now) }()

	// 1. Runtime egress.
	if req.DestinationTarget != "" {
		if res := p.checkEgress(ctx, req); res != nil {
			return *res
		}
	}

	// 2. Capability gate.
	if res := p.checkCapability(ctx, req); res != nil {
		return *res
	}

	// 3. Model registry gate.
	if req.ModelID != "" {
		if res := p.checkModel(ctx, req, now); res != nil {
			return *res
		}
	}

	// 4. Policy engine.
	decision := p.evaluatePolicy(ctx, req)

	// 5. Approval gate.
	if decision.Action == policy.ActionRequireApproval {
		res, err := p.checkApproval(ctx, req, decision, now)
		if err != nil {
			log.Error("approval gate failed", "error", err)
			return Result{Outcome: OutcomeDenied, Err: clawerr.Wrap(clawerr.KindTransientBackend, "approval store error", err).WithGate(string(invariant.IDApprovalGate))}
		}
		if res != nil {
			return *res
		}
	}
	if decision.Action == policy.ActionBlock {
		p.Invariants.Check(invariant.IDPolicyGate, false, decision.Reason, map[string]interface{}{"signals": decision.MatchedSignals})
		return Result{
			Outcome:   OutcomeDenied,
			RiskClass: decision.RiskClass,
			Err:       clawerr.New(clawerr.KindPolicyDeny, decision.Reason).WithGate(string(invariant.IDPolicyGate)),
		}
	}
	p.Invariants.Check(invariant.IDPolicyGate, true, "", nil)

	// 6. Budget controller (projected).
	if req.ModelID != "" {
		if res := p.checkBudgetProjected(ctx, req); res != nil {
			return *res
		}
	}

	return Result{Outcome: OutcomeAllowed, RiskClass: decision.RiskClass}
}

// appendAudit records the terminal outcome of one Execute call. Failures
// to append are logged but never change the decision already returned to
// the caller — audit logging is a side effect of a gate result, not a
// gate of its own.
func (p *Pipeline) appendAudit(ctx context.Context, req Request, result Result, at time.Time) {
	if p.Audit == nil {
		return
	}
	reason := ""
	gateID := ""
	if result.Err != nil {
		reason = result.Err.Error()
		gateID = result.Err.GateID
	}
	toolName := ""
	if len(req.ToolNames) > 0 {
		toolName = req.ToolNames[0]
	}
	fingerprint, err := canon.Fingerprint(req.NormalizedKeyFields)
	if err != nil {
		fingerprint = ""
	}
	rec := audit.AuditRecord{
		Timestamp:   at,
		Channel:     req.Channel,
		Action:      req.Action,
		ToolName:    toolName,
		Decision:    string(result.Outcome),
		GateID:      gateID,
		RiskClass:   string(result.RiskClass),
		Reason:      reason,
		Fingerprint: fingerprint,
	}
	if err := p.Audit.Append(ctx, rec); err != nil {
		p.logger().Error("audit append failed", "error", err)
	}
}

func (p *Pipeline) checkEgress(ctx context.Context, req Request) *Result {
	_, span := tracer.Start(ctx, "pipeline.egress")
	defer span.End()
	decision := p.Egress.Check(ctx, req.DestinationTarget, req.DestinationHost)
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed))
	p.Invariants.Check(invariant.IDEgressGate, decision.Allowed, decision.Reason, map[string]interface{}{"host": req.DestinationHost})
	if decision.Allowed {
		return nil
	}
	return &Result{Outcome: OutcomeDenied, Err: clawerr.New(clawerr.KindEgressDeny, decision.Reason).WithGate(string(invariant.IDEgressGate))}
}

// CheckDestination gates a channel delivery (where a response or side
// effect is routed) against the channel destination policy. It is a
// distinct component from the runtime egress gate in Execute's fixed
// sequence — egress governs outbound network targets the pipeline itself
// dials, destination governs where a caller may route a channel delivery
// — so callers with a channel-delivery path invoke it directly rather
// than through Execute.
func (p *Pipeline) CheckDestination(ctx context.Context, channel, target string) *Result {
	_, span := tracer.Start(ctx, "pipeline.destination")
	defer span.End()
	if p.Destination == nil {
		return nil
	}
	allowed, reason := p.Destination.Check(channel, target)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	if allowed {
		return nil
	}
	return &Result{Outcome: OutcomeDenied, Err: clawerr.New(clawerr.KindDestinationDeny, reason).WithGate("destination")}
}

func (p *Pipeline) checkCapability(ctx context.Context, req Request) *Result {
	_, span := tracer.Start(ctx, "pipeline.capability")
	defer span.End()
	decision := p.Capability.Check(req.Channel, req.Action, req.ToolNames)
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed))
	p.Invariants.Check(invariant.IDCapabilityGate, decision.Allowed, decision.Reason, map[string]interface{}{"denied": decision.Denied})
	if decision.Allowed {
		return nil
	}
	return &Result{Outcome: OutcomeDenied, Err: clawerr.New(clawerr.KindCapabilityDeny, decision.Reason).WithGate(string(invariant.IDCapabilityGate))}
}

func (p *Pipeline) checkModel(ctx context.Context, req Request, now time.Time) *Result {
	_, span := tracer.Start(ctx, "pipeline.model_registry")
	defer span.End()
	modality := modelregistry.Modality(req.Modality)
	if modality == "" {
		modality = modelregistry.ModalityText
	}
	ok, reason := p.Models.Check(req.ModelID, modality, now)
	span.SetAttributes(attribute.Bool("allowed", ok))
	p.Invariants.Check(invariant.IDModelGate, ok, reason, map[string]interface{}{"model_id": req.ModelID})
	if ok {
		return nil
	}
	return &Result{Outcome: OutcomeDenied, Err: clawerr.New(clawerr.KindModelDeny, reason).WithGate(string(invariant.IDModelGate))}
}

func (p *Pipeline) evaluatePolicy(ctx context.Context, req Request) policy.Decision {
	_, span := tracer.Start(ctx, "pipeline.policy")
	defer span.End()
	evalCtx := policy.EvaluationContext{
		ToolNames: req.ToolNames,
		Path:      req.Path,
		Method:    req.Method,
		Modality:  req.Modality,
		Body:      req.Body,
	}
	decision := p.Policy.Evaluate(evalCtx)
	span.SetAttributes(attribute.String("action", string(decision.Action)), attribute.String("risk_class", string(decision.RiskClass)))
	return decision
}

func (p *Pipeline) checkApproval(ctx context.Context, req Request, decision policy.Decision, now time.Time) (*Result, error) {
	_, span := tracer.Start(ctx, "pipeline.approval")
	defer span.End()

	fingerprint, err := canon.Fingerprint(req.NormalizedKeyFields)
	if err != nil {
		return nil, err
	}

	channelAction := req.Channel + ":" + req.Action
	toolPolicy := p.ApprovalRules.Default
	for _, tool := range req.ToolNames {
		toolPolicy = mergePolicy(toolPolicy, p.ApprovalRules.Merge(string(decision.RiskClass), tool, channelAction))
	}
	if len(req.ToolNames) == 0 {
		toolPolicy = p.ApprovalRules.Merge(string(decision.RiskClass), "", channelAction)
	}

	record, err := p.Approvals.GetOrCreatePending(ctx, fingerprint, toolPolicy, p.MaxUses, p.ApprovalTTL, decision.Reason, now)
	if err != nil {
		return nil, err
	}
	record.ExpireIfDue(now)

	if record.Status == approval.StatusApproved {
		consumed, err := p.Approvals.Consume(ctx, record.ID, fingerprint, now)
		if err != nil {
			return nil, err
		}
		if consumed {
			p.Invariants.Check(invariant.IDApprovalGate, true, "", map[string]interface{}{"approval_id": record.ID})
			return nil, nil
		}
	}

	p.Invariants.Check(invariant.IDApprovalGate, false, "awaiting approval", map[string]interface{}{"approval_id": record.ID})
	span.SetAttributes(attribute.String("approval_id", record.ID), attribute.String("status", string(record.Status)))
	return &Result{
		Outcome:    OutcomeApprovalRequired,
		RiskClass:  decision.RiskClass,
		ApprovalID: record.ID,
		Err:        clawerr.New(clawerr.KindApprovalRequired, "approval required: "+decision.Reason).WithGate(string(invariant.IDApprovalGate)),
	}, nil
}

func mergePolicy(a, b approval.Policy) approval.Policy {
	merged := a
	if b.RequiredApprovals > merged.RequiredApprovals {
		merged.RequiredApprovals = b.RequiredApprovals
	}
	roles := make(map[string]struct{})
	for _, r := range merged.RequiredRoles {
		roles[r] = struct{}{}
	}
	for _, r := range b.RequiredRoles {
		roles[r] = struct{}{}
	}
	merged.RequiredRoles = merged.RequiredRoles[:0]
	for r := range roles {
		merged.RequiredRoles = append(merged.RequiredRoles, r)
	}
	return merged
}

func (p *Pipeline) checkBudgetProjected(ctx context.Context, req Request) *Result {
	_, span := tracer.Start(ctx, "pipeline.budget_projected")
	defer span.End()

	cost, err := p.Pricing.CostOf(req.ModelID, req.InputTokens, req.OutputTokens)
	if err != nil {
		p.Invariants.Check(invariant.IDBudgetGate, false, err.Error(), map[string]interface{}{"model_id": req.ModelID})
		return &Result{Outcome: OutcomeDenied, Err: clawerr.Wrap(clawerr.KindBudgetSuspended, "no pricing entry", err).WithGate(string(invariant.IDBudgetGate))}
	}

	allowed, reason := p.Budget.Projected(cost)
	span.SetAttributes(attribute.Bool("allowed", allowed), attribute.Float64("projected_cost", cost))
	p.Invariants.Check(invariant.IDBudgetGate, allowed, reason, map[string]interface{}{"model_id": req.ModelID})
	if allowed {
		return nil
	}
	return &Result{Outcome: OutcomeDenied, Err: clawerr.New(clawerr.KindBudgetSuspended, reason).WithGate(string(invariant.IDBudgetGate))}
}

// Record performs the step-7 post-forward actual-cost accounting: it
// always records the observed cost event, then re-checks both budget
// windows and suspends if the actuals alone cross either cap.
func (p *Pipeline) Record(ctx context.Context, req Request, event budget.CostEvent) (allowed bool, reason string) {
	_, span := tracer.Start(ctx, "pipeline.budget_actual")
	defer span.End()
	allowed, reason = p.Budget.Actual(event)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	p.Invariants.Check(invariant.IDBudgetGate, allowed, reason, map[string]interface{}{"model_id": req.ModelID})
	return allowed, reason
}
