package cmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clawee/clawee-core/internal/adapter/outbound/audit"
	"github.com/clawee/clawee-core/internal/adapter/outbound/chainlog"
	"github.com/clawee/clawee-core/internal/adapter/outbound/replaybackend"
	"github.com/clawee/clawee-core/internal/adapter/outbound/sqlitestore"
	"github.com/clawee/clawee-core/internal/config"
	"github.com/clawee/clawee-core/internal/domain/approval"
	"github.com/clawee/clawee-core/internal/domain/budget"
	"github.com/clawee/clawee-core/internal/domain/capability"
	"github.com/clawee/clawee-core/internal/domain/catalog"
	"github.com/clawee/clawee-core/internal/domain/destination"
	"github.com/clawee/clawee-core/internal/domain/egress"
	"github.com/clawee/clawee-core/internal/domain/invariant"
	"github.com/clawee/clawee-core/internal/domain/modelregistry"
	"github.com/clawee/clawee-core/internal/domain/policy"
	"github.com/clawee/clawee-core/internal/domain/replay"
	"github.com/clawee/clawee-core/internal/domain/signing"
	"github.com/clawee/clawee-core/internal/service"
)

// buildKeyring decodes the hex-encoded secrets in cfg.Keyring into a
// signing.Keyring.
func buildKeyring(cfg *config.Config) (*signing.Keyring, error) {
	keys := make(map[string][]byte, len(cfg.Keyring.Keys))
	for kid, hexSecret := range cfg.Keyring.Keys {
		secret, err := hex.DecodeString(hexSecret)
		if err != nil {
			return nil, fmt.Errorf("keyring: key %q is not valid hex: %w", kid, err)
		}
		keys[kid] = secret
	}
	return signing.NewKeyring(keys, cfg.Keyring.ActiveKid)
}

// readCatalog loads and verifies a signed catalog file at path under kr. An
// empty path is only tolerated in dev mode, where it builds a zero-value T
// so the caller's gate starts unloaded rather than crashing the process.
func readCatalog[T any](path string, kr *signing.Keyring, devMode bool) (T, error) {
	var zero T
	if path == "" {
		if devMode {
			return zero, nil
		}
		return zero, fmt.Errorf("catalog path is required outside dev_mode")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	sc, err := catalog.Load[T](raw, catalog.Options{Keyring: kr, AllowUnsigned: devMode})
	if err != nil {
		return zero, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	return sc.Rules, nil
}

// readModelRegistry loads the model registry catalog, whose entries are
// each individually signed rather than sharing one envelope signature.
func readModelRegistry(path string, kr *signing.Keyring, devMode bool) ([]modelregistry.Entry, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model registry %s: %w", path, err)
	}
	var entries []modelregistry.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing model registry %s: %w", path, err)
	}
	return entries, nil
}

// buildReplayStore constructs the configured replay-protection backend and
// wraps it in the domain store. The domain store (replay.Store) applies
// the TTL floors; ReplayStore.TTL is validated here only to fail fast on a
// malformed duration in config.
func buildReplayStore(cfg *config.Config, logger *slog.Logger) (*replay.Store, error) {
	if _, err := time.ParseDuration(cfg.ReplayStore.TTL); err != nil {
		return nil, fmt.Errorf("replay_store.ttl: %w", err)
	}

	switch cfg.ReplayStore.Backend {
	case "", "sqlite":
		backend, err := replaybackend.OpenSQLite(cfg.ReplayStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite replay backend: %w", err)
		}
		return replay.New(backend, logger), nil
	default:
		return nil, fmt.Errorf("replay_store.backend %q is not wired into the CLI; construct it in-process instead", cfg.ReplayStore.Backend)
	}
}

// components is the full set of constructed gates and supporting services a
// running sidecar needs.
type components struct {
	logger        *slog.Logger
	keyring       *signing.Keyring
	pipeline      *service.Pipeline
	replayStore   *replay.Store
	ledger        *chainlog.SealedLedger[conformanceReport]
	invariants    *invariant.Registry
	controlTokens catalog.ControlTokenCatalog
}

// requireControlToken gates an admin CLI operation behind comps' loaded
// control-token catalog. An empty catalog (none configured) leaves the
// operation ungated, matching the unsigned/dev posture of the other
// catalogs when left unconfigured.
func requireControlToken(comps *components, token string) error {
	if len(comps.controlTokens.Tokens) == 0 {
		return nil
	}
	if _, err := catalog.VerifyControlToken(comps.controlTokens, token); err != nil {
		return fmt.Errorf("control token rejected: %w", err)
	}
	return nil
}

// buildComponents wires every gate and store from cfg, in the same order
// SPEC_FULL.md's gate pipeline runs them.
func buildComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	kr, err := buildKeyring(cfg)
	if err != nil {
		return nil, err
	}

	egressRules, err := readCatalog[egress.Rules](cfg.Catalogs.Egress, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}
	egressGate := egress.NewGate()
	egressGate.Load(egressRules)

	capabilityRules, err := readCatalog[capability.Rules](cfg.Catalogs.Capability, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}
	capabilityGate := capability.NewGate()
	capabilityGate.Load(capabilityRules)

	modelEntries, err := readModelRegistry(cfg.Catalogs.ModelRegistry, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}
	models := modelregistry.NewRegistry()
	if len(modelEntries) > 0 {
		if err := models.Load(modelEntries, kr, nil); err != nil {
			return nil, fmt.Errorf("loading model registry: %w", err)
		}
	}

	policyRules, err := readCatalog[policy.Rules](cfg.Catalogs.Policy, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}
	policyEngine := policy.NewEngine()
	policyEngine.Load(policyRules)

	approvalRules, err := readCatalog[approval.Rules](cfg.Catalogs.Approval, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}

	destinationRules, err := readCatalog[destination.Rules](cfg.Catalogs.Destination, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}
	destinationGate := destination.NewGate()
	if err := destinationGate.Load(destinationRules); err != nil {
		return nil, fmt.Errorf("loading destination catalog: %w", err)
	}

	pricingRules, err := readCatalog[budget.PricingCatalog](cfg.Catalogs.Pricing, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}

	controlTokens, err := readCatalog[catalog.ControlTokenCatalog](cfg.Catalogs.ControlTokens, kr, cfg.DevMode)
	if err != nil {
		return nil, err
	}

	approvalStore, err := sqlitestore.OpenApprovalStore(cfg.Budget.StorePath + ".approvals")
	if err != nil {
		return nil, fmt.Errorf("opening approval store: %w", err)
	}

	budgetStore, err := sqlitestore.OpenBudgetStore(cfg.Budget.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening budget store: %w", err)
	}
	budgetController, err := budgetStore.Hydrate(
		context.Background(),
		budget.Caps{HourlyUSD: cfg.Budget.HourlyUSD, DailyUSD: cfg.Budget.DailyUSD},
		startOfDay(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("hydrating budget controller: %w", err)
	}

	replayStore, err := buildReplayStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	auditStore, err := audit.NewFileAuditStore(audit.AuditFileConfig{
		Dir:           cfg.Audit.Dir,
		RetentionDays: cfg.Audit.RetentionDays,
		MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		CacheSize:     cfg.Audit.CacheSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	reg := invariant.NewRegistry(prometheus.NewRegistry())

	pipeline := &service.Pipeline{
		Egress:        egressGate,
		Destination:   destinationGate,
		Capability:    capabilityGate,
		Models:        models,
		Policy:        policyEngine,
		Approvals:     approvalStore,
		ApprovalTTL:   24 * time.Hour,
		MaxUses:       1,
		ApprovalRules: approvalRules,
		Budget:        budgetController,
		Pricing:       pricingRules,
		Invariants:    reg,
		Logger:        logger,
		Audit:         auditStore,
	}

	ledger := chainlog.NewSealedLedger[conformanceReport](cfg.Attestation.SnapshotDir, cfg.Attestation.SealsPath)

	return &components{
		logger:        logger,
		keyring:       kr,
		pipeline:      pipeline,
		replayStore:   replayStore,
		ledger:        ledger,
		invariants:    reg,
		controlTokens: controlTokens,
	}, nil
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
