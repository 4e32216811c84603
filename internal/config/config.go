// Package config provides configuration types for the clawee-core gate
// sidecar.
//
// The schema is deliberately narrow: it configures the in-scope core
// (catalogs, keyring, replay store, budget controller, attestation ledger)
// and says nothing about HTTP ingress, routing, or identity management,
// which stay out of scope per the core's non-goals.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the clawee-core sidecar.
type Config struct {
	// Server configures the cmd/ binary's log level and the listen address
	// it reports at startup. Neither the core nor the cmd/ binary binds a
	// socket.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Keyring configures the HMAC signing keys catalogs and attestation
	// payloads are verified against.
	Keyring KeyringConfig `yaml:"keyring" mapstructure:"keyring"`

	// Catalogs points at the signed catalog files for every gate.
	Catalogs CatalogsConfig `yaml:"catalogs" mapstructure:"catalogs"`

	// ReplayStore configures the nonce/hash replay-protection backend.
	ReplayStore ReplayStoreConfig `yaml:"replay_store" mapstructure:"replay_store"`

	// Budget configures the spend caps and durable store for the budget
	// controller.
	Budget BudgetConfig `yaml:"budget" mapstructure:"budget"`

	// Attestation configures where sealed ledger snapshots and the chain
	// log are written.
	Attestation AttestationConfig `yaml:"attestation" mapstructure:"attestation"`

	// Audit configures the append-only per-decision audit log, separate
	// from the periodically-sealed conformance ledger.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// DevMode enables permissive defaults (unsigned catalogs, empty catalog
	// paths, a built-in dev keyring) for local iteration.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig holds the cmd/ process's listen address and log level. No
// health or conformance endpoint is served, and it does not configure MCP
// or HTTP ingress.
type ServerConfig struct {
	// HTTPAddr is a host:port address; serve logs it at startup, and no
	// command binds it.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// KeyringConfig configures the HMAC keyring used to sign and verify every
// catalog and attestation payload. Keys are provided as hex-encoded secrets
// so they can sit safely in an env-var override without embedding raw
// binary in YAML.
type KeyringConfig struct {
	// Keys maps key id to a hex-encoded secret.
	Keys map[string]string `yaml:"keys" mapstructure:"keys" validate:"required,min=1"`

	// ActiveKid is the key id new signatures are produced under. Must be a
	// member of Keys.
	ActiveKid string `yaml:"active_kid" mapstructure:"active_kid" validate:"required"`
}

// CatalogsConfig points at the signed catalog file for each gate. In dev
// mode a path may be left empty, which starts that gate with empty rules,
// and catalogs may be unsigned; outside dev mode every path except
// ModelRegistry must be set. An empty ModelRegistry path leaves the model
// registry with no entries.
type CatalogsConfig struct {
	Policy         string `yaml:"policy" mapstructure:"policy"`
	Capability     string `yaml:"capability" mapstructure:"capability"`
	ModelRegistry  string `yaml:"model_registry" mapstructure:"model_registry"`
	Approval       string `yaml:"approval" mapstructure:"approval"`
	Destination    string `yaml:"destination" mapstructure:"destination"`
	Pricing        string `yaml:"pricing" mapstructure:"pricing"`
	ControlTokens  string `yaml:"control_tokens" mapstructure:"control_tokens"`
	Egress         string `yaml:"egress" mapstructure:"egress"`
}

// ReplayStoreConfig configures the replay-protection backend.
type ReplayStoreConfig struct {
	// Backend selects which adapter to construct: "sqlite" (default,
	// embedded), "postgres", or "redis".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=sqlite postgres redis"`

	// DSN is the backend's connection string. For sqlite, a file path.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// Namespace defaults to "default". No backend reads it; stored keys are
	// not prefixed with it.
	Namespace string `yaml:"namespace" mapstructure:"namespace"`

	// TTL is a duration string such as "24h". It is parsed at startup to
	// reject a malformed value; each registration takes its TTL from the
	// caller, not from this field.
	TTL string `yaml:"ttl" mapstructure:"ttl"`
}

// BudgetConfig configures the budget controller's caps and its durable
// SQLite store.
type BudgetConfig struct {
	HourlyUSD   float64 `yaml:"hourly_usd" mapstructure:"hourly_usd" validate:"omitempty,gt=0"`
	DailyUSD    float64 `yaml:"daily_usd" mapstructure:"daily_usd" validate:"omitempty,gt=0"`
	StorePath   string  `yaml:"store_path" mapstructure:"store_path"`
}

// AttestationConfig configures the sealed ledger: where snapshot files and
// the append-only seal chain log are written.
type AttestationConfig struct {
	SnapshotDir    string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
	SealsPath      string `yaml:"seals_path" mapstructure:"seals_path"`
	ExportInterval string `yaml:"export_interval" mapstructure:"export_interval"`
}

// AuditConfig configures the rotating, retained file audit log every
// pipeline decision is appended to.
type AuditConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,gt=0"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,gt=0"`
	CacheSize     int    `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,gt=0"`
}

// SetDevDefaults applies permissive defaults for development mode: an
// ephemeral single-key keyring and unsigned catalogs. Never used outside
// DevMode.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if len(c.Keyring.Keys) == 0 {
		c.Keyring.Keys = map[string]string{"dev": "646576656c6f706d656e742d6f6e6c792d6b6579"}
		c.Keyring.ActiveKid = "dev"
	}
	if c.ReplayStore.Backend == "" {
		c.ReplayStore.Backend = "sqlite"
	}
	if c.ReplayStore.DSN == "" {
		c.ReplayStore.DSN = "./clawee-replay.db"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if !viper.IsSet("replay_store.backend") {
		c.ReplayStore.Backend = "sqlite"
	}
	if c.ReplayStore.Namespace == "" {
		c.ReplayStore.Namespace = "default"
	}
	if c.ReplayStore.TTL == "" {
		c.ReplayStore.TTL = "24h"
	}

	if c.Budget.HourlyUSD == 0 {
		c.Budget.HourlyUSD = 50
	}
	if c.Budget.DailyUSD == 0 {
		c.Budget.DailyUSD = 500
	}
	if c.Budget.StorePath == "" {
		c.Budget.StorePath = "./clawee-budget.db"
	}

	if c.Attestation.SnapshotDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Attestation.SnapshotDir = home + "/.clawee-core/snapshots"
		}
	}
	if c.Attestation.SealsPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Attestation.SealsPath = home + "/.clawee-core/seals.jsonl"
		}
	}
	if c.Attestation.ExportInterval == "" {
		c.Attestation.ExportInterval = "1h"
	}

	if c.Audit.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Audit.Dir = home + "/.clawee-core/audit"
		}
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.CacheSize == 0 {
		c.Audit.CacheSize = 1000
	}
}
