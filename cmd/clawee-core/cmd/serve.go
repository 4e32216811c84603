package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawee/clawee-core/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Construct the gate pipeline and run the attestation export loop",
	Long: `serve loads the keyring and every configured catalog, builds the
egress/capability/model-registry/policy/approval/budget gates, opens the
replay-protection and persistence backends, and assembles the gate
pipeline. It does not terminate any ingress protocol itself — it runs
until signaled, exporting a sealed conformance snapshot on each
attestation.export_interval tick so an operator always has a recent
attested invariant state to compare against.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Server.LogLevel)
	logger.Info("starting clawee-core", "http_addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode)

	comps, err := buildComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring components: %w", err)
	}

	exportInterval, err := time.ParseDuration(cfg.Attestation.ExportInterval)
	if err != nil {
		return fmt.Errorf("attestation.export_interval: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runAttestationLoop(ctx, comps, exportInterval)
	logger.Info("clawee-core stopped")
	return nil
}

// runAttestationLoop periodically seals a conformance snapshot of the
// invariant registry until ctx is cancelled.
func runAttestationLoop(ctx context.Context, comps *components, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := exportConformanceSnapshot(comps, time.Now()); err != nil {
				comps.logger.Error("attestation export failed", "error", err)
			}
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
