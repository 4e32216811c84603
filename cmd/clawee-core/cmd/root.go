// Package cmd provides the CLI commands for clawee-core.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clawee/clawee-core/internal/config"
)

var cfgFile string
var controlToken string

var rootCmd = &cobra.Command{
	Use:   "clawee-core",
	Short: "clawee-core - gate pipeline sidecar for AI agent governance",
	Long: `clawee-core enforces a fixed-order gate pipeline (egress, capability,
model registry, policy, approval, budget) over AI agent tool calls, backed
by signed catalogs, a hash-chained attestation ledger, and a replay-protection
store. It is a library-first sidecar: it does not terminate HTTP or MCP
traffic itself, but an ingress process embeds it the way this CLI does.

Configuration:
  Config is loaded from clawee-core.yaml in the current directory,
  $HOME/.clawee-core/, or /etc/clawee-core/.

  Environment variables can override config values with the CLAWEE_CORE_
  prefix. Example: CLAWEE_CORE_SERVER_HTTP_ADDR=:9090

Commands:
  serve                   Construct the pipeline and run the attestation export loop
  reload <catalog> <path> Validate and report the fingerprint of a catalog file
  conformance export      Export a signed conformance report snapshot
  conformance verify      Verify the conformance chain log's seal links and snapshot hashes`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./clawee-core.yaml)")
	rootCmd.PersistentFlags().StringVar(&controlToken, "control-token", "", "control token for admin operations (reload, conformance); required only when catalogs.control_tokens is configured")
}

func initConfig() {
	config.InitViper(cfgFile)
}
