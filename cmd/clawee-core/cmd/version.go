package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set via -ldflags "-X github.com/clawee/clawee-core/cmd/clawee-core/cmd.Version=..."
// at release build time; it stays "dev" for local builds.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clawee-core version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("clawee-core", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
