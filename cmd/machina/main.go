// Command machina is the long-lived supervisory process spec.md §1
// describes: it owns the Autonomic Engine's heartbeat, the Pulse
// Executor's per-chat turns, the operator alert bus, and a thin
// status/stop/tools/dev-mode control surface, all wired from one JSON5
// config file. Grounded on the teacher's cmd/root.go cobra skeleton
// (persistent --config/--verbose flags, one subcommand per operator
// action), generalized from goclaw's gateway/channel CLI surface to
// machina's autonomic runtime.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "machina",
	Short: "machina — an autonomic, self-tuning agent runtime",
	Long:  "machina runs a long-lived supervisory loop (the Autonomic Engine) alongside a per-request Pulse Executor, persisting everything to a flat-file Learning Substrate.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: machina.json5 or $MACHINA_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(devModeCmd())
	rootCmd.AddCommand(gcCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("machina %s\n", version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MACHINA_CONFIG"); v != "" {
		return v
	}
	return "machina.json5"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
