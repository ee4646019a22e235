package cmd

import (
	"github.com/spf13/cobra"
)

var (
	apiAddr    string
	jsonOutput bool
)

// Execute runs the control CLI. Exit code 0 on success, 1 on argument or
// usage errors (cobra propagates RunE errors to the caller).
func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "smartproxyctl",
		Short:         "Read-only control CLI for the smart proxy service",
		Long:          `smartproxyctl inspects and steers a running smart proxy instance through its status API.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "127.0.0.1:2124", "Address of the status web UI API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")

	rootCmd.AddCommand(
		newStatusCommand(),
		newRunwaysCommand(),
		newTargetsCommand(),
		newStatsCommand(),
		newModeCommand(),
		newTestCommand(),
		newReloadCommand(),
	)

	return rootCmd.Execute()
}
