package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "signaling",
		Short:        "Call signaling and session coordination server",
		Long:         "signaling relays WebRTC negotiation between patients and clinicians, resolves their call rooms and tracks session readiness.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")

	serve := newServeCmd(&configPath)
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(
		serve,
		newMigrateCmd(&configPath),
		newTokenCmd(&configPath),
	)
	return rootCmd
}
