package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "photo-flow",
	Short: "Photo analysis flow service",
	Long: `photo-flow hosts the upload, capture and analysis flow behind an HTTP API.

Each client session walks through home, loading, confirmation and result
stages while the accepted photo is uploaded to remote storage in the background.`,
	Version:       version,
	SilenceUsage:  true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml when present)",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
