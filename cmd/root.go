// Package cmd provides the goshawk command-line interface.
package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

var errorColor = color.New(color.FgRed, color.Bold)

var rootCmd = &cobra.Command{
	Use:     "goshawk",
	Short:   "Threat detection for cloud audit logs",
	Long:    "Goshawk scans cloud audit log exports against Sigma detection rules,\ncorrelates matches across events and summarizes what it found.",
	Version: Version,

	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
