package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "trustplane",
	Short: "Trust scoring and autonomy gating for AI agents",
	Long: `trustplane scores agent behavior on twelve dimensions, maps the
weighted aggregate onto autonomy tiers T0 (sandbox) through T6
(sovereign), and gates every tier change on conjunctive per-dimension
thresholds. A high overall score alone never raises autonomy.

Core Commands:
  serve      Run the HTTP gate
  simulate   Run behavioral archetypes through the gate
  sweep      Evaluate every agent once and execute the results
  tiers      Print the tier ladder and threshold tables
  version    Show version information`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $TRUSTPLANE_CONFIG)")
}

// GetOutput returns the output format for use by subcommands.
func GetOutput() string {
	return output
}

// syncConfigFlagToEnv lets --config flow through the same path the
// environment variable uses, so config.Load sees one source of truth.
func syncConfigFlagToEnv() {
	if cfgFile != "" {
		_ = os.Setenv("TRUSTPLANE_CONFIG", cfgFile)
	}
}
