package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trustplane/trustplane/pkg/models"
	"github.com/trustplane/trustplane/pkg/server"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate every agent once and execute the results",
	Long: `Run one auto-gating sweep against the configured store: every
known agent is evaluated, demotions always execute, promotions execute
unless auto-promotion is disabled. Prints the executed decisions.

Useful from cron against a sqlite-backed gate, or for forcing a
demotion pass after a threshold policy change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		srv, err := server.New(ctx)
		if err != nil {
			return fmt.Errorf("initialize gate: %w", err)
		}
		defer srv.Close()
		defer srv.ShutdownFunc(ctx)

		decisions := srv.Engine.RunAutoGating(ctx)
		return outputDecisions(decisions)
	},
}

func outputDecisions(decisions []*models.GatingDecision) error {
	if decisions == nil {
		decisions = []*models.GatingDecision{}
	}

	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(decisions)

	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		return enc.Encode(decisions)

	default:
		if len(decisions) == 0 {
			fmt.Println("No tier changes executed.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tFROM\tTO\tOUTCOME\tOVERALL\tREASON")
		for _, d := range decisions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				d.AgentID, d.CurrentTier, d.TargetTier, d.Outcome, d.OverallScore, d.Reason)
		}
		return w.Flush()
	}
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
