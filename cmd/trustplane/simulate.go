package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/simulation"
)

var (
	simDays      int
	simSeed      int64
	simArchetype string
	simTrace     bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run behavioral archetypes through the gate",
	Long: `Run the simulation battery: synthetic agents with scripted
behavioral profiles are driven through the scoring and gating pipeline
day by day, entirely in memory.

The battery is the regression net for the gate itself. The
gameable-foundation archetype in particular proves that maxing the
heavily weighted foundation dimensions while neglecting alignment
never escapes the sandbox.

Examples:
  trustplane simulate
  trustplane simulate --days 120 --seed 7
  trustplane simulate --archetype gameable-foundation -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := simulation.NewHarness(registry.Default())

		battery := simulation.DefaultBattery()
		if simArchetype != "" {
			arch, ok := archetypeByName(battery, simArchetype)
			if !ok {
				return fmt.Errorf("unknown archetype %q (have: %s)", simArchetype, archetypeNames(battery))
			}
			battery = []simulation.Archetype{arch}
		}

		report, err := h.RunSuite(battery, simDays, simSeed)
		if err != nil {
			return fmt.Errorf("run suite: %w", err)
		}
		if !simTrace {
			for _, res := range report.Results {
				res.Trace = nil
			}
		}

		return outputSuiteReport(report)
	},
}

func archetypeByName(battery []simulation.Archetype, name string) (simulation.Archetype, bool) {
	for _, a := range battery {
		if a.Name == name {
			return a, true
		}
	}
	return simulation.Archetype{}, false
}

func archetypeNames(battery []simulation.Archetype) string {
	names := make([]string, len(battery))
	for i, a := range battery {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

func outputSuiteReport(report *simulation.SuiteReport) error {
	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)

	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		return enc.Encode(report)

	default:
		return outputSuiteTable(report)
	}
}

func outputSuiteTable(report *simulation.SuiteReport) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ARCHETYPE\tEXPECTED\tFINAL\tPEAK\tOVERALL\tPROMOTIONS\tDEMOTIONS\tBLOCKED\tVERDICT")

	for _, res := range report.Results {
		verdict := "pass"
		if !res.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			res.Archetype, res.ExpectedTier, res.FinalTier, res.PeakTier,
			res.FinalOverall, res.Promotions, res.Demotions, res.BlockedAttempts, verdict)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d/%d passed over %d days (seed %d)\n",
		report.Passed, report.Passed+report.Failed, report.Days, report.Seed)

	for _, res := range report.Results {
		if len(res.BlockedByDim) == 0 {
			continue
		}
		fmt.Printf("  %s blocked by:", res.Archetype)
		for _, info := range registry.Default().Dimensions() {
			if n := res.BlockedByDim[info.Name]; n > 0 {
				fmt.Printf(" %s×%d", info.Name, n)
			}
		}
		fmt.Println()
	}
	return nil
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simDays, "days", 90, "Simulated days per archetype")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 42, "Base noise seed")
	simulateCmd.Flags().StringVar(&simArchetype, "archetype", "", "Run a single archetype by name")
	simulateCmd.Flags().BoolVar(&simTrace, "trace", false, "Include the full daily trace in json/yaml output")
}
