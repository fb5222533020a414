package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trustplane/trustplane/internal/config"
	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/pkg/models"
	"github.com/trustplane/trustplane/pkg/server"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Print the tier ladder and promotion thresholds",
	Long: `Print the effective tier ladder, the dimension catalog, and the
per-transition promotion thresholds. When a policy overlay is
configured the printed tables include it, so this is the fastest way
to sanity-check a policy file before rollout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		reg, err := server.BuildRegistry(cfg)
		if err != nil {
			return err
		}
		return outputRegistry(reg)
	},
}

// registryDump is the structured form used by json/yaml output.
type registryDump struct {
	Tiers      []models.Tier                                `json:"tiers" yaml:"tiers"`
	Dimensions []models.DimensionInfo                       `json:"dimensions" yaml:"dimensions"`
	Thresholds map[models.TierName]map[models.Dimension]int `json:"thresholds" yaml:"thresholds"`
}

func buildDump(reg *registry.Registry) registryDump {
	dump := registryDump{
		Tiers:      reg.Tiers(),
		Dimensions: reg.Dimensions(),
		Thresholds: make(map[models.TierName]map[models.Dimension]int),
	}
	tiers := reg.Tiers()
	for i := 0; i+1 < len(tiers); i++ {
		if set, ok := reg.ThresholdSet(tiers[i].Name, tiers[i+1].Name); ok {
			dump.Thresholds[tiers[i].Name] = set
		}
	}
	return dump
}

func outputRegistry(reg *registry.Registry) error {
	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buildDump(reg))

	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		return enc.Encode(buildDump(reg))

	default:
		return outputRegistryTable(reg)
	}
}

func outputRegistryTable(reg *registry.Registry) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tLABEL\tRANGE\tTERMINAL")
	for _, t := range reg.Tiers() {
		terminal := ""
		if t.Terminal {
			terminal = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%d-%d\t%s\n", t.Name, t.Label, t.MinScore, t.MaxScore, terminal)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println("\nPromotion thresholds (every listed dimension must hold):")
	tiers := reg.Tiers()
	for i := 0; i+1 < len(tiers); i++ {
		set, ok := reg.ThresholdSet(tiers[i].Name, tiers[i+1].Name)
		if !ok {
			continue
		}
		fmt.Printf("  %s to %s:", tiers[i].Name, tiers[i+1].Name)
		for _, info := range reg.Dimensions() {
			if required, listed := set[info.Name]; listed {
				fmt.Printf(" %s %d", info.Name, required)
			}
		}
		fmt.Println()
	}

	fmt.Println("\nDimensions:")
	for _, cat := range []models.Category{
		models.CategoryFoundation,
		models.CategoryAlignment,
		models.CategoryGovernance,
		models.CategoryOperational,
	} {
		fmt.Printf("  %s:", cat)
		for _, info := range reg.DimensionsByCategory(cat) {
			fmt.Printf(" %s", info.Name)
		}
		fmt.Println()
	}
	return nil
}

func init() {
	rootCmd.AddCommand(tiersCmd)
}
