// Package simulation runs synthetic agent archetypes through the
// production scoring and threshold tables, day by day, to validate
// the gating design offline. No store and no live state: the harness
// is pure computation over the registry, deterministic for a given
// seed, so battery runs are reproducible regression tests.
package simulation

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/scoring"
	"github.com/trustplane/trustplane/pkg/models"
)

// Harness simulates archetypes against a registry's tier, weight, and
// threshold tables.
type Harness struct {
	reg *registry.Registry
}

// NewHarness creates a harness over the given registry.
func NewHarness(reg *registry.Registry) *Harness {
	return &Harness{reg: reg}
}

// DayTrace is one day of a simulation run, captured after that day's
// growth, scoring, and gating step.
type DayTrace struct {
	Day          int                      `json:"day"`
	OverallScore int                      `json:"overall_score"`
	Tier         models.TierName          `json:"tier"`
	ScoreTier    models.TierName          `json:"score_tier"`
	Action       string                   `json:"action"` // hold | promote | demote | blocked
	Blocked      []string                 `json:"blocked,omitempty"`
	Dimensions   map[models.Dimension]int `json:"dimensions"`
}

// Result is the full outcome of simulating one archetype.
type Result struct {
	Archetype         string                   `json:"archetype"`
	Days              int                      `json:"days"`
	Seed              int64                    `json:"seed"`
	ExpectedTier      models.TierName          `json:"expected_tier"`
	FinalTier         models.TierName          `json:"final_tier"`
	FinalOverall      int                      `json:"final_overall"`
	PeakTier          models.TierName          `json:"peak_tier"`
	PeakOverall       int                      `json:"peak_overall"`
	Promotions        int                      `json:"promotions"`
	Demotions         int                      `json:"demotions"`
	BlockedAttempts   int                      `json:"blocked_attempts"`
	BlockedByDim      map[models.Dimension]int `json:"blocked_by_dimension,omitempty"`
	OverallShortfalls int                      `json:"overall_shortfalls,omitempty"`
	Passed            bool                     `json:"passed"`
	Trace             []DayTrace               `json:"trace,omitempty"`
}

// Simulate runs one archetype for the given number of days. Every day
// applies growth plus uniform noise to each dimension with clamping,
// recomputes the overall score under the current tier's weights, and
// replays production gating: a score mapping one or more bands higher
// earns a single-band promotion attempt through the threshold table;
// a score mapping lower demotes immediately to the mapped tier.
func (h *Harness) Simulate(arch Archetype, days int, seed int64) (*Result, error) {
	if days <= 0 {
		return nil, fmt.Errorf("simulation: days must be positive, got %d", days)
	}
	expected, ok := h.reg.TierByName(arch.ExpectedTier)
	if !ok {
		return nil, fmt.Errorf("simulation: archetype %q has unknown expected tier %q", arch.Name, arch.ExpectedTier)
	}

	rng := rand.New(rand.NewSource(seed))
	dims := h.reg.Dimensions()

	// Dimension state is tracked as float so fractional growth
	// accumulates; scoring sees the rounded integers.
	state := make(map[models.Dimension]float64, len(dims))
	for _, di := range dims {
		state[di.Name] = float64(models.ClampScore(arch.Initial[di.Name]))
	}

	cur := h.reg.LowestTier()
	peak := cur
	res := &Result{
		Archetype:    arch.Name,
		Days:         days,
		Seed:         seed,
		ExpectedTier: expected.Name,
		PeakTier:     cur.Name,
		BlockedByDim: make(map[models.Dimension]int),
		Trace:        make([]DayTrace, 0, days),
	}

	for day := 1; day <= days; day++ {
		// Iterate the catalog slice, not the map: map order would
		// change which dimension consumes which noise draw and break
		// reproducibility.
		scores := make(map[models.Dimension]int, len(dims))
		for _, di := range dims {
			noise := (rng.Float64()*2 - 1) * arch.Noise
			v := state[di.Name] + arch.Growth[di.Name] + noise
			v = math.Max(float64(models.ScoreMin), math.Min(float64(models.ScoreMax), v))
			state[di.Name] = v
			scores[di.Name] = models.ClampScore(int(math.Round(v)))
		}

		overall := scoring.Overall(h.reg, cur.Name, scores)
		mapped := h.reg.TierForScore(overall)

		trace := DayTrace{
			Day:          day,
			OverallScore: overall,
			ScoreTier:    mapped.Name,
			Action:       "hold",
			Dimensions:   scores,
		}

		switch {
		case mapped.Order > cur.Order:
			next, _ := h.reg.NextTier(cur.Name)
			blocked, blockedDims, overallShort := h.gateBlockers(cur.Name, next, scores, overall)
			if len(blocked) == 0 {
				cur = next
				res.Promotions++
				trace.Action = "promote"
			} else {
				res.BlockedAttempts++
				trace.Action = "blocked"
				trace.Blocked = blocked
				for _, d := range blockedDims {
					res.BlockedByDim[d]++
				}
				if overallShort {
					res.OverallShortfalls++
				}
			}
		case mapped.Order < cur.Order:
			cur = mapped
			res.Demotions++
			trace.Action = "demote"
		}

		trace.Tier = cur.Name
		res.Trace = append(res.Trace, trace)

		if cur.Order > peak.Order {
			peak = cur
			res.PeakTier = cur.Name
		}
		if overall > res.PeakOverall {
			res.PeakOverall = overall
		}
		res.FinalOverall = overall
	}

	res.FinalTier = cur.Name
	res.Passed = cur.Order >= expected.Order
	return res, nil
}

// gateBlockers replays the production promotion conjunction for one
// transition: every listed dimension at or above threshold, and the
// overall at or above the next band's minimum.
func (h *Harness) gateBlockers(from models.TierName, next models.Tier, scores map[models.Dimension]int, overall int) ([]string, []models.Dimension, bool) {
	var blocked []string
	var blockedDims []models.Dimension
	if thresholds, ok := h.reg.ThresholdSet(from, next.Name); ok {
		for _, di := range h.reg.Dimensions() {
			required, listed := thresholds[di.Name]
			if !listed {
				continue
			}
			if actual := scores[di.Name]; actual < required {
				blocked = append(blocked, models.BlockedDimension(di.Name, actual, required))
				blockedDims = append(blockedDims, di.Name)
			}
		}
	}
	overallShort := overall < next.MinScore
	if overallShort {
		blocked = append(blocked, fmt.Sprintf("overall (%d < %d)", overall, next.MinScore))
	}
	return blocked, blockedDims, overallShort
}

// ── Suite ────────────────────────────────────────────────────

// SuiteReport aggregates a battery run.
type SuiteReport struct {
	Days     int       `json:"days"`
	Seed     int64     `json:"seed"`
	Results  []*Result `json:"results"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	PassRate float64   `json:"pass_rate"`
}

// RunSuite simulates every archetype in the battery. Each archetype
// gets its own derived seed so runs are independent but the whole
// suite stays reproducible from one seed.
func (h *Harness) RunSuite(battery []Archetype, days int, seed int64) (*SuiteReport, error) {
	if len(battery) == 0 {
		return nil, fmt.Errorf("simulation: empty battery")
	}

	report := &SuiteReport{Days: days, Seed: seed}
	for i, arch := range battery {
		res, err := h.Simulate(arch, days, seed+int64(i))
		if err != nil {
			return nil, fmt.Errorf("archetype %q: %w", arch.Name, err)
		}
		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)

		log.Info().
			Str("archetype", arch.Name).
			Str("final_tier", string(res.FinalTier)).
			Str("expected_tier", string(res.ExpectedTier)).
			Int("promotions", res.Promotions).
			Int("demotions", res.Demotions).
			Int("blocked_attempts", res.BlockedAttempts).
			Bool("passed", res.Passed).
			Msg("Archetype simulation complete")
	}

	report.PassRate = float64(report.Passed) / float64(len(battery))
	return report, nil
}
