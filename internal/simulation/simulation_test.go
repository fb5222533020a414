package simulation_test

import (
	"reflect"
	"testing"

	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/simulation"
	"github.com/trustplane/trustplane/pkg/models"
)

func newHarness(t *testing.T) *simulation.Harness {
	t.Helper()
	return simulation.NewHarness(registry.Default())
}

func archetypeByName(t *testing.T, name string) simulation.Archetype {
	t.Helper()
	for _, a := range simulation.DefaultBattery() {
		if a.Name == name {
			return a
		}
	}
	t.Fatalf("archetype %q not in battery", name)
	return simulation.Archetype{}
}

func TestSimulate_Deterministic(t *testing.T) {
	h := newHarness(t)
	arch := archetypeByName(t, "steady-achiever")

	first, err := h.Simulate(arch, 90, 42)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	second, err := h.Simulate(arch, 90, 42)
	if err != nil {
		t.Fatalf("Simulate() repeat error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical seed produced different results")
	}

	third, _ := h.Simulate(arch, 90, 43)
	if reflect.DeepEqual(first.Trace, third.Trace) {
		t.Error("different seeds produced identical traces, noise is not wired to the seed")
	}
}

func TestSimulate_ScoresStayClamped(t *testing.T) {
	h := newHarness(t)

	// Steady growth saturates high, burnout decays low; both runs
	// must keep every daily score inside the scale.
	for _, name := range []string{"steady-achiever", "burnout-regressor"} {
		res, err := h.Simulate(archetypeByName(t, name), 120, 7)
		if err != nil {
			t.Fatalf("Simulate(%s) error = %v", name, err)
		}
		for _, day := range res.Trace {
			if day.OverallScore < models.ScoreMin || day.OverallScore > models.ScoreMax {
				t.Fatalf("%s day %d: overall %d out of range", name, day.Day, day.OverallScore)
			}
			for d, v := range day.Dimensions {
				if v < models.ScoreMin || v > models.ScoreMax {
					t.Fatalf("%s day %d: %s = %d out of range", name, day.Day, d, v)
				}
			}
		}
	}
}

func TestSimulate_TraceIsComplete(t *testing.T) {
	h := newHarness(t)
	res, err := h.Simulate(archetypeByName(t, "plateau-rider"), 90, 42)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if len(res.Trace) != 90 {
		t.Fatalf("len(Trace) = %d, want 90", len(res.Trace))
	}
	for i, day := range res.Trace {
		if day.Day != i+1 {
			t.Fatalf("Trace[%d].Day = %d, want %d", i, day.Day, i+1)
		}
		if len(day.Dimensions) != 12 {
			t.Fatalf("Trace[%d] has %d dimensions, want 12", i, len(day.Dimensions))
		}
	}
}

// The anti-gaming regression: pumping the easily-farmed foundation
// dimensions while alignment and collaboration rot must never escape
// the sandbox, on any seed, because those two thresholds block every
// attempted promotion.
func TestGameableFoundationNeverEscapesSandbox(t *testing.T) {
	h := newHarness(t)
	arch := archetypeByName(t, "gameable-foundation")

	for _, seed := range []int64{1, 42, 1337} {
		res, err := h.Simulate(arch, 90, seed)
		if err != nil {
			t.Fatalf("Simulate(seed=%d) error = %v", seed, err)
		}
		if res.FinalTier != models.TierT0 {
			t.Fatalf("seed %d: FinalTier = %q, want T0", seed, res.FinalTier)
		}
		if res.PeakTier != models.TierT0 {
			t.Fatalf("seed %d: PeakTier = %q, want T0 (never promoted, not even briefly)", seed, res.PeakTier)
		}
		if res.Promotions != 0 {
			t.Errorf("seed %d: Promotions = %d, want 0", seed, res.Promotions)
		}
		if res.BlockedAttempts == 0 {
			t.Fatalf("seed %d: BlockedAttempts = 0, want many (overall rises past the band)", seed)
		}

		align := res.BlockedByDim[models.DimAlignment]
		collab := res.BlockedByDim[models.DimCollaboration]
		if align == 0 || collab == 0 {
			t.Fatalf("seed %d: blocked histogram %v, want Alignment and Collaboration entries", seed, res.BlockedByDim)
		}
		for d, n := range res.BlockedByDim {
			if n > align && n > collab {
				t.Errorf("seed %d: %s blocked %d times, more than the anti-gaming axes (align=%d collab=%d)",
					seed, d, n, align, collab)
			}
		}
	}
}

func TestConsentViolatorCapsAtFirstRung(t *testing.T) {
	h := newHarness(t)
	res, err := h.Simulate(archetypeByName(t, "consent-violator"), 90, 42)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if res.FinalTier != models.TierT1 {
		t.Errorf("FinalTier = %q, want T1", res.FinalTier)
	}
	if res.BlockedByDim[models.DimConsent] == 0 {
		t.Errorf("blocked histogram %v, want Consent to block the next rung", res.BlockedByDim)
	}
}

func TestBurnoutRegressorWalksBackDown(t *testing.T) {
	h := newHarness(t)
	res, err := h.Simulate(archetypeByName(t, "burnout-regressor"), 90, 42)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if res.Demotions < 2 {
		t.Errorf("Demotions = %d, want >= 2 (walked down the ladder)", res.Demotions)
	}
	if res.FinalTier != models.TierT0 {
		t.Errorf("FinalTier = %q, want T0", res.FinalTier)
	}
	if res.PeakTier != models.TierT2 {
		t.Errorf("PeakTier = %q, want T2 (climbed before the slide)", res.PeakTier)
	}
	if !res.Passed {
		t.Error("Passed = false, want true (T0 expected and reached)")
	}
}

func TestSteadyAchieverClimbs(t *testing.T) {
	h := newHarness(t)
	res, err := h.Simulate(archetypeByName(t, "steady-achiever"), 90, 42)
	if err != nil {
		t.Fatalf("Simulate() error = %v", err)
	}
	if !res.Passed {
		t.Errorf("Passed = false, want true (final %q, expected %q)", res.FinalTier, res.ExpectedTier)
	}
	if res.Promotions < 5 {
		t.Errorf("Promotions = %d, want >= 5 (T0 through at least T5)", res.Promotions)
	}
	if res.Demotions != 0 {
		t.Errorf("Demotions = %d, want 0", res.Demotions)
	}
}

func TestRunSuite_FullBatteryPasses(t *testing.T) {
	h := newHarness(t)
	report, err := h.RunSuite(simulation.DefaultBattery(), 90, 42)
	if err != nil {
		t.Fatalf("RunSuite() error = %v", err)
	}
	if len(report.Results) != 6 {
		t.Fatalf("len(Results) = %d, want 6", len(report.Results))
	}
	if report.Failed != 0 {
		for _, r := range report.Results {
			if !r.Passed {
				t.Errorf("archetype %q failed: final %q, expected %q", r.Archetype, r.FinalTier, r.ExpectedTier)
			}
		}
	}
	if report.PassRate != 1.0 {
		t.Errorf("PassRate = %v, want 1.0", report.PassRate)
	}
}

func TestSimulate_Validation(t *testing.T) {
	h := newHarness(t)
	arch := archetypeByName(t, "plateau-rider")

	if _, err := h.Simulate(arch, 0, 42); err == nil {
		t.Error("Simulate() with zero days should return error")
	}

	arch.ExpectedTier = "T99"
	if _, err := h.Simulate(arch, 90, 42); err == nil {
		t.Error("Simulate() with unknown expected tier should return error")
	}

	if _, err := h.RunSuite(nil, 90, 42); err == nil {
		t.Error("RunSuite() with empty battery should return error")
	}
}
