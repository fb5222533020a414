// Package registry holds the static trust topology: the ordered
// autonomy tiers, the twelve scored dimensions, the per-tier weight
// profiles, and the per-transition gating threshold sets.
//
// A Registry is built once at startup (compiled-in defaults, optionally
// merged with a policy overlay), validated, and then shared by
// reference. It is immutable after construction, so concurrent reads
// need no locking.
package registry

import (
	"fmt"
	"math"
	"sort"

	"github.com/trustplane/trustplane/internal/policy"
	"github.com/trustplane/trustplane/pkg/models"
)

// weightEpsilon is the tolerated rounding error when checking that a
// tier's dimension weights sum to 1.
const weightEpsilon = 1e-6

// Definition is the raw material a Registry is built from. The policy
// overlay produces one of these by merging operator overrides into the
// defaults; New validates the result as a whole.
type Definition struct {
	Tiers      []models.Tier
	Dimensions []models.DimensionInfo
	Weights    map[models.TierName]map[models.Dimension]float64
	Thresholds map[models.TierName]map[models.Dimension]int // keyed by the FROM tier of each ascending transition
}

// Registry is the validated, immutable trust topology.
type Registry struct {
	tiers      []models.Tier
	tierIdx    map[models.TierName]int
	dims       []models.DimensionInfo
	dimIdx     map[models.Dimension]models.DimensionInfo
	weights    map[models.TierName]map[models.Dimension]float64
	thresholds map[models.TierName]map[models.Dimension]int
}

// New builds and validates a Registry from def.
func New(def Definition) (*Registry, error) {
	r := &Registry{
		tiers:      append([]models.Tier(nil), def.Tiers...),
		tierIdx:    make(map[models.TierName]int, len(def.Tiers)),
		dims:       append([]models.DimensionInfo(nil), def.Dimensions...),
		dimIdx:     make(map[models.Dimension]models.DimensionInfo, len(def.Dimensions)),
		weights:    make(map[models.TierName]map[models.Dimension]float64, len(def.Weights)),
		thresholds: make(map[models.TierName]map[models.Dimension]int, len(def.Thresholds)),
	}

	sort.Slice(r.tiers, func(i, j int) bool { return r.tiers[i].Order < r.tiers[j].Order })
	for i, t := range r.tiers {
		r.tierIdx[t.Name] = i
	}
	for _, d := range r.dims {
		r.dimIdx[d.Name] = d
	}
	for tier, profile := range def.Weights {
		cp := make(map[models.Dimension]float64, len(profile))
		for d, w := range profile {
			cp[d] = w
		}
		r.weights[tier] = cp
	}
	for from, set := range def.Thresholds {
		cp := make(map[models.Dimension]int, len(set))
		for d, v := range set {
			cp[d] = v
		}
		r.thresholds[from] = cp
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Default returns the compiled-in registry. The built-in tables are
// covered by tests, so a validation failure here is a programming
// error and panics.
func Default() *Registry {
	r, err := New(DefaultDefinition())
	if err != nil {
		panic(fmt.Sprintf("registry: built-in definition invalid: %v", err))
	}
	return r
}

// DefaultDefinition returns a fresh copy of the compiled-in tables.
// Callers may mutate the copy freely before passing it to New.
func DefaultDefinition() Definition {
	return Definition{
		Tiers:      defaultTiers(),
		Dimensions: defaultDimensions(),
		Weights:    defaultWeights(),
		Thresholds: defaultThresholds(),
	}
}

// WithOverlay merges an operator policy overlay into the compiled-in
// tables and validates the result. Overlay rows replace the default
// row for their tier wholesale, so a partial weight row fails
// validation instead of silently skewing the remainder. A nil overlay
// yields the default registry.
func WithOverlay(o *policy.Overlay) (*Registry, error) {
	def := DefaultDefinition()
	if o != nil {
		for tier, row := range o.Weights {
			w := make(map[models.Dimension]float64, len(row))
			for d, m := range row {
				w[d] = float64(m) / 1000.0
			}
			def.Weights[tier] = w
		}
		for from, set := range o.Thresholds {
			s := make(map[models.Dimension]int, len(set))
			for d, v := range set {
				s[d] = v
			}
			def.Thresholds[from] = s
		}
	}
	r, err := New(def)
	if err != nil {
		return nil, fmt.Errorf("registry: policy overlay rejected: %w", err)
	}
	return r, nil
}

// ── Tier lookups ─────────────────────────────────────────────

// Tiers returns all tiers in ascending order.
func (r *Registry) Tiers() []models.Tier {
	return append([]models.Tier(nil), r.tiers...)
}

// TierByName looks up a tier by its short name.
func (r *Registry) TierByName(name models.TierName) (models.Tier, bool) {
	i, ok := r.tierIdx[name]
	if !ok {
		return models.Tier{}, false
	}
	return r.tiers[i], true
}

// TierForScore maps an overall score to the band containing it. The
// score is clamped first, so every input maps to exactly one tier.
func (r *Registry) TierForScore(score int) models.Tier {
	score = models.ClampScore(score)
	for _, t := range r.tiers {
		if t.Contains(score) {
			return t
		}
	}
	// Unreachable for a validated registry: bands are contiguous.
	return r.tiers[0]
}

// NextTier returns the tier one band above name, if any.
func (r *Registry) NextTier(name models.TierName) (models.Tier, bool) {
	i, ok := r.tierIdx[name]
	if !ok || i+1 >= len(r.tiers) {
		return models.Tier{}, false
	}
	return r.tiers[i+1], true
}

// PrevTier returns the tier one band below name, if any.
func (r *Registry) PrevTier(name models.TierName) (models.Tier, bool) {
	i, ok := r.tierIdx[name]
	if !ok || i == 0 {
		return models.Tier{}, false
	}
	return r.tiers[i-1], true
}

// LowestTier is the entry band every unknown agent starts in.
func (r *Registry) LowestTier() models.Tier {
	return r.tiers[0]
}

// HighestTier is the terminal band.
func (r *Registry) HighestTier() models.Tier {
	return r.tiers[len(r.tiers)-1]
}

// ── Dimension lookups ────────────────────────────────────────

// Dimensions returns the full dimension catalog.
func (r *Registry) Dimensions() []models.DimensionInfo {
	return append([]models.DimensionInfo(nil), r.dims...)
}

// DimensionInfo looks up one catalog entry.
func (r *Registry) DimensionInfo(d models.Dimension) (models.DimensionInfo, bool) {
	info, ok := r.dimIdx[d]
	return info, ok
}

// KnownDimension reports whether d is in the catalog.
func (r *Registry) KnownDimension(d models.Dimension) bool {
	_, ok := r.dimIdx[d]
	return ok
}

// DimensionsByCategory returns the catalog entries for one category,
// in catalog order.
func (r *Registry) DimensionsByCategory(c models.Category) []models.DimensionInfo {
	var out []models.DimensionInfo
	for _, d := range r.dims {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// ── Weights & thresholds ─────────────────────────────────────

// WeightProfile returns a copy of the weight map for the given tier.
func (r *Registry) WeightProfile(tier models.TierName) map[models.Dimension]float64 {
	profile := r.weights[tier]
	out := make(map[models.Dimension]float64, len(profile))
	for d, w := range profile {
		out[d] = w
	}
	return out
}

// ThresholdSet returns a copy of the per-dimension thresholds for the
// from→to transition. Only adjacent ascending transitions have sets;
// ok is false for anything else.
func (r *Registry) ThresholdSet(from, to models.TierName) (map[models.Dimension]int, bool) {
	next, ok := r.NextTier(from)
	if !ok || next.Name != to {
		return nil, false
	}
	set, ok := r.thresholds[from]
	if !ok {
		return nil, false
	}
	out := make(map[models.Dimension]int, len(set))
	for d, v := range set {
		out[d] = v
	}
	return out, true
}

// ── Validation ───────────────────────────────────────────────

func (r *Registry) validate() error {
	if len(r.tiers) < 2 {
		return fmt.Errorf("registry: need at least two tiers, got %d", len(r.tiers))
	}
	if len(r.dims) == 0 {
		return fmt.Errorf("registry: no dimensions defined")
	}

	// Bands must be contiguous, non-overlapping, and cover the whole scale.
	if r.tiers[0].MinScore != models.ScoreMin {
		return fmt.Errorf("registry: first tier %s starts at %d, want %d", r.tiers[0].Name, r.tiers[0].MinScore, models.ScoreMin)
	}
	if r.tiers[len(r.tiers)-1].MaxScore != models.ScoreMax {
		return fmt.Errorf("registry: last tier %s ends at %d, want %d", r.tiers[len(r.tiers)-1].Name, r.tiers[len(r.tiers)-1].MaxScore, models.ScoreMax)
	}
	terminals := 0
	for i, t := range r.tiers {
		if t.MinScore > t.MaxScore {
			return fmt.Errorf("registry: tier %s has inverted range [%d,%d]", t.Name, t.MinScore, t.MaxScore)
		}
		if t.Order != i {
			return fmt.Errorf("registry: tier %s has order %d, want %d", t.Name, t.Order, i)
		}
		if i > 0 && t.MinScore != r.tiers[i-1].MaxScore+1 {
			return fmt.Errorf("registry: gap between %s and %s", r.tiers[i-1].Name, t.Name)
		}
		if t.Terminal {
			terminals++
			if i != len(r.tiers)-1 {
				return fmt.Errorf("registry: terminal tier %s is not the highest band", t.Name)
			}
		}
	}
	if terminals != 1 {
		return fmt.Errorf("registry: want exactly one terminal tier, got %d", terminals)
	}

	// Every tier carries a weight profile covering exactly the catalog,
	// summing to 1 within epsilon.
	for _, t := range r.tiers {
		profile, ok := r.weights[t.Name]
		if !ok {
			return fmt.Errorf("registry: tier %s has no weight profile", t.Name)
		}
		if len(profile) != len(r.dims) {
			return fmt.Errorf("registry: tier %s weight profile covers %d dimensions, want %d", t.Name, len(profile), len(r.dims))
		}
		sum := 0.0
		for d, w := range profile {
			if _, known := r.dimIdx[d]; !known {
				return fmt.Errorf("registry: tier %s weights unknown dimension %q", t.Name, d)
			}
			if w < 0 {
				return fmt.Errorf("registry: tier %s has negative weight for %s", t.Name, d)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > weightEpsilon {
			return fmt.Errorf("registry: tier %s weights sum to %.9f, want 1", t.Name, sum)
		}
	}

	// Threshold sets exist only for ascending adjacent transitions, and
	// per-dimension values never decrease as tiers rise.
	prev := map[models.Dimension]int{}
	for i := 0; i < len(r.tiers)-1; i++ {
		from := r.tiers[i]
		set, ok := r.thresholds[from.Name]
		if !ok {
			// A missing set is legal: the gate falls back to the
			// overall-score requirement alone.
			continue
		}
		for d, v := range set {
			if _, known := r.dimIdx[d]; !known {
				return fmt.Errorf("registry: transition from %s thresholds unknown dimension %q", from.Name, d)
			}
			if v < models.ScoreMin || v > models.ScoreMax {
				return fmt.Errorf("registry: transition from %s threshold for %s out of range: %d", from.Name, d, v)
			}
			if p, seen := prev[d]; seen && v < p {
				return fmt.Errorf("registry: threshold for %s decreases from %d to %d at transition from %s", d, p, v, from.Name)
			}
			prev[d] = v
		}
	}
	for from := range r.thresholds {
		i, ok := r.tierIdx[from]
		if !ok {
			return fmt.Errorf("registry: thresholds reference unknown tier %q", from)
		}
		if i == len(r.tiers)-1 {
			return fmt.Errorf("registry: terminal tier %s cannot have an ascending threshold set", from)
		}
	}
	return nil
}
