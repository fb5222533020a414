// Package scoring computes overall trust scores. It is deliberately
// tiny and pure: no state, no clock, no I/O, so the same inputs always
// produce the same output for both live evaluation and offline
// simulation.
package scoring

import (
	"math"

	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/pkg/models"
)

// Overall computes the weighted overall score for one agent under the
// weight profile of the given tier. Each dimension score is clamped
// before weighting; dimensions missing from scores count as zero. The
// weighted sum is rounded half-up to an integer.
func Overall(reg *registry.Registry, tier models.TierName, scores map[models.Dimension]int) int {
	profile := reg.WeightProfile(tier)
	sum := 0.0
	for d, w := range profile {
		sum += w * float64(models.ClampScore(scores[d]))
	}
	return models.ClampScore(int(math.Round(sum)))
}
