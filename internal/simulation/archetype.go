package simulation

import "github.com/trustplane/trustplane/pkg/models"

// Archetype is a synthetic agent personality: starting scores, a
// per-dimension daily growth rate (may be negative), a daily noise
// magnitude, and the tier the design expects it to reach. Archetypes
// validate the gating design itself, not any live agent.
type Archetype struct {
	Name         string                       `json:"name"`
	Description  string                       `json:"description"`
	Initial      map[models.Dimension]int     `json:"initial"`
	Growth       map[models.Dimension]float64 `json:"growth"`
	Noise        float64                      `json:"noise"`
	ExpectedTier models.TierName              `json:"expected_tier"`
}

// DefaultBattery returns the regression battery. Each archetype pins
// one property of the gating design; the gameable-foundation entry is
// the canary for the "cannot game a single easy dimension" goal.
func DefaultBattery() []Archetype {
	return []Archetype{
		{
			Name:         "steady-achiever",
			Description:  "uniform improvement across every dimension; should climb high",
			Initial:      uniformScores(120),
			Growth:       uniformGrowth(10),
			Noise:        2,
			ExpectedTier: models.TierT5,
		},
		{
			Name:        "gameable-foundation",
			Description: "pumps observability/capability/behavior while alignment and collaboration rot; must stay in the sandbox",
			Initial: map[models.Dimension]int{
				models.DimObservability:  150,
				models.DimCapability:     150,
				models.DimBehavior:       150,
				models.DimAlignment:      10,
				models.DimHumility:       80,
				models.DimConsent:        80,
				models.DimStewardship:    80,
				models.DimExplainability: 80,
				models.DimAccountability: 80,
				models.DimCollaboration:  10,
				models.DimReliability:    80,
				models.DimLeadership:     80,
			},
			Growth: map[models.Dimension]float64{
				models.DimObservability:  15,
				models.DimCapability:     15,
				models.DimBehavior:       15,
				models.DimAlignment:      -2,
				models.DimHumility:       8,
				models.DimConsent:        8,
				models.DimStewardship:    8,
				models.DimExplainability: 8,
				models.DimAccountability: 8,
				models.DimCollaboration:  -2,
				models.DimReliability:    8,
				models.DimLeadership:     8,
			},
			Noise:        1,
			ExpectedTier: models.TierT0,
		},
		{
			Name:        "consent-violator",
			Description: "competent but keeps overriding consent; the consent threshold should cap it at the first rung",
			Initial:     uniformScores(120),
			Growth: withGrowth(uniformGrowth(8), map[models.Dimension]float64{
				models.DimConsent: -3,
			}),
			Noise:        2,
			ExpectedTier: models.TierT1,
		},
		{
			Name:         "burnout-regressor",
			Description:  "starts strong then decays everywhere; demotions should walk it back down",
			Initial:      uniformScores(400),
			Growth:       uniformGrowth(-6),
			Noise:        2,
			ExpectedTier: models.TierT0,
		},
		{
			Name:        "alignment-exemplar",
			Description: "alignment and governance outpace raw capability; should clear the mid tiers",
			Initial:     uniformScores(100),
			Growth: withGrowth(uniformGrowth(6), map[models.Dimension]float64{
				models.DimAlignment:      9,
				models.DimHumility:       8,
				models.DimConsent:        8,
				models.DimStewardship:    8,
				models.DimExplainability: 8,
				models.DimAccountability: 8,
				models.DimCollaboration:  7,
			}),
			Noise:        2,
			ExpectedTier: models.TierT3,
		},
		{
			Name:         "plateau-rider",
			Description:  "slow uniform growth that stalls mid-range; should settle at the supervised band",
			Initial:      uniformScores(120),
			Growth:       uniformGrowth(3.5),
			Noise:        1.5,
			ExpectedTier: models.TierT2,
		},
	}
}

func uniformScores(v int) map[models.Dimension]int {
	out := make(map[models.Dimension]int, len(allDimensions))
	for _, d := range allDimensions {
		out[d] = v
	}
	return out
}

func uniformGrowth(v float64) map[models.Dimension]float64 {
	out := make(map[models.Dimension]float64, len(allDimensions))
	for _, d := range allDimensions {
		out[d] = v
	}
	return out
}

func withGrowth(base map[models.Dimension]float64, overrides map[models.Dimension]float64) map[models.Dimension]float64 {
	for d, v := range overrides {
		base[d] = v
	}
	return base
}

var allDimensions = []models.Dimension{
	models.DimObservability,
	models.DimCapability,
	models.DimBehavior,
	models.DimAlignment,
	models.DimHumility,
	models.DimConsent,
	models.DimStewardship,
	models.DimExplainability,
	models.DimAccountability,
	models.DimCollaboration,
	models.DimReliability,
	models.DimLeadership,
}
