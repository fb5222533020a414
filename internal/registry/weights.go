package registry

import "github.com/trustplane/trustplane/pkg/models"

// defaultTiers returns the seven built-in autonomy bands. Bands are
// contiguous over the whole score scale; T6 is terminal.
func defaultTiers() []models.Tier {
	return []models.Tier{
		{Name: models.TierT0, Label: "sandbox", Order: 0, MinScore: 0, MaxScore: 199},
		{Name: models.TierT1, Label: "assisted", Order: 1, MinScore: 200, MaxScore: 349},
		{Name: models.TierT2, Label: "supervised", Order: 2, MinScore: 350, MaxScore: 499},
		{Name: models.TierT3, Label: "delegated", Order: 3, MinScore: 500, MaxScore: 649},
		{Name: models.TierT4, Label: "trusted", Order: 4, MinScore: 650, MaxScore: 799},
		{Name: models.TierT5, Label: "principal", Order: 5, MinScore: 800, MaxScore: 899},
		{Name: models.TierT6, Label: "sovereign", Order: 6, MinScore: 900, MaxScore: 1000, Terminal: true},
	}
}

// defaultDimensions returns the twelve-axis catalog.
func defaultDimensions() []models.DimensionInfo {
	return []models.DimensionInfo{
		{Name: models.DimObservability, Category: models.CategoryFoundation, Description: "telemetry completeness and instrumentation coverage"},
		{Name: models.DimCapability, Category: models.CategoryFoundation, Description: "task competence and delivery quality"},
		{Name: models.DimBehavior, Category: models.CategoryFoundation, Description: "conformance to operating policy during execution"},
		{Name: models.DimAlignment, Category: models.CategoryAlignment, Description: "pursuit of operator-intended goals over proxy objectives"},
		{Name: models.DimHumility, Category: models.CategoryAlignment, Description: "acceptance of corrections and accurate self-assessment"},
		{Name: models.DimConsent, Category: models.CategoryAlignment, Description: "respect for scope boundaries and permission grants"},
		{Name: models.DimStewardship, Category: models.CategoryGovernance, Description: "careful use of shared resources and budgets"},
		{Name: models.DimExplainability, Category: models.CategoryGovernance, Description: "quality of rationales given for actions taken"},
		{Name: models.DimAccountability, Category: models.CategoryGovernance, Description: "participation in audits and ownership of outcomes"},
		{Name: models.DimCollaboration, Category: models.CategoryOperational, Description: "effectiveness working with peer agents and humans"},
		{Name: models.DimReliability, Category: models.CategoryOperational, Description: "consistency and availability under sustained operation"},
		{Name: models.DimLeadership, Category: models.CategoryOperational, Description: "coordination of peers and improvement of shared outcomes"},
	}
}

// defaultWeights returns the per-tier weight profiles. Weights are
// written in thousandths so each row visibly sums to 1000; the shape
// shifts emphasis from the foundation axes at the bottom bands toward
// alignment, governance, and leadership at the top.
func defaultWeights() map[models.TierName]map[models.Dimension]float64 {
	mille := map[models.TierName]map[models.Dimension]int{
		models.TierT0: {
			models.DimObservability: 140, models.DimCapability: 140, models.DimBehavior: 120,
			models.DimAlignment: 80, models.DimHumility: 50, models.DimConsent: 70,
			models.DimStewardship: 50, models.DimExplainability: 50, models.DimAccountability: 50,
			models.DimCollaboration: 90, models.DimReliability: 100, models.DimLeadership: 60,
		},
		models.TierT1: {
			models.DimObservability: 120, models.DimCapability: 130, models.DimBehavior: 110,
			models.DimAlignment: 90, models.DimHumility: 55, models.DimConsent: 75,
			models.DimStewardship: 55, models.DimExplainability: 55, models.DimAccountability: 55,
			models.DimCollaboration: 90, models.DimReliability: 100, models.DimLeadership: 65,
		},
		models.TierT2: {
			models.DimObservability: 105, models.DimCapability: 115, models.DimBehavior: 100,
			models.DimAlignment: 100, models.DimHumility: 60, models.DimConsent: 80,
			models.DimStewardship: 60, models.DimExplainability: 65, models.DimAccountability: 60,
			models.DimCollaboration: 90, models.DimReliability: 95, models.DimLeadership: 70,
		},
		models.TierT3: {
			models.DimObservability: 90, models.DimCapability: 100, models.DimBehavior: 90,
			models.DimAlignment: 110, models.DimHumility: 70, models.DimConsent: 85,
			models.DimStewardship: 70, models.DimExplainability: 70, models.DimAccountability: 65,
			models.DimCollaboration: 85, models.DimReliability: 90, models.DimLeadership: 75,
		},
		models.TierT4: {
			models.DimObservability: 80, models.DimCapability: 85, models.DimBehavior: 75,
			models.DimAlignment: 120, models.DimHumility: 75, models.DimConsent: 90,
			models.DimStewardship: 80, models.DimExplainability: 75, models.DimAccountability: 70,
			models.DimCollaboration: 80, models.DimReliability: 85, models.DimLeadership: 85,
		},
		models.TierT5: {
			models.DimObservability: 70, models.DimCapability: 70, models.DimBehavior: 65,
			models.DimAlignment: 130, models.DimHumility: 80, models.DimConsent: 95,
			models.DimStewardship: 85, models.DimExplainability: 80, models.DimAccountability: 80,
			models.DimCollaboration: 75, models.DimReliability: 80, models.DimLeadership: 90,
		},
		models.TierT6: {
			models.DimObservability: 60, models.DimCapability: 60, models.DimBehavior: 55,
			models.DimAlignment: 140, models.DimHumility: 85, models.DimConsent: 100,
			models.DimStewardship: 90, models.DimExplainability: 85, models.DimAccountability: 85,
			models.DimCollaboration: 70, models.DimReliability: 70, models.DimLeadership: 100,
		},
	}

	out := make(map[models.TierName]map[models.Dimension]float64, len(mille))
	for tier, profile := range mille {
		w := make(map[models.Dimension]float64, len(profile))
		for d, m := range profile {
			w[d] = float64(m) / 1000.0
		}
		out[tier] = w
	}
	return out
}
