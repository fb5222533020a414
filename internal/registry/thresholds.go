package registry

import "github.com/trustplane/trustplane/pkg/models"

// defaultThresholds returns the per-transition gating sets, keyed by
// the tier being left. Coverage widens as tiers rise: the bottom gate
// checks seven dimensions, the top gates check all twelve. Within each
// dimension the required value never decreases across transitions.
//
// Alignment and Collaboration sit in the lowest gate on purpose: they
// are the axes a foundation-pumping agent cannot fake, so an agent
// that games Capability and Behavior alone stays in the sandbox.
func defaultThresholds() map[models.TierName]map[models.Dimension]int {
	return map[models.TierName]map[models.Dimension]int{
		models.TierT0: { // → T1
			models.DimObservability: 150,
			models.DimCapability:    150,
			models.DimBehavior:      160,
			models.DimAlignment:     50,
			models.DimHumility:      80,
			models.DimStewardship:   80,
			models.DimCollaboration: 50,
		},
		models.TierT1: { // → T2
			models.DimObservability:  250,
			models.DimCapability:     250,
			models.DimBehavior:       260,
			models.DimAlignment:      150,
			models.DimHumility:       160,
			models.DimConsent:        150,
			models.DimStewardship:    160,
			models.DimExplainability: 120,
			models.DimCollaboration:  150,
		},
		models.TierT2: { // → T3
			models.DimObservability:  350,
			models.DimCapability:     350,
			models.DimBehavior:       360,
			models.DimAlignment:      300,
			models.DimHumility:       260,
			models.DimConsent:        280,
			models.DimStewardship:    260,
			models.DimExplainability: 250,
			models.DimAccountability: 200,
			models.DimCollaboration:  260,
			models.DimReliability:    220,
		},
		models.TierT3: { // → T4
			models.DimObservability:  450,
			models.DimCapability:     450,
			models.DimBehavior:       470,
			models.DimAlignment:      450,
			models.DimHumility:       360,
			models.DimConsent:        420,
			models.DimStewardship:    380,
			models.DimExplainability: 380,
			models.DimAccountability: 320,
			models.DimCollaboration:  380,
			models.DimReliability:    340,
			models.DimLeadership:     250,
		},
		models.TierT4: { // → T5
			models.DimObservability:  560,
			models.DimCapability:     560,
			models.DimBehavior:       590,
			models.DimAlignment:      600,
			models.DimHumility:       480,
			models.DimConsent:        560,
			models.DimStewardship:    500,
			models.DimExplainability: 520,
			models.DimAccountability: 450,
			models.DimCollaboration:  500,
			models.DimReliability:    460,
			models.DimLeadership:     380,
		},
		models.TierT5: { // → T6
			models.DimObservability:  660,
			models.DimCapability:     660,
			models.DimBehavior:       700,
			models.DimAlignment:      750,
			models.DimHumility:       600,
			models.DimConsent:        700,
			models.DimStewardship:    620,
			models.DimExplainability: 650,
			models.DimAccountability: 580,
			models.DimCollaboration:  620,
			models.DimReliability:    580,
			models.DimLeadership:     520,
		},
	}
}
