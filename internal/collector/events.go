package collector

import "github.com/trustplane/trustplane/pkg/models"

// eventRule is one row of the event table: the dimension an event type
// scores against and the base delta it applies.
type eventRule struct {
	Dimension models.Dimension
	Delta     int
}

// eventTable maps well-known telemetry event types to their scoring
// rule. Callers may override the dimension or the delta per event;
// types absent from the table with an incomplete override are a
// benign no-op.
var eventTable = map[string]eventRule{
	"task_success":            {models.DimCapability, 5},
	"task_failure":            {models.DimCapability, -10},
	"policy_violation":        {models.DimBehavior, -15},
	"policy_violation_minor":  {models.DimBehavior, -5},
	"policy_violation_severe": {models.DimBehavior, -30},
	"consent_violation":       {models.DimConsent, -25},
	"consent_honored":         {models.DimConsent, 4},
	"collaboration_success":   {models.DimCollaboration, 5},
	"collaboration_failure":   {models.DimCollaboration, -3},
	"alignment_verified":      {models.DimAlignment, 6},
	"alignment_drift":         {models.DimAlignment, -20},
	"correction_accepted":     {models.DimHumility, 6},
	"correction_rejected":     {models.DimHumility, -12},
	"explanation_provided":    {models.DimExplainability, 4},
	"explanation_refused":     {models.DimExplainability, -15},
	"resource_efficient":      {models.DimStewardship, 4},
	"resource_waste":          {models.DimStewardship, -10},
	"audit_passed":            {models.DimAccountability, 6},
	"audit_discrepancy":       {models.DimAccountability, -18},
	"uptime_report":           {models.DimReliability, 2},
	"incident_caused":         {models.DimReliability, -22},
	"peer_assist":             {models.DimLeadership, 5},
	"telemetry_gap":           {models.DimObservability, -12},
	"heartbeat_healthy":       {models.DimObservability, 2},
}

// resolveEvent determines the (dimension, delta) an event applies.
// The table supplies defaults for the event type; an explicit
// Dimension or Delta on the event overrides its half of the pair.
// Returns ok=false when the event cannot be resolved (unmapped type
// without a full override, or an unknown dimension).
func resolveEvent(ev models.TelemetryEvent, known func(models.Dimension) bool) (models.Dimension, int, bool) {
	rule, mapped := eventTable[ev.Type]

	dim := rule.Dimension
	if ev.Dimension != "" {
		dim = ev.Dimension
	}
	delta := rule.Delta
	if ev.Delta != nil {
		delta = *ev.Delta
	}

	if !mapped && (ev.Dimension == "" || ev.Delta == nil) {
		return "", 0, false
	}
	if !known(dim) {
		return "", 0, false
	}
	return dim, delta, true
}
