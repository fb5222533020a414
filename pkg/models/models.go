package models

import (
	"fmt"
	"time"
)

// ── Score Bounds ─────────────────────────────────────────────

// Scores are integers on a fixed scale. Every write path clamps into
// this range; no score ever escapes it.
const (
	ScoreMin = 0
	ScoreMax = 1000
)

// ClampScore pins v into [ScoreMin, ScoreMax].
func ClampScore(v int) int {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}

// ── Tiers ────────────────────────────────────────────────────

// TierName is the short ordinal identifier of an autonomy tier ("T0".."T6").
type TierName string

const (
	TierT0 TierName = "T0"
	TierT1 TierName = "T1"
	TierT2 TierName = "T2"
	TierT3 TierName = "T3"
	TierT4 TierName = "T4"
	TierT5 TierName = "T5"
	TierT6 TierName = "T6"
)

// Tier is one autonomy band. Bands are contiguous and non-overlapping
// over [ScoreMin, ScoreMax]; exactly one tier is terminal.
type Tier struct {
	Name     TierName `json:"name"`
	Label    string   `json:"label"`
	Order    int      `json:"order"`
	MinScore int      `json:"min_score"`
	MaxScore int      `json:"max_score"`
	Terminal bool     `json:"terminal,omitempty"`
}

// Contains reports whether score falls inside the tier's band.
func (t Tier) Contains(score int) bool {
	return score >= t.MinScore && score <= t.MaxScore
}

// Midpoint is the integer center of the band, used to seed new agents.
func (t Tier) Midpoint() int {
	return (t.MinScore + t.MaxScore) / 2
}

// ── Dimensions ───────────────────────────────────────────────

// Dimension is one of the twelve behavioral axes an agent is scored on.
// The string value is the display name used in decision output.
type Dimension string

const (
	DimObservability  Dimension = "Observability"
	DimCapability     Dimension = "Capability"
	DimBehavior       Dimension = "Behavior"
	DimAlignment      Dimension = "Alignment"
	DimHumility       Dimension = "Humility"
	DimConsent        Dimension = "Consent"
	DimStewardship    Dimension = "Stewardship"
	DimExplainability Dimension = "Explainability"
	DimAccountability Dimension = "Accountability"
	DimCollaboration  Dimension = "Collaboration"
	DimReliability    Dimension = "Reliability"
	DimLeadership     Dimension = "Leadership"
)

// Category groups the twelve dimensions into four families.
type Category string

const (
	CategoryFoundation  Category = "foundation"
	CategoryAlignment   Category = "alignment"
	CategoryGovernance  Category = "governance"
	CategoryOperational Category = "operational"
)

// DimensionInfo is the catalog entry for one dimension.
type DimensionInfo struct {
	Name        Dimension `json:"name"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
}

// ── Trust State ──────────────────────────────────────────────

// Trend is a coarse direction flag updated with hysteresis so small
// deltas do not flap the indicator.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendStable Trend = "stable"
	TrendDown   Trend = "down"
)

// DimensionState is the per-axis slice of an agent's trust record.
type DimensionState struct {
	Score       int        `json:"score"`
	Trend       Trend      `json:"trend"`
	EventCount  int        `json:"event_count"`
	LastEvent   string     `json:"last_event,omitempty"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// EventEntry is one applied telemetry event in the bounded per-agent
// log. The log is kept most recent first.
type EventEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Dimension  Dimension `json:"dimension"`
	Delta      int       `json:"delta"`
	ScoreAfter int       `json:"score_after"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HistorySnapshot is a daily point-in-time capture of the overall and
// per-dimension scores, kept under a retention cap.
type HistorySnapshot struct {
	Date         time.Time         `json:"date"`
	OverallScore int               `json:"overall_score"`
	GateTier     TierName          `json:"gate_tier"`
	Dimensions   map[Dimension]int `json:"dimensions"`
}

// AgentTrustState is the full trust record for one agent.
//
// GateTier is the authorized tier and is written only when a gating
// decision is executed. ScoreTier is the advisory band the overall
// score currently maps into; it moves with every event and may sit
// above or below GateTier. Autonomy consumers must read GateTier.
type AgentTrustState struct {
	AgentID      string                       `json:"agent_id"`
	Name         string                       `json:"name,omitempty"`
	GateTier     TierName                     `json:"gate_tier"`
	ScoreTier    TierName                     `json:"score_tier"`
	OverallScore int                          `json:"overall_score"`
	Dimensions   map[Dimension]DimensionState `json:"dimensions"`
	Events       []EventEntry                 `json:"events,omitempty"`
	History      []HistorySnapshot            `json:"history,omitempty"`
	LastEventAt  *time.Time                   `json:"last_event_at,omitempty"`
	CreatedAt    time.Time                    `json:"created_at"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// Tier returns the binding tier for autonomy decisions.
func (s *AgentTrustState) Tier() TierName {
	return s.GateTier
}

// DimensionScores flattens the per-dimension states into a score map.
func (s *AgentTrustState) DimensionScores() map[Dimension]int {
	out := make(map[Dimension]int, len(s.Dimensions))
	for d, ds := range s.Dimensions {
		out[d] = ds.Score
	}
	return out
}

// Clone returns a deep copy so callers can never mutate stored state.
func (s *AgentTrustState) Clone() *AgentTrustState {
	if s == nil {
		return nil
	}
	out := *s
	out.Dimensions = make(map[Dimension]DimensionState, len(s.Dimensions))
	for d, ds := range s.Dimensions {
		if ds.LastEventAt != nil {
			t := *ds.LastEventAt
			ds.LastEventAt = &t
		}
		out.Dimensions[d] = ds
	}
	out.Events = append([]EventEntry(nil), s.Events...)
	out.History = make([]HistorySnapshot, len(s.History))
	for i, h := range s.History {
		dims := make(map[Dimension]int, len(h.Dimensions))
		for d, v := range h.Dimensions {
			dims[d] = v
		}
		h.Dimensions = dims
		out.History[i] = h
	}
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		out.LastEventAt = &t
	}
	return &out
}

// ── Telemetry Events ─────────────────────────────────────────

// TelemetryEvent is an inbound behavioral signal. Type selects the
// (dimension, delta) pair from the event table; Dimension and Delta
// each override their half of the pair when set, so custom signals
// can target any dimension without a table entry.
type TelemetryEvent struct {
	ID         string         `json:"id,omitempty"`
	AgentID    string         `json:"agent_id"`
	Type       string         `json:"type"`
	Dimension  Dimension      `json:"dimension,omitempty"`
	Delta      *int           `json:"delta,omitempty"`
	Source     string         `json:"source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at,omitempty"`
}

// ── Gating ───────────────────────────────────────────────────

// GatingOutcome is the verdict of one gating evaluation.
type GatingOutcome string

const (
	OutcomePromote GatingOutcome = "promote"
	OutcomeDemote  GatingOutcome = "demote"
	OutcomeHold    GatingOutcome = "hold"
)

// BlockedDimension renders the canonical "name (actual < required)"
// string used everywhere a blocking dimension is reported.
func BlockedDimension(d Dimension, actual, required int) string {
	return fmt.Sprintf("%s (%d < %d)", d, actual, required)
}

// GatingDecision is the full result of evaluating one agent against
// the gate. Decisions are value objects; executing one is a separate,
// audited step.
type GatingDecision struct {
	AgentID           string            `json:"agent_id"`
	CurrentTier       TierName          `json:"current_tier"`
	TargetTier        TierName          `json:"target_tier"`
	Outcome           GatingOutcome     `json:"outcome"`
	Reason            string            `json:"reason"`
	OverallScore      int               `json:"overall_score"`
	RequiredOverall   int               `json:"required_overall,omitempty"`
	BlockedDimensions []string          `json:"blocked_dimensions,omitempty"`
	MetDimensions     []string          `json:"met_dimensions,omitempty"`
	DimensionScores   map[Dimension]int `json:"dimension_scores,omitempty"`
	EvaluatedAt       time.Time         `json:"evaluated_at"`
}

// TierChangeRecord is one append-only audit entry. Records are never
// updated or deleted once written.
type TierChangeRecord struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	FromTier  TierName       `json:"from_tier"`
	ToTier    TierName       `json:"to_tier"`
	Decision  GatingDecision `json:"decision"`
	Approver  string         `json:"approver"`
	Timestamp time.Time      `json:"timestamp"`
}

// DimensionRequirement is one row of a promotion readiness report.
type DimensionRequirement struct {
	Dimension Dimension `json:"dimension"`
	Required  int       `json:"required"`
	Actual    int       `json:"actual"`
	Met       bool      `json:"met"`
}

// TierRequirements describes what the next tier up demands.
type TierRequirements struct {
	FromTier        TierName          `json:"from_tier"`
	NextTier        TierName          `json:"next_tier"`
	NextLabel       string            `json:"next_label"`
	RequiredOverall int               `json:"required_overall"`
	Thresholds      map[Dimension]int `json:"thresholds"`
}

// PromotionCheck is the read-only readiness report for one agent.
type PromotionCheck struct {
	AgentID         string                 `json:"agent_id"`
	CurrentTier     TierName               `json:"current_tier"`
	NextTier        TierName               `json:"next_tier,omitempty"`
	AtMaxTier       bool                   `json:"at_max_tier,omitempty"`
	Eligible        bool                   `json:"eligible"`
	OverallScore    int                    `json:"overall_score"`
	RequiredOverall int                    `json:"required_overall,omitempty"`
	Requirements    []DimensionRequirement `json:"requirements,omitempty"`
	Blocked         []string               `json:"blocked,omitempty"`
}
