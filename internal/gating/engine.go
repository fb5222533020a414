// Package gating is the sole authority for binding tier transitions.
// The collector may relabel an agent's advisory score tier on every
// event, but an agent's authorized tier moves only when a gating
// decision is evaluated here and executed through the audited path.
package gating

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trustplane/trustplane/internal/collector"
	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/store"
	"github.com/trustplane/trustplane/pkg/models"
)

var tracer = otel.Tracer("trustplane-gating")

// Config tunes the gating engine.
type Config struct {
	// DemotionFraction of the current tier's minimum score below
	// which an agent is demoted. Default 0.8, clamped to [0.5, 1.0].
	DemotionFraction float64

	// DisableAutoPromote keeps RunAutoGating from executing promote
	// decisions. Demotions always execute.
	DisableAutoPromote bool

	// AuditRetention caps the audit collection when > 0; oldest
	// records are evicted past the cap. 0 keeps everything.
	AuditRetention int
}

func (c Config) withDefaults() Config {
	if c.DemotionFraction == 0 {
		c.DemotionFraction = 0.8
	}
	if c.DemotionFraction < 0.5 {
		c.DemotionFraction = 0.5
	}
	if c.DemotionFraction > 1.0 {
		c.DemotionFraction = 1.0
	}
	return c
}

// Health is the gating engine's durability and activity signal.
type Health struct {
	EvaluationsRun     int64  `json:"evaluations_run"`
	ChangesExecuted    int64  `json:"changes_executed"`
	AuditWriteFailures int64  `json:"audit_write_failures"`
	LastAuditError     string `json:"last_audit_error,omitempty"`
}

// Engine evaluates agents against the threshold table and executes
// authorized transitions.
type Engine struct {
	reg *registry.Registry
	col *collector.Collector
	cfg Config

	audit *auditLog

	healthMu sync.Mutex
	health   Health
}

// New creates a gating engine sharing the collector's store.
func New(kv store.KV, reg *registry.Registry, col *collector.Collector, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		reg:   reg,
		col:   col,
		cfg:   cfg,
		audit: newAuditLog(kv, cfg.AuditRetention),
	}
}

// ── Evaluation ───────────────────────────────────────────────

// Evaluate runs the gating decision logic for one agent. It never
// returns an error: agents that cannot be evaluated get a descriptive
// hold decision, preferring non-promotion over exceptions.
//
// Order: terminal check, demotion check against the aggregate floor,
// then the conjunctive threshold check for the next tier up.
func (e *Engine) Evaluate(ctx context.Context, agentID string) *models.GatingDecision {
	ctx, span := tracer.Start(ctx, "gating.evaluate",
		trace.WithAttributes(attribute.String("trustplane.agent_id", agentID)))
	defer span.End()

	e.healthMu.Lock()
	e.health.EvaluationsRun++
	e.healthMu.Unlock()

	st, err := e.col.GetState(ctx, agentID)
	if err != nil {
		reason := "unknown agent"
		if !store.IsNotFound(err) {
			reason = "trust state unavailable: " + err.Error()
		}
		return finish(span, &models.GatingDecision{
			AgentID:     agentID,
			Outcome:     models.OutcomeHold,
			Reason:      reason,
			EvaluatedAt: time.Now().UTC(),
		})
	}

	cur, _ := e.reg.TierByName(st.GateTier)
	d := &models.GatingDecision{
		AgentID:         agentID,
		CurrentTier:     cur.Name,
		TargetTier:      cur.Name,
		OverallScore:    st.OverallScore,
		DimensionScores: st.DimensionScores(),
		EvaluatedAt:     time.Now().UTC(),
	}

	next, hasNext := e.reg.NextTier(cur.Name)
	if !hasNext {
		d.Outcome = models.OutcomeHold
		d.Reason = "already at maximum tier"
		return finish(span, d)
	}

	// Demotion is dimension-independent: the aggregate score alone
	// decides whether the agent can keep its current band.
	if prev, hasPrev := e.reg.PrevTier(cur.Name); hasPrev {
		floor := demotionFloor(cur.MinScore, e.cfg.DemotionFraction)
		if st.OverallScore < floor {
			d.Outcome = models.OutcomeDemote
			d.TargetTier = prev.Name
			d.RequiredOverall = floor
			d.Reason = fmt.Sprintf("overall score %d fell below %d, the demotion floor for %s",
				st.OverallScore, floor, cur.Name)
			return finish(span, d)
		}
	}

	d.TargetTier = next.Name
	d.RequiredOverall = next.MinScore

	var blocked, met []string
	if thresholds, ok := e.reg.ThresholdSet(cur.Name, next.Name); ok {
		for _, di := range e.reg.Dimensions() {
			required, listed := thresholds[di.Name]
			if !listed {
				continue
			}
			actual := st.Dimensions[di.Name].Score
			if actual < required {
				blocked = append(blocked, models.BlockedDimension(di.Name, actual, required))
			} else {
				met = append(met, string(di.Name))
			}
		}
	}
	if st.OverallScore < next.MinScore {
		blocked = append(blocked, fmt.Sprintf("overall (%d < %d)", st.OverallScore, next.MinScore))
	}

	d.BlockedDimensions = blocked
	d.MetDimensions = met

	if len(blocked) > 0 {
		d.Outcome = models.OutcomeHold
		d.Reason = fmt.Sprintf("%d requirement(s) unmet for %s", len(blocked), next.Name)
		return finish(span, d)
	}

	d.Outcome = models.OutcomePromote
	d.Reason = fmt.Sprintf("all requirements met for %s", next.Name)
	return finish(span, d)
}

// demotionFloor is floor(min * fraction). The epsilon absorbs float
// noise so an exact product never truncates one short.
func demotionFloor(minScore int, fraction float64) int {
	return int(math.Floor(float64(minScore)*fraction + 1e-9))
}

func finish(span trace.Span, d *models.GatingDecision) *models.GatingDecision {
	span.SetAttributes(
		attribute.String("trustplane.outcome", string(d.Outcome)),
		attribute.String("trustplane.target_tier", string(d.TargetTier)),
	)
	return d
}

// ── Execution ────────────────────────────────────────────────

// ExecuteTierChange makes a decision binding. Hold decisions are a
// no-op returning (nil, nil). Promote and demote decisions write the
// authorized tier through the collector's single apply path and append
// an immutable audit record. Audit write failures are logged and
// counted, never returned: the tier change itself has already been
// applied.
func (e *Engine) ExecuteTierChange(ctx context.Context, d *models.GatingDecision, approver string) (*models.TierChangeRecord, error) {
	if d == nil {
		return nil, fmt.Errorf("gating: nil decision")
	}
	if d.Outcome == models.OutcomeHold {
		return nil, nil
	}
	if d.Outcome != models.OutcomePromote && d.Outcome != models.OutcomeDemote {
		return nil, fmt.Errorf("gating: unknown outcome %q", d.Outcome)
	}
	if approver == "" {
		approver = "system"
	}

	if _, err := e.col.ApplyTierChange(ctx, d.AgentID, d.TargetTier); err != nil {
		return nil, fmt.Errorf("apply tier change for %s: %w", d.AgentID, err)
	}

	rec := &models.TierChangeRecord{
		ID:        newAuditID(),
		AgentID:   d.AgentID,
		FromTier:  d.CurrentTier,
		ToTier:    d.TargetTier,
		Decision:  *d,
		Approver:  approver,
		Timestamp: time.Now().UTC(),
	}
	if err := e.audit.append(ctx, rec); err != nil {
		e.noteAuditFailure(d.AgentID, err)
	}

	e.healthMu.Lock()
	e.health.ChangesExecuted++
	e.healthMu.Unlock()

	log.Info().
		Str("agent_id", d.AgentID).
		Str("outcome", string(d.Outcome)).
		Str("from", string(d.CurrentTier)).
		Str("to", string(d.TargetTier)).
		Str("approver", approver).
		Msg("Tier change executed")
	return rec, nil
}

// ProcessPromotionRequest re-evaluates an agent for a manually
// requested promotion. The gate cannot be bypassed: when the computed
// target differs from the request, the result converts to a hold
// citing the blocking dimensions, and nothing executes.
func (e *Engine) ProcessPromotionRequest(ctx context.Context, agentID string, requestedTier models.TierName, justification string) (*models.GatingDecision, *models.TierChangeRecord, error) {
	if _, ok := e.reg.TierByName(requestedTier); !ok {
		return nil, nil, fmt.Errorf("gating: unknown tier %q", requestedTier)
	}

	d := e.Evaluate(ctx, agentID)
	if d.Outcome == models.OutcomePromote && d.TargetTier == requestedTier {
		approver := "manual"
		if justification != "" {
			approver = "manual:" + justification
		}
		rec, err := e.ExecuteTierChange(ctx, d, approver)
		return d, rec, err
	}

	denied := *d
	denied.Outcome = models.OutcomeHold
	denied.Reason = fmt.Sprintf("manual request for %s denied: evaluation yields %s toward %s",
		requestedTier, d.Outcome, d.TargetTier)
	log.Info().
		Str("agent_id", agentID).
		Str("requested", string(requestedTier)).
		Str("computed", string(d.TargetTier)).
		Msg("Manual promotion request denied")
	return &denied, nil, nil
}

// RunAutoGating evaluates every known agent and executes the non-hold
// decisions under the automated approver. Promotions are skipped when
// auto-promotion is disabled; demotions always execute. Returns the
// decisions that were executed.
func (e *Engine) RunAutoGating(ctx context.Context) []*models.GatingDecision {
	ctx, span := tracer.Start(ctx, "gating.sweep")
	defer span.End()

	states, err := e.col.ListStates(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Auto-gating sweep aborted, cannot list agents")
		return nil
	}

	var executed []*models.GatingDecision
	for _, st := range states {
		d := e.Evaluate(ctx, st.AgentID)
		if d.Outcome == models.OutcomeHold {
			continue
		}
		if d.Outcome == models.OutcomePromote && e.cfg.DisableAutoPromote {
			log.Debug().
				Str("agent_id", st.AgentID).
				Str("to", string(d.TargetTier)).
				Msg("Auto-promotion disabled, leaving promote decision unexecuted")
			continue
		}
		if _, err := e.ExecuteTierChange(ctx, d, "auto-gating"); err != nil {
			log.Error().Err(err).Str("agent_id", st.AgentID).Msg("Auto-gating execution failed")
			continue
		}
		executed = append(executed, d)
	}

	span.SetAttributes(
		attribute.Int("trustplane.agents_evaluated", len(states)),
		attribute.Int("trustplane.changes_executed", len(executed)),
	)
	log.Info().
		Int("evaluated", len(states)).
		Int("executed", len(executed)).
		Msg("Auto-gating sweep complete")
	return executed
}

// ── Inspection ───────────────────────────────────────────────

// NextTierRequirements reports what the tier above `from` demands.
// ok is false at the terminal tier or for an unknown tier.
func (e *Engine) NextTierRequirements(from models.TierName) (*models.TierRequirements, bool) {
	next, ok := e.reg.NextTier(from)
	if !ok {
		return nil, false
	}
	req := &models.TierRequirements{
		FromTier:        from,
		NextTier:        next.Name,
		NextLabel:       next.Label,
		RequiredOverall: next.MinScore,
	}
	if thresholds, ok := e.reg.ThresholdSet(from, next.Name); ok {
		req.Thresholds = thresholds
	}
	return req, true
}

// AuditForAgent returns the agent's tier change history, newest first.
func (e *Engine) AuditForAgent(ctx context.Context, agentID string) ([]models.TierChangeRecord, error) {
	return e.audit.forAgent(ctx, agentID)
}

// RecentAudit returns the most recent n records across all agents,
// newest first.
func (e *Engine) RecentAudit(ctx context.Context, n int) ([]models.TierChangeRecord, error) {
	return e.audit.recent(ctx, n)
}

// Health returns cumulative gating counters.
func (e *Engine) Health() Health {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.health
}

func (e *Engine) noteAuditFailure(agentID string, err error) {
	log.Error().Err(err).Str("agent_id", agentID).Msg("Audit record write failed, tier change stands")
	e.healthMu.Lock()
	e.health.AuditWriteFailures++
	e.health.LastAuditError = err.Error()
	e.healthMu.Unlock()
}
