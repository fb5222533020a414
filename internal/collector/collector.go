// Package collector ingests telemetry events and maintains per-agent
// trust state: dimension scores, trends, the overall score, the
// advisory score tier, a bounded event log, and daily history
// snapshots. Every mutation is persisted synchronously, best-effort:
// a failed write is logged and counted, never surfaced to producers.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/scoring"
	"github.com/trustplane/trustplane/internal/store"
	"github.com/trustplane/trustplane/pkg/models"
)

// trendBand is the hysteresis half-width: the trend flag only flips
// when a single event moves a dimension by more than this many points.
const trendBand = 5

// Config tunes the collector's retention and snapshot cadence.
type Config struct {
	EventLogCap     int           // bounded per-agent event log (default 50)
	HistoryCap      int           // daily snapshots retained (default 90)
	HistoryInterval time.Duration // min gap between snapshots (default 24h)
}

func (c Config) withDefaults() Config {
	if c.EventLogCap <= 0 {
		c.EventLogCap = 50
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = 90
	}
	if c.HistoryInterval <= 0 {
		c.HistoryInterval = 24 * time.Hour
	}
	return c
}

// Health is the collector's degraded-durability signal. The logical
// operations never fail on persistence errors, so these counters are
// the only place that damage shows up.
type Health struct {
	PersistFailures  int64  `json:"persist_failures"`
	AutoInitialized  int64  `json:"auto_initialized"`
	MalformedRecords int64  `json:"malformed_records"`
	LastPersistError string `json:"last_persist_error,omitempty"`
}

// Collector applies telemetry events to agent trust state.
type Collector struct {
	kv  store.KV
	reg *registry.Registry
	cfg Config

	// Per-agent locks serialize read-modify-write cycles so events
	// for one agent apply strictly in call order.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	healthMu sync.Mutex
	health   Health
}

// New creates a collector on top of the given store and registry.
func New(kv store.KV, reg *registry.Registry, cfg Config) *Collector {
	return &Collector{
		kv:    kv,
		reg:   reg,
		cfg:   cfg.withDefaults(),
		locks: make(map[string]*sync.Mutex),
	}
}

// agentLock returns the mutex that serializes mutations for one agent.
func (c *Collector) agentLock(agentID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	mu, ok := c.locks[agentID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[agentID] = mu
	}
	return mu
}

// ── Lifecycle ────────────────────────────────────────────────

// InitAgent creates the trust state for an agent if it does not exist:
// every dimension is seeded at the midpoint of the starting tier's
// band and an initial history snapshot is written. Initializing an
// existing agent is an idempotent no-op that returns the current
// state. An empty startingTier means the lowest tier.
func (c *Collector) InitAgent(ctx context.Context, agentID, name string, startingTier models.TierName) (*models.AgentTrustState, error) {
	if agentID == "" {
		return nil, fmt.Errorf("collector: agent id is required")
	}
	if startingTier == "" {
		startingTier = c.reg.LowestTier().Name
	}
	tier, ok := c.reg.TierByName(startingTier)
	if !ok {
		return nil, fmt.Errorf("collector: unknown starting tier %q", startingTier)
	}

	mu := c.agentLock(agentID)
	mu.Lock()
	defer mu.Unlock()

	if st, err := c.loadState(ctx, agentID); err == nil {
		return st, nil
	} else if !store.IsNotFound(err) {
		return nil, err
	}

	st := c.newState(agentID, name, tier, time.Now().UTC())
	if err := c.persist(ctx, st); err != nil {
		return nil, fmt.Errorf("persist new agent %s: %w", agentID, err)
	}

	log.Info().
		Str("agent_id", agentID).
		Str("tier", string(tier.Name)).
		Int("seed_score", tier.Midpoint()).
		Msg("Agent trust state initialized")
	return st, nil
}

// newState builds a fresh trust record seeded at the tier midpoint.
func (c *Collector) newState(agentID, name string, tier models.Tier, now time.Time) *models.AgentTrustState {
	seed := tier.Midpoint()
	dims := make(map[models.Dimension]models.DimensionState, len(c.reg.Dimensions()))
	scores := make(map[models.Dimension]int, len(c.reg.Dimensions()))
	for _, di := range c.reg.Dimensions() {
		dims[di.Name] = models.DimensionState{Score: seed, Trend: models.TrendStable}
		scores[di.Name] = seed
	}

	overall := scoring.Overall(c.reg, tier.Name, scores)
	st := &models.AgentTrustState{
		AgentID:      agentID,
		Name:         name,
		GateTier:     tier.Name,
		ScoreTier:    c.reg.TierForScore(overall).Name,
		OverallScore: overall,
		Dimensions:   dims,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	st.History = []models.HistorySnapshot{c.snapshotOf(st, now)}
	return st
}

// ── Event ingestion ──────────────────────────────────────────

// RecordEvent applies one telemetry event: resolve the target
// dimension and delta, clamp-apply, update the trend flag, recompute
// the overall score under the agent's current tier weights, relabel
// the advisory score tier, log the event, and snapshot history once a
// day. Events for unknown agents auto-initialize them at the lowest
// tier. The updated state is returned even when the write behind it
// failed.
func (c *Collector) RecordEvent(ctx context.Context, ev models.TelemetryEvent) (*models.AgentTrustState, error) {
	if ev.AgentID == "" {
		return nil, fmt.Errorf("collector: event agent id is required")
	}
	if ev.Type == "" && (ev.Dimension == "" || ev.Delta == nil) {
		return nil, fmt.Errorf("collector: event type is required")
	}

	mu := c.agentLock(ev.AgentID)
	mu.Lock()
	defer mu.Unlock()

	created := false
	st, err := c.loadState(ctx, ev.AgentID)
	if store.IsNotFound(err) {
		st = c.newState(ev.AgentID, "", c.reg.LowestTier(), time.Now().UTC())
		created = true
		c.noteAutoInit(ev.AgentID, ev.Type)
	} else if err != nil {
		return nil, err
	}

	dim, delta, ok := resolveEvent(ev, c.reg.KnownDimension)
	if !ok {
		// Benign no-op: unmapped type or unknown dimension. The
		// auto-initialized state (if any) is still persisted.
		log.Debug().
			Str("agent_id", ev.AgentID).
			Str("type", ev.Type).
			Str("dimension", string(ev.Dimension)).
			Msg("Unresolvable telemetry event ignored")
		if created {
			c.persistBestEffort(ctx, st)
		}
		return st, nil
	}

	now := time.Now().UTC()
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	eventID := ev.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	ds := st.Dimensions[dim]
	before := ds.Score
	after := models.ClampScore(before + delta)

	ds.Score = after
	ds.Trend = nextTrend(ds.Trend, after-before)
	ds.EventCount++
	ds.LastEvent = ev.Type
	t := occurred
	ds.LastEventAt = &t
	st.Dimensions[dim] = ds

	st.OverallScore = scoring.Overall(c.reg, st.GateTier, st.DimensionScores())
	st.ScoreTier = c.reg.TierForScore(st.OverallScore).Name
	st.LastEventAt = &t
	st.UpdatedAt = now

	// Most recent first, bounded.
	st.Events = append([]models.EventEntry{{
		ID:         eventID,
		Type:       ev.Type,
		Dimension:  dim,
		Delta:      after - before,
		ScoreAfter: after,
		Source:     ev.Source,
		OccurredAt: occurred,
	}}, st.Events...)
	if len(st.Events) > c.cfg.EventLogCap {
		st.Events = st.Events[:c.cfg.EventLogCap]
	}

	c.maybeSnapshot(st, now)
	c.persistBestEffort(ctx, st)

	log.Debug().
		Str("agent_id", ev.AgentID).
		Str("type", ev.Type).
		Str("dimension", string(dim)).
		Int("delta", after-before).
		Int("overall", st.OverallScore).
		Msg("Telemetry event applied")
	return st, nil
}

// nextTrend flips the flag only when the move leaves the hysteresis
// band, so routine small deltas cannot flap the indicator.
func nextTrend(cur models.Trend, diff int) models.Trend {
	switch {
	case diff > trendBand:
		return models.TrendUp
	case diff < -trendBand:
		return models.TrendDown
	default:
		if cur == "" {
			return models.TrendStable
		}
		return cur
	}
}

// maybeSnapshot appends a daily history point once the configured
// interval has elapsed since the last one, evicting beyond the cap.
func (c *Collector) maybeSnapshot(st *models.AgentTrustState, now time.Time) {
	if n := len(st.History); n > 0 && now.Sub(st.History[n-1].Date) < c.cfg.HistoryInterval {
		return
	}
	st.History = append(st.History, c.snapshotOf(st, now))
	if len(st.History) > c.cfg.HistoryCap {
		st.History = st.History[len(st.History)-c.cfg.HistoryCap:]
	}
}

func (c *Collector) snapshotOf(st *models.AgentTrustState, now time.Time) models.HistorySnapshot {
	return models.HistorySnapshot{
		Date:         now,
		OverallScore: st.OverallScore,
		GateTier:     st.GateTier,
		Dimensions:   st.DimensionScores(),
	}
}

// ── Reads ────────────────────────────────────────────────────

// GetState returns the trust state for an agent, or *store.ErrNotFound.
func (c *Collector) GetState(ctx context.Context, agentID string) (*models.AgentTrustState, error) {
	return c.loadState(ctx, agentID)
}

// ListStates returns every known trust state, ordered by agent id.
func (c *Collector) ListStates(ctx context.Context) ([]*models.AgentTrustState, error) {
	ids, err := c.kv.ListKeys(ctx, store.CollectionAgents)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	out := make([]*models.AgentTrustState, 0, len(ids))
	for _, id := range ids {
		st, err := c.loadState(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				continue // deleted between list and load
			}
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// CheckPromotion reports, without mutating anything, whether the
// agent's dimension scores satisfy the next tier's thresholds and
// which dimensions block it.
func (c *Collector) CheckPromotion(ctx context.Context, agentID string) (*models.PromotionCheck, error) {
	st, err := c.loadState(ctx, agentID)
	if err != nil {
		return nil, err
	}

	check := &models.PromotionCheck{
		AgentID:      st.AgentID,
		CurrentTier:  st.GateTier,
		OverallScore: st.OverallScore,
	}

	next, ok := c.reg.NextTier(st.GateTier)
	if !ok {
		check.AtMaxTier = true
		return check, nil
	}
	check.NextTier = next.Name
	check.RequiredOverall = next.MinScore

	eligible := st.OverallScore >= next.MinScore
	if !eligible {
		check.Blocked = append(check.Blocked,
			fmt.Sprintf("overall (%d < %d)", st.OverallScore, next.MinScore))
	}

	thresholds, ok := c.reg.ThresholdSet(st.GateTier, next.Name)
	if ok {
		for _, di := range c.reg.Dimensions() {
			required, listed := thresholds[di.Name]
			if !listed {
				continue
			}
			actual := st.Dimensions[di.Name].Score
			met := actual >= required
			check.Requirements = append(check.Requirements, models.DimensionRequirement{
				Dimension: di.Name,
				Required:  required,
				Actual:    actual,
				Met:       met,
			})
			if !met {
				eligible = false
				check.Blocked = append(check.Blocked, models.BlockedDimension(di.Name, actual, required))
			}
		}
	}

	check.Eligible = eligible
	return check, nil
}

// ── Tier writes (gating engine only) ─────────────────────────

// ApplyTierChange writes the authorized tier for an agent. It is the
// single write path for GateTier; only the gating engine calls it,
// after a decision has been made and audited. The overall score is
// recomputed under the new tier's weight profile so stored state stays
// consistent with the next evaluation.
func (c *Collector) ApplyTierChange(ctx context.Context, agentID string, to models.TierName) (*models.AgentTrustState, error) {
	tier, ok := c.reg.TierByName(to)
	if !ok {
		return nil, fmt.Errorf("collector: unknown tier %q", to)
	}

	mu := c.agentLock(agentID)
	mu.Lock()
	defer mu.Unlock()

	st, err := c.loadState(ctx, agentID)
	if err != nil {
		return nil, err
	}

	from := st.GateTier
	st.GateTier = tier.Name
	st.OverallScore = scoring.Overall(c.reg, st.GateTier, st.DimensionScores())
	st.ScoreTier = c.reg.TierForScore(st.OverallScore).Name
	st.UpdatedAt = time.Now().UTC()

	c.persistBestEffort(ctx, st)

	log.Info().
		Str("agent_id", agentID).
		Str("from", string(from)).
		Str("to", string(tier.Name)).
		Int("overall", st.OverallScore).
		Msg("Authorized tier updated")
	return st, nil
}

// ── Maintenance ──────────────────────────────────────────────

// Flush re-serializes every known record. It is idempotent and safe to
// interleave with foreground writes; the periodic flush ticker calls
// it. Returns the number of records written.
func (c *Collector) Flush(ctx context.Context) int {
	ids, err := c.kv.ListKeys(ctx, store.CollectionAgents)
	if err != nil {
		log.Warn().Err(err).Msg("Flush: listing agents failed")
		return 0
	}

	flushed := 0
	for _, id := range ids {
		mu := c.agentLock(id)
		mu.Lock()
		st, err := c.loadState(ctx, id)
		if err == nil {
			if err := c.persist(ctx, st); err == nil {
				flushed++
			} else {
				c.notePersistFailure(id, err)
			}
		}
		mu.Unlock()
	}
	return flushed
}

// Health returns the cumulative durability counters.
func (c *Collector) Health() Health {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	return c.health
}

// ── Persistence internals ────────────────────────────────────

// loadState fetches and decodes one record. Undecodable records fail
// closed: the agent is treated as a floor-tier, zero-score state
// rather than crashing or erroring, and the damage is counted.
func (c *Collector) loadState(ctx context.Context, agentID string) (*models.AgentTrustState, error) {
	raw, err := c.kv.Get(ctx, store.CollectionAgents, agentID)
	if err != nil {
		return nil, err
	}

	var st models.AgentTrustState
	if err := json.Unmarshal(raw, &st); err != nil {
		c.noteMalformed(agentID, err)
		return c.floorState(agentID), nil
	}
	c.normalize(&st, agentID)
	return &st, nil
}

// normalize repairs a decoded record in place: unknown tiers fail
// closed to the lowest tier and the dimension map is completed so
// every catalog axis is present.
func (c *Collector) normalize(st *models.AgentTrustState, agentID string) {
	if st.AgentID == "" {
		st.AgentID = agentID
	}
	if _, ok := c.reg.TierByName(st.GateTier); !ok {
		c.noteMalformed(agentID, fmt.Errorf("unknown gate tier %q", st.GateTier))
		st.GateTier = c.reg.LowestTier().Name
	}
	if st.Dimensions == nil {
		st.Dimensions = make(map[models.Dimension]models.DimensionState, len(c.reg.Dimensions()))
	}
	for _, di := range c.reg.Dimensions() {
		ds, ok := st.Dimensions[di.Name]
		if !ok {
			st.Dimensions[di.Name] = models.DimensionState{Trend: models.TrendStable}
			continue
		}
		ds.Score = models.ClampScore(ds.Score)
		st.Dimensions[di.Name] = ds
	}
	if _, ok := c.reg.TierByName(st.ScoreTier); !ok {
		st.ScoreTier = c.reg.TierForScore(st.OverallScore).Name
	}
}

// floorState is the fail-closed stand-in for an undecodable record.
func (c *Collector) floorState(agentID string) *models.AgentTrustState {
	st := &models.AgentTrustState{
		AgentID:    agentID,
		GateTier:   c.reg.LowestTier().Name,
		ScoreTier:  c.reg.LowestTier().Name,
		Dimensions: make(map[models.Dimension]models.DimensionState, len(c.reg.Dimensions())),
	}
	for _, di := range c.reg.Dimensions() {
		st.Dimensions[di.Name] = models.DimensionState{Trend: models.TrendStable}
	}
	return st
}

func (c *Collector) persist(ctx context.Context, st *models.AgentTrustState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", st.AgentID, err)
	}
	if err := c.kv.Put(ctx, store.CollectionAgents, st.AgentID, data); err != nil {
		return fmt.Errorf("write state %s: %w", st.AgentID, err)
	}
	return nil
}

// persistBestEffort writes the record, downgrading failure to a log
// line and a health counter. Availability wins over durability here.
func (c *Collector) persistBestEffort(ctx context.Context, st *models.AgentTrustState) {
	if err := c.persist(ctx, st); err != nil {
		c.notePersistFailure(st.AgentID, err)
	}
}

func (c *Collector) notePersistFailure(agentID string, err error) {
	log.Error().Err(err).Str("agent_id", agentID).Msg("Trust state write failed, continuing")
	c.healthMu.Lock()
	c.health.PersistFailures++
	c.health.LastPersistError = err.Error()
	c.healthMu.Unlock()
}

func (c *Collector) noteAutoInit(agentID, eventType string) {
	log.Warn().
		Str("agent_id", agentID).
		Str("type", eventType).
		Msg("Event for unknown agent, auto-initializing at lowest tier")
	c.healthMu.Lock()
	c.health.AutoInitialized++
	c.healthMu.Unlock()
}

func (c *Collector) noteMalformed(agentID string, err error) {
	log.Error().Err(err).Str("agent_id", agentID).Msg("Malformed trust record, failing closed to lowest tier")
	c.healthMu.Lock()
	c.health.MalformedRecords++
	c.healthMu.Unlock()
}
