// Package handlers implements the HTTP handlers for the trustplane API.
// Handlers stay thin: decode, validate shape, delegate to the collector
// or gating engine, encode. Trust semantics live in those packages.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/trustplane/trustplane/internal/collector"
	"github.com/trustplane/trustplane/internal/gating"
	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/store"
	"github.com/trustplane/trustplane/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Collector *collector.Collector
	Engine    *gating.Engine
	Registry  *registry.Registry
}

// New creates a new Handlers instance with all dependencies.
func New(col *collector.Collector, eng *gating.Engine, reg *registry.Registry) *Handlers {
	return &Handlers{
		Collector: col,
		Engine:    eng,
		Registry:  reg,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Health & Info ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Health reports liveness plus the degraded-durability counters.
// Persistence failures never fail logical operations, so this endpoint
// is where that damage becomes visible.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "trustplane",
		"collector": h.Collector.Health(),
		"gating":    h.Engine.Health(),
	})
}

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type registerAgentRequest struct {
	AgentID      string          `json:"agent_id"`
	Name         string          `json:"name,omitempty"`
	StartingTier models.TierName `json:"starting_tier,omitempty"`
}

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AgentID == "" {
		respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	st, err := h.Collector.InitAgent(r.Context(), req.AgentID, req.Name, req.StartingTier)
	if err != nil {
		if req.StartingTier != "" {
			if _, ok := h.Registry.TierByName(req.StartingTier); !ok {
				respondError(w, http.StatusBadRequest, "unknown starting tier: "+string(req.StartingTier))
				return
			}
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, st)
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	states, err := h.Collector.ListStates(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if states == nil {
		states = []*models.AgentTrustState{}
	}
	respondJSON(w, http.StatusOK, states)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	st, err := h.Collector.GetState(r.Context(), agentID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "agent not found: "+agentID)
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handlers) CheckPromotion(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	check, err := h.Collector.CheckPromotion(r.Context(), agentID)
	if err != nil {
		if store.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "agent not found: "+agentID)
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, check)
}

// ══════════════════════════════════════════════════════════════
// ── Gating Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// EvaluateAgent is the dry-run gate: it computes the decision without
// executing it. Unknown agents yield a hold decision, not an error.
func (h *Handlers) EvaluateAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	d := h.Engine.Evaluate(r.Context(), agentID)
	respondJSON(w, http.StatusOK, d)
}

type promotionRequest struct {
	RequestedTier models.TierName `json:"requested_tier"`
	Justification string          `json:"justification,omitempty"`
}

type promotionResponse struct {
	Decision *models.GatingDecision   `json:"decision"`
	Change   *models.TierChangeRecord `json:"change,omitempty"`
}

// RequestPromotion handles a manual promotion request. The request is
// only honored when the engine's own evaluation independently promotes
// to the requested tier; anything else is reported as a hold.
func (h *Handlers) RequestPromotion(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req promotionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RequestedTier == "" {
		respondError(w, http.StatusBadRequest, "requested_tier is required")
		return
	}

	d, rec, err := h.Engine.ProcessPromotionRequest(r.Context(), agentID, req.RequestedTier, req.Justification)
	if err != nil {
		if _, ok := h.Registry.TierByName(req.RequestedTier); !ok {
			respondError(w, http.StatusBadRequest, "unknown tier: "+string(req.RequestedTier))
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, promotionResponse{Decision: d, Change: rec})
}

func (h *Handlers) AgentAudit(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	recs, err := h.Engine.AuditForAgent(r.Context(), agentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []models.TierChangeRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// RunSweep evaluates every agent and executes the non-hold decisions.
func (h *Handlers) RunSweep(w http.ResponseWriter, r *http.Request) {
	decisions := h.Engine.RunAutoGating(r.Context())
	if decisions == nil {
		decisions = []*models.GatingDecision{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"executed":  len(decisions),
		"decisions": decisions,
	})
}

func (h *Handlers) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := h.Engine.RecentAudit(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []models.TierChangeRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// ══════════════════════════════════════════════════════════════
// ── Telemetry Event Handlers ─────────────────────────────────
// ══════════════════════════════════════════════════════════════

// RecordEvent applies one behavioral signal. Unknown agents are
// auto-initialized at the lowest tier; unmapped event types apply as
// benign no-ops and still return the (possibly fresh) state.
func (h *Handlers) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var ev models.TelemetryEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if ev.AgentID == "" {
		respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if ev.Type == "" && (ev.Dimension == "" || ev.Delta == nil) {
		respondError(w, http.StatusBadRequest, "type is required (or dimension plus delta)")
		return
	}

	st, err := h.Collector.RecordEvent(r.Context(), ev)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Debug().
		Str("agent_id", ev.AgentID).
		Str("type", ev.Type).
		Int("overall", st.OverallScore).
		Msg("Telemetry event recorded")
	respondJSON(w, http.StatusOK, st)
}

// ══════════════════════════════════════════════════════════════
// ── Registry Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListTiers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.Tiers())
}

// TierRequirements reports what promotion out of the named tier
// demands. Terminal and unknown tiers have no promotion path.
func (h *Handlers) TierRequirements(w http.ResponseWriter, r *http.Request) {
	tierName := models.TierName(chi.URLParam(r, "tier"))

	if _, ok := h.Registry.TierByName(tierName); !ok {
		respondError(w, http.StatusNotFound, "unknown tier: "+string(tierName))
		return
	}

	reqs, ok := h.Engine.NextTierRequirements(tierName)
	if !ok {
		respondError(w, http.StatusNotFound, "no promotion path from tier: "+string(tierName))
		return
	}
	respondJSON(w, http.StatusOK, reqs)
}

func (h *Handlers) ListDimensions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.Dimensions())
}

// ══════════════════════════════════════════════════════════════
// ── Response Helpers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
