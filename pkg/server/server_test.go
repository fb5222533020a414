package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/trustplane/trustplane/internal/config"
	"github.com/trustplane/trustplane/pkg/models"
	"github.com/trustplane/trustplane/pkg/server"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:    8080,
		Version: "0.0.0-test",
		Store:   config.StoreConfig{Backend: "memory"},
	}
}

// raiseAllDimensions pushes every dimension of agentID up by 300 so
// the agent clears the lowest gate comfortably.
func raiseAllDimensions(t *testing.T, srv *server.Server, agentID string) {
	t.Helper()
	ctx := context.Background()
	delta := 300
	for _, dim := range srv.Registry.Dimensions() {
		_, err := srv.Collector.RecordEvent(ctx, models.TelemetryEvent{
			AgentID:   agentID,
			Type:      "manual_adjustment",
			Dimension: dim.Name,
			Delta:     &delta,
		})
		if err != nil {
			t.Fatalf("RecordEvent(%s) error = %v", dim.Name, err)
		}
	}
}

func TestNewWithConfig_MemoryBackend(t *testing.T) {
	srv, err := server.NewWithConfig(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health: status = %d, want %d", w.Code, http.StatusOK)
	}

	if srv.Port != 8080 {
		t.Errorf("Port = %d, want 8080", srv.Port)
	}

	// Close is idempotent.
	if err := srv.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNewWithConfig_SQLiteBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "trust.db")

	srv, err := server.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.Close()

	if _, err := os.Stat(cfg.Store.SQLitePath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestNewWithConfig_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "etcd"

	if _, err := server.NewWithConfig(context.Background(), cfg); err == nil {
		t.Fatal("NewWithConfig() error = nil, want unknown backend error")
	}
}

func TestNewWithConfig_PolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := "version: 1\nthresholds:\n  T0:\n    Observability: 180\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.PolicyFile = path

	srv, err := server.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.Close()

	set, ok := srv.Registry.ThresholdSet(models.TierT0, models.TierT1)
	if !ok {
		t.Fatal("ThresholdSet(T0, T1) not found")
	}
	if got := set[models.DimObservability]; got != 180 {
		t.Errorf("Observability threshold = %d, want 180", got)
	}
	if len(set) != 1 {
		t.Errorf("len(threshold set) = %d, want 1 (overlay replaces the row)", len(set))
	}
}

func TestNewWithConfig_BadPolicyFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	// Weight rows must cover all dimensions; this one cannot pass.
	doc := "version: 1\nweights:\n  T0:\n    Observability: 1000\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.PolicyFile = path

	if _, err := server.NewWithConfig(context.Background(), cfg); err == nil {
		t.Fatal("NewWithConfig() error = nil, want overlay rejection")
	}
}

func TestNewWithConfig_MissingPolicyFile(t *testing.T) {
	cfg := testConfig()
	cfg.PolicyFile = filepath.Join(t.TempDir(), "absent.yaml")

	if _, err := server.NewWithConfig(context.Background(), cfg); err == nil {
		t.Fatal("NewWithConfig() error = nil, want load error")
	}
}

func TestNewWithConfig_OverlayGatingKnobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := "version: 1\ngating:\n  auto_promote: false\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.PolicyFile = path
	cfg.Gating.AutoPromote = true // the overlay must win

	srv, err := server.NewWithConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.Close()

	ctx := context.Background()
	if _, err := srv.Collector.InitAgent(ctx, "agent-ready", "Ready", ""); err != nil {
		t.Fatalf("InitAgent() error = %v", err)
	}
	raiseAllDimensions(t, srv, "agent-ready")

	if executed := srv.Engine.RunAutoGating(ctx); len(executed) != 0 {
		t.Fatalf("RunAutoGating() executed %d changes, want 0 with auto-promote off", len(executed))
	}
	st, err := srv.Collector.GetState(ctx, "agent-ready")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if st.GateTier != models.TierT0 {
		t.Errorf("GateTier = %s, want T0 (promotion withheld by overlay)", st.GateTier)
	}
}

func TestNewWithConfig_PromotionLandsInAudit(t *testing.T) {
	srv, err := server.NewWithConfig(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	defer srv.Close()

	ctx := context.Background()
	if _, err := srv.Collector.InitAgent(ctx, "agent-audit", "Audit", ""); err != nil {
		t.Fatalf("InitAgent() error = %v", err)
	}
	raiseAllDimensions(t, srv, "agent-audit")

	if _, _, err := srv.Engine.ProcessPromotionRequest(ctx, "agent-audit", models.TierT1, "quarterly review"); err != nil {
		t.Fatalf("ProcessPromotionRequest() error = %v", err)
	}

	recs, err := srv.Engine.AuditForAgent(ctx, "agent-audit")
	if err != nil {
		t.Fatalf("AuditForAgent() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.FromTier != models.TierT0 || rec.ToTier != models.TierT1 {
		t.Errorf("transition = %s to %s, want T0 to T1", rec.FromTier, rec.ToTier)
	}
	if rec.Approver != "manual:quarterly review" {
		t.Errorf("approver = %q, want manual:quarterly review", rec.Approver)
	}
	if st, err := srv.Collector.GetState(ctx, "agent-audit"); err != nil {
		t.Fatalf("GetState() error = %v", err)
	} else if st.GateTier != models.TierT1 {
		t.Errorf("GateTier = %s, want T1", st.GateTier)
	}
}
