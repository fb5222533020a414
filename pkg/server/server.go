// Package server provides the public entry point for initializing the
// trustplane gate.
//
// This package exists in pkg/ (not internal/) so embedders can run the
// full gate in-process instead of talking to it over HTTP:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//
// or skip the HTTP surface entirely and drive srv.Collector and
// srv.Engine directly.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustplane/trustplane/internal/api"
	"github.com/trustplane/trustplane/internal/api/handlers"
	"github.com/trustplane/trustplane/internal/collector"
	"github.com/trustplane/trustplane/internal/config"
	"github.com/trustplane/trustplane/internal/gating"
	"github.com/trustplane/trustplane/internal/policy"
	"github.com/trustplane/trustplane/internal/registry"
	"github.com/trustplane/trustplane/internal/store"
	"github.com/trustplane/trustplane/internal/telemetry"
)

// Server holds the initialized trustplane components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the key-value store shared by collector and engine.
	Store store.KV

	// Collector applies telemetry events to trust state.
	Collector *collector.Collector

	// Engine evaluates and executes tier changes.
	Engine *gating.Engine

	// Registry is the immutable tier/dimension/threshold table.
	Registry *registry.Registry

	// Config is the resolved configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error

	stopFlush chan struct{}
	stopOnce  sync.Once
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the gate with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	kv, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := kv.Ping(ctx); err != nil {
		kv.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}

	overlay, err := loadOverlay(cfg)
	if err != nil {
		kv.Close()
		return nil, err
	}
	reg, err := buildRegistry(cfg, overlay)
	if err != nil {
		kv.Close()
		return nil, err
	}
	log.Info().
		Int("tiers", len(reg.Tiers())).
		Int("dimensions", len(reg.Dimensions())).
		Msg("✅ Tier registry ready")

	col := collector.New(kv, reg, collector.Config{
		EventLogCap:     cfg.Collector.EventLogCap,
		HistoryCap:      cfg.Collector.HistoryCap,
		HistoryInterval: cfg.Collector.HistoryInterval.Std(),
	})
	gcfg := gatingConfig(cfg, overlay)
	eng := gating.New(kv, reg, col, gcfg)
	log.Info().Msg("✅ Trust collector initialized")
	log.Info().
		Float64("demotion_fraction", gcfg.DemotionFraction).
		Bool("auto_promote", !gcfg.DisableAutoPromote).
		Msg("✅ Gating engine initialized")

	h := handlers.New(col, eng, reg)
	router := api.NewRouter(cfg, h)

	srv := &Server{
		Handler:      router,
		Store:        kv,
		Collector:    col,
		Engine:       eng,
		Registry:     reg,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		stopFlush:    make(chan struct{}),
	}
	srv.startFlushLoop(cfg.Collector.FlushInterval.Std())
	return srv, nil
}

// Close stops background work and releases the store. Safe to call
// more than once.
func (s *Server) Close() error {
	s.stopOnce.Do(func() { close(s.stopFlush) })
	return s.Store.Close()
}

func openStore(cfg *config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		kv, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.Store.SQLitePath).Msg("✅ SQLite store initialized")
		return kv, nil
	case "", "memory":
		kv := store.NewMemoryStore(cfg.Store.DataDir)
		log.Info().Msg("✅ In-memory store initialized")
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// BuildRegistry compiles the tier registry, applying the policy
// overlay when one is configured. A bad overlay is a startup error,
// never a silent fallback to defaults.
func BuildRegistry(cfg *config.Config) (*registry.Registry, error) {
	overlay, err := loadOverlay(cfg)
	if err != nil {
		return nil, err
	}
	return buildRegistry(cfg, overlay)
}

func loadOverlay(cfg *config.Config) (*policy.Overlay, error) {
	if cfg.PolicyFile == "" {
		return nil, nil
	}
	overlay, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy overlay: %w", err)
	}
	return overlay, nil
}

func buildRegistry(cfg *config.Config, overlay *policy.Overlay) (*registry.Registry, error) {
	if overlay == nil {
		return registry.Default(), nil
	}
	reg, err := registry.WithOverlay(overlay)
	if err != nil {
		return nil, err
	}
	log.Info().Str("file", cfg.PolicyFile).Msg("✅ Policy overlay applied")
	return reg, nil
}

// gatingConfig resolves the engine knobs: the policy overlay's gating
// section, when present, overrides the server configuration. Gating
// behavior belongs to the policy document, not the deployment env.
func gatingConfig(cfg *config.Config, overlay *policy.Overlay) gating.Config {
	gcfg := gating.Config{
		DemotionFraction:   cfg.Gating.DemotionFraction,
		DisableAutoPromote: !cfg.Gating.AutoPromote,
		AuditRetention:     cfg.Gating.AuditRetention,
	}
	if overlay == nil || overlay.Gating == nil {
		return gcfg
	}
	if overlay.Gating.DemotionFraction != nil {
		gcfg.DemotionFraction = *overlay.Gating.DemotionFraction
	}
	if overlay.Gating.AutoPromote != nil {
		gcfg.DisableAutoPromote = !*overlay.Gating.AutoPromote
	}
	if overlay.Gating.AuditRetention != nil {
		gcfg.AuditRetention = *overlay.Gating.AuditRetention
	}
	return gcfg
}

// startFlushLoop re-persists all agent state on a fixed cadence. The
// flush is idempotent, so a crash between ticks costs at most one
// interval of unflushed mutations already covered by per-event writes.
func (s *Server) startFlushLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := s.Collector.Flush(context.Background())
				log.Debug().Int("agents", n).Msg("Periodic state flush")
			case <-s.stopFlush:
				return
			}
		}
	}()
}
