package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trustplane/trustplane/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trustplane HTTP gate",
	Long: `Start the trustplane server: telemetry ingestion, trust state,
promotion checks, gating decisions, and the audit trail over HTTP.

Configuration comes from TRUSTPLANE_* environment variables, optionally
layered over a YAML file named by --config or TRUSTPLANE_CONFIG.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info().Msg("🚦 Trustplane gate starting...")

		ctx := context.Background()
		srv, err := server.New(ctx)
		if err != nil {
			return fmt.Errorf("initialize server: %w", err)
		}
		defer srv.Close()
		defer srv.ShutdownFunc(ctx)

		httpServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", srv.Port),
			Handler:      srv.Handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		// Graceful shutdown
		go func() {
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			log.Info().Msg("🛑 Shutting down gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		log.Info().
			Int("port", srv.Port).
			Msg("🟢 Trustplane is green and the gate is open!")

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
