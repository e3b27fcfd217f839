package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/perfguard/internal/accounts"
	httpapi "github.com/sawpanic/perfguard/internal/interfaces/http"
	"github.com/sawpanic/perfguard/internal/interfaces/http/handlers"
	"github.com/sawpanic/perfguard/internal/persistence"
)

func (a *app) newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a saved model over a read-only HTTP API",
		Long:  "Starts an HTTP server with /health, /thresholds, /thresholds/{time_control}/{bin} and /metrics",
		RunE:  a.runServe,
	}

	serveCmd.Flags().String("model", "", "Saved model path or name (default from config)")
	serveCmd.Flags().String("host", "", "HTTP server host (default from config)")
	serveCmd.Flags().Int("port", 0, "HTTP server port (default from config)")
	serveCmd.Flags().AddFlagSet(statusFlags())
	return serveCmd
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	modelRef, _ := cmd.Flags().GetString("model")
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")

	serverCfg := a.cfg.Server
	if host != "" {
		serverCfg.Host = host
	}
	if port != 0 {
		serverCfg.Port = port
	}

	manager, err := a.openDatabase(ctx, cmd.Flags())
	if err != nil {
		return err
	}
	var dbHealth persistence.RepositoryHealth
	if manager != nil {
		defer manager.Close()
		dbHealth = manager.Health()
	}

	model, meta, err := a.resolveModel(ctx, modelRef, manager, accounts.NewOracle(accounts.StaticLookup{}))
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(serverCfg, handlers.NewHandlers(model, meta, dbHealth), a.metrics.Gatherer())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server exited")
	return <-errCh
}
