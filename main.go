package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eve-arbitrage/internal/api"
	"eve-arbitrage/internal/config"
	"eve-arbitrage/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Error("CLI", err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "eve-arbitrage",
		Short: "Scan EVE Online markets for hauling arbitrage",
		Long: `Runs the arbitrage scanning HTTP API.

Examples:
  eve-arbitrage
  eve-arbitrage --config configs/config.yaml
  eve-arbitrage scan region --region-id 10000002 --group-id 18`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.AddCommand(newScanCommand(&configPath))
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	logger.Banner(version)

	ctx, stop := signal.NotifyContext(orBackground(parent), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Load the universe in the background; scans answer 503 until then.
	go func() {
		u, err := a.universe.Universe(ctx)
		if err != nil {
			logger.Error("SDE", fmt.Sprintf("Load failed: %v", err))
			return
		}
		logger.Success("SDE", fmt.Sprintf("Scanner ready (%d systems)", len(u.SystemRegion)))
	}()
	if a.db != nil {
		go a.cleanupLoop(ctx, 10*time.Minute)
	}

	deps := api.Deps{
		Scanner:   a.scanner,
		Adjacency: a.adjacency,
		Universe:  a.universe,
		ESI:       a.esi,
		CacheSize: a.store.Len,
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics.Handler()
	}
	if a.db != nil {
		deps.PersistedEntries = a.db.CountEntries
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(cfg, deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Server(cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Server", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
