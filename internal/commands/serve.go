package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mims-dev/mims/internal/api"
	"github.com/mims-dev/mims/internal/buildinfo"
	"github.com/mims-dev/mims/internal/config"
	"github.com/mims-dev/mims/internal/engine"
	"github.com/mims-dev/mims/internal/logging"
	prommetrics "github.com/mims-dev/mims/internal/metrics/prometheus"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ln, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.HTTP.Addr, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

// runServe serves the API on ln until ctx is cancelled, then shuts down
// within cfg.HTTP.ShutdownTimeout and drains pending notifications.
func runServe(ctx context.Context, cfg *config.Config, log *logging.Logger, ln net.Listener) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := prommetrics.NewCollector("mims")
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	eng, err := engine.New(ctx, engine.Options{Config: cfg, Metrics: m, Logger: log})
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Error("closing engine", zap.Error(err))
		}
	}()

	router := api.NewRouter(api.Services{
		Ledger:       eng.Ledger,
		Transactions: eng.Transactions,
		Reversals:    eng.Reversals,
		Loans:        eng.Loans,
		Ping:         eng.Ping,
	}, log, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("version", buildinfo.String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
