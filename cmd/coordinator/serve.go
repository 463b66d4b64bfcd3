package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/powlease/internal/config"
	"github.com/dreamware/powlease/internal/coordinator"
	"github.com/dreamware/powlease/internal/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve leases to workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Coordinator.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Coordinator.ListenAddr, err)
			}
			var adminLn net.Listener
			if cfg.Coordinator.AdminAddr != "" {
				adminLn, err = net.Listen("tcp", cfg.Coordinator.AdminAddr)
				if err != nil {
					ln.Close()
					return fmt.Errorf("listen admin %s: %w", cfg.Coordinator.AdminAddr, err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, ln, adminLn)
		},
	}

	f := cmd.Flags()
	f.String("config", getenv("POW_CONFIG", ""), "YAML configuration file")
	f.String("listen", "", "lease protocol listen address")
	f.String("admin", "", "admin HTTP listen address (empty keeps the configured one)")
	f.String("seed", "", "text every candidate is appended to")
	f.Int("zeros", 0, "leading zero hex digits required")
	f.Uint64("step", 0, "width of every work unit")
	f.Int("units", 0, "number of work units")
	f.Duration("lease-timeout", 0, "lease age after which a unit is reclaimed")
	f.Duration("sweep-interval", 0, "time between reclaim sweeps")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text or json")
	return cmd
}

// loadConfig resolves file, then environment, then explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.FromEnv(&cfg); err != nil {
		return config.Config{}, err
	}

	if f.Changed("listen") {
		cfg.Coordinator.ListenAddr, _ = f.GetString("listen")
	}
	if f.Changed("admin") {
		cfg.Coordinator.AdminAddr, _ = f.GetString("admin")
	}
	if f.Changed("seed") {
		cfg.Search.Seed, _ = f.GetString("seed")
	}
	if f.Changed("zeros") {
		cfg.Search.ZeroPrefix, _ = f.GetInt("zeros")
	}
	if f.Changed("step") {
		cfg.Search.Step, _ = f.GetUint64("step")
	}
	if f.Changed("units") {
		cfg.Coordinator.UnitCount, _ = f.GetInt("units")
	}
	if f.Changed("lease-timeout") {
		cfg.Coordinator.LeaseTimeout, _ = f.GetDuration("lease-timeout")
	}
	if f.Changed("sweep-interval") {
		cfg.Coordinator.SweepInterval, _ = f.GetDuration("sweep-interval")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}
	return cfg, cfg.Validate()
}

// serve runs the lease server on ln, the reclaim sweeper and, when adminLn
// is non-nil, the admin HTTP server until ctx is canceled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, ln, adminLn net.Listener) error {
	registry, err := coordinator.NewRegistry(cfg.Coordinator.UnitCount, cfg.Search.Step, cfg.Coordinator.LeaseTimeout)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := coordinator.NewMetrics(reg, cfg.Coordinator.MetricsNamespace)
	if err != nil {
		return err
	}
	if err := coordinator.ObserveRegistry(reg, cfg.Coordinator.MetricsNamespace, registry); err != nil {
		return err
	}

	sweeper := coordinator.NewReclaimSweeper(registry,
		cfg.Coordinator.SweepInterval,
		cfg.Coordinator.LeaseTimeout,
		coordinator.WithSweeperLogger(logger),
		coordinator.WithSweeperMetrics(metrics))
	srv := coordinator.NewServer(registry, coordinator.ServerConfig{
		Seed:       cfg.Search.Seed,
		ZeroPrefix: cfg.Search.ZeroPrefix,
		IOTimeout:  cfg.Coordinator.IOTimeout,
	}, coordinator.WithLogger(logger), coordinator.WithMetrics(metrics))

	logger.Info("coordinator starting",
		"units", cfg.Coordinator.UnitCount,
		"step", cfg.Search.Step,
		"seed", cfg.Search.Seed,
		"zero_prefix", cfg.Search.ZeroPrefix,
		"lease_timeout", cfg.Coordinator.LeaseTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if adminLn != nil {
		httpSrv := &http.Server{
			Handler:           srv.AdminHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin listening", "addr", adminLn.Addr().String())
			if err := httpSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	sweeper.Stop()

	st := registry.Stats()
	logger.Info("coordinator stopped",
		"completed", st.Completed,
		"assigned", st.Assigned,
		"available", st.Available,
		"found", st.Found,
		"solutions", srv.Solutions().Len())
	return err
}
