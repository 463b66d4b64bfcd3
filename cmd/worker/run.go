package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/powlease/internal/config"
	"github.com/dreamware/powlease/internal/logging"
	"github.com/dreamware/powlease/internal/worker"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Lease and search ranges until the coordinator has no work left",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.String("config", getenv("POW_CONFIG", ""), "YAML configuration file")
	f.String("coordinator", "", "coordinator address")
	f.String("seed", "", "text every candidate is appended to")
	f.Int("zeros", 0, "leading zero hex digits required")
	f.Uint64("step", 0, "width of every work unit")
	f.Int("parallelism", 0, "scanning goroutines (0 means GOMAXPROCS)")
	f.Int("max-retries", 0, "connection attempts before giving up")
	f.Bool("stop-on-found", false, "exit after reporting the first match")
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

	if f.Changed("coordinator") {
		cfg.Worker.CoordinatorAddr, _ = f.GetString("coordinator")
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
	if f.Changed("parallelism") {
		cfg.Worker.Parallelism, _ = f.GetInt("parallelism")
	}
	if f.Changed("max-retries") {
		cfg.Worker.MaxRetries, _ = f.GetInt("max-retries")
	}
	if f.Changed("stop-on-found") {
		cfg.Worker.StopOnFound, _ = f.GetBool("stop-on-found")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}
	return cfg, cfg.Validate()
}

// run drives one worker session. An interrupt is a clean exit.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	session, err := worker.NewSession(worker.Config{
		CoordAddr:        cfg.Worker.CoordinatorAddr,
		Seed:             cfg.Search.Seed,
		ZeroPrefix:       cfg.Search.ZeroPrefix,
		Step:             cfg.Search.Step,
		MaxRetries:       cfg.Worker.MaxRetries,
		RetryDelay:       cfg.Worker.RetryDelay,
		MaxRetryDelay:    cfg.Worker.MaxRetryDelay,
		WaitDelay:        cfg.Worker.WaitDelay,
		IOTimeout:        cfg.Worker.IOTimeout,
		Parallelism:      cfg.Worker.Parallelism,
		ProgressEvery:    cfg.Worker.ProgressEvery,
		ProgressInterval: cfg.Worker.ProgressInterval,
		StopOnFound:      cfg.Worker.StopOnFound,
	}, worker.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("worker starting",
		"session", session.ID(),
		"coordinator", cfg.Worker.CoordinatorAddr,
		"step", cfg.Search.Step,
		"zero_prefix", cfg.Search.ZeroPrefix)

	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("worker interrupted")
		return nil
	}
	return err
}
