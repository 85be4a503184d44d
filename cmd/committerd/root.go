package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arkiv/checkpoint-committer/internal/committer"
	"github.com/arkiv/checkpoint-committer/internal/config"
	"github.com/arkiv/checkpoint-committer/internal/ingest/synthetic"
	"github.com/arkiv/checkpoint-committer/internal/metrics"
	"github.com/arkiv/checkpoint-committer/internal/notify"
	"github.com/arkiv/checkpoint-committer/internal/queue"
	"github.com/arkiv/checkpoint-committer/internal/server"
	"github.com/arkiv/checkpoint-committer/internal/store"
	"github.com/arkiv/checkpoint-committer/internal/store/postgres"
	"github.com/arkiv/checkpoint-committer/internal/store/sqlite"
	"github.com/arkiv/checkpoint-committer/internal/watermark"
)

const flagConfig = "config"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "committerd",
		Short:         "Checkpoint commit pipeline",
		Long:          `Commits indexed checkpoints to the store in ordered, atomic batches and publishes the last committed checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(flagConfig, "", "optional YAML config file; environment variables take precedence")
	root.AddCommand(newRunCmd(), newResumePointCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DatabaseConns, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func newResumePointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume-point",
		Short: "Print the first checkpoint that has not been committed yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			backend, err := openStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer backend.Close()

			next, err := store.ResumeFrom(ctx, backend, cfg.SyntheticStart)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the synthetic source and the commit loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
}

func run(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	start, err := store.ResumeFrom(ctx, backend, cfg.SyntheticStart)
	if err != nil {
		return fmt.Errorf("resume point: %w", err)
	}
	logger.Info("resuming", "checkpoint", start, "store", cfg.StoreDriver)

	// The main watcher stays open for the life of the process so the
	// publisher always has an observer.
	publisher, watcher := watermark.New()
	defer watcher.Close()

	c, err := committer.New(cfg.Committer, backend, publisher, m, logger)
	if err != nil {
		return err
	}
	q := queue.New(cfg.QueueCapacity, m.QueueInflight)
	logger.Info("checkpoint queue ready", "capacity", q.Cap())
	src := synthetic.New(cfg.ChainID, start, cfg.SyntheticMaxTx)
	srv := server.New(cfg.Addr, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, watcher.Clone(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return synthetic.Run(gctx, src, q, cfg.SyntheticInterval, logger.With("component", "synthetic"))
	})
	g.Go(func() error {
		// Not tied to gctx: after the source closes the queue the loop
		// commits what is buffered and returns.
		if err := c.Run(context.Background(), q); err != nil {
			return fmt.Errorf("commit task: %w", err)
		}
		return nil
	})
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	if len(cfg.KafkaBrokers) > 0 {
		fwd, err := notify.NewKafkaForwarder(notify.Config{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			ClientID: "committerd",
			ChainID:  cfg.ChainID,
		}, logger)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		w := watcher.Clone()
		g.Go(func() error { return fwd.Run(gctx, w) })
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}
