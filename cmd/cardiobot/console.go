package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinicapro/cardiobot/internal/channel/console"
	tracing "github.com/clinicapro/cardiobot/internal/observability"
	"github.com/clinicapro/cardiobot/pkg/config"
	"github.com/clinicapro/cardiobot/pkg/observability"
)

const shutdownTimeout = 30 * time.Second

func newConsoleCmd() *cobra.Command {
	var metrics bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Start an interactive operator session",
		Long: `Start an interactive session in the terminal. Type case descriptions or
commands such as /login, /analyze and /help. Attach media with
":voice <file>", ":audio <file>" or ":image <file> [caption]".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConsole(ctx, cfg, logger, metrics)
		},
	}

	cmd.Flags().BoolVar(&metrics, "metrics", true, "serve metrics and health probes")
	return cmd
}

func runConsole(ctx context.Context, cfg *config.Config, logger *zap.Logger, serveMetrics bool) error {
	if err := tracing.Init(ctx, tracing.Config{
		Exporter: cfg.Observability.Tracing.Exporter,
		Endpoint: cfg.Observability.Tracing.Endpoint,
		Headers:  cfg.Observability.Tracing.Headers,
	}, logger); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	con := console.New(cfg.Channel.UserID, os.Stdout, logger)
	d, err := a.dispatcher(ctx, con)
	if err != nil {
		return err
	}

	observability.InitMetrics()
	server := observability.NewServer(cfg.Observability.MetricsPort, a.health)

	a.sweeper.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.sweeper.Stop(sctx)
	}()

	// Leaving the console stops the metrics server.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if serveMetrics {
		g.Go(func() error {
			logger.Info("serving metrics", zap.Int("port", cfg.Observability.MetricsPort))
			return server.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return con.Run(gctx, d)
	})

	return g.Wait()
}
