package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"broadcast/internal/admin"
	"broadcast/internal/config"
	"broadcast/internal/node"
	"broadcast/internal/telemetry"
	"broadcast/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("node failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := telemetry.NewMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger.Named("telemetry")); err != nil {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	opts := node.Options{
		GossipInterval: cfg.GossipInterval,
		Logger:         logger,
		Metrics:        metrics,
	}

	if cfg.AdminAddr != "" {
		adm, err := admin.New(cfg.AdminAddr, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := adm.Serve(); err != nil {
				logger.Warn("admin listener failed", zap.Error(err))
			}
		}()
		defer adm.Stop()
		opts.OnReady = func(string) { adm.SetServing(true) }
	}

	tr := transport.NewLine(os.Stdin, os.Stdout, cfg.MaxLineBytes)
	n := node.New(tr, opts)

	logger.Info("waiting for init",
		zap.Duration("gossip_interval", cfg.GossipInterval),
		zap.Int("max_line_bytes", cfg.MaxLineBytes))
	return n.Run(ctx)
}
