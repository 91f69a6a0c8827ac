// Package main runs the ingestion worker: a scheduled loop of crawl, parse,
// normalize and reconcile cycles over every configured source.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/metrics"
	"duiwatch/internal/pipeline"
	"duiwatch/internal/report"
	"duiwatch/internal/scheduler"
)

func main() {
	configFile := flag.String("config", "configs/worker.yaml", "Path to YAML configuration file")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	schedule := flag.String("schedule", "", "Cron schedule (overrides config)")

	flag.Parse()

	path := *configFile
	if _, err := os.Stat(path); err != nil {
		path = ""
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	if *schedule != "" {
		cfg.Worker.Schedule = *schedule
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, log); err != nil {
		log.Error("❌ Worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, log *logger.Logger) error {
	log.Info("🚀 Starting DUI bulletin worker", "config", cfg.String())

	m := metrics.New(nil)

	if cfg.Metrics.Addr != "" {
		go func() {
			log.Info("📈 Serving metrics", "addr", cfg.Metrics.Addr)

			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error("❌ Metrics server failed", "error", err)
			}
		}()
	}

	p, _, closeStore, err := pipeline.Build(ctx, cfg, m, log)
	if err != nil {
		return err
	}
	defer closeStore()

	cycle := func(ctx context.Context) error {
		stats, err := p.RunCycle(ctx)
		if stats != nil {
			_ = report.Write(os.Stdout, "\n"+report.Summary(stats)+"\n")
		}

		return err
	}

	if once {
		return cycle(ctx)
	}

	sched, err := scheduler.New(cfg.Worker.Schedule, cycle, log)
	if err != nil {
		return err
	}

	sched.Start(cfg.Worker.RunOnStart)

	<-ctx.Done()

	log.Info("🛑 Shutting down")
	sched.Stop()

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}

	return ctx.Err()
}
