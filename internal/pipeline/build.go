package pipeline

import (
	"context"
	"fmt"

	"duiwatch/internal/ai"
	"duiwatch/internal/archive"
	"duiwatch/internal/config"
	"duiwatch/internal/crawler"
	"duiwatch/internal/crawler/parsers"
	"duiwatch/internal/logger"
	"duiwatch/internal/metrics"
	"duiwatch/internal/normalizer"
	"duiwatch/internal/reconcile"
	"duiwatch/internal/store"
	"duiwatch/internal/store/backend"
	"duiwatch/internal/validator"
)

// Build wires a pipeline from configuration. The returned Store is the one
// records are reconciled into; close releases it.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (p *Pipeline, st store.Store, closeFn func(), err error) {
	if log == nil {
		log = logger.NewNop()
	}

	arch, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open archive: %w", err)
	}

	fetcher := crawler.NewFetcher(cfg, arch, log)

	client, err := ai.NewClient(ctx, cfg.AI, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ai client: %w", err)
	}

	structurer, err := ai.NewStructurer(client, cfg.AI, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ai structurer: %w", err)
	}

	registry := parsers.NewRegistry(parsers.Options{
		Structurer:        structurer,
		Quality:           validator.NewRecordValidator(0).Score,
		Log:               log,
		FallbackThreshold: cfg.AI.FallbackThreshold,
	})

	st, err = backend.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	closeFn = func() {
		if err := st.Close(); err != nil {
			log.Warn("⚠️  Failed to close store", "error", err)
		}
	}

	p = New(Options{
		Crawler:       crawler.NewClient(fetcher, log),
		Parsers:       registry,
		Normalizer:    normalizer.NewProcessor(normalizer.DefaultAliases.Merge(cfg.Normalizer.Aliases)),
		Reconciler:    reconcile.New(st, log),
		Archive:       arch,
		Metrics:       m,
		Attempts:      fetcher.Attempts(),
		Log:           log,
		Sources:       cfg.DataSources(),
		BatchSize:     cfg.Fetch.BatchSize,
		BatchDelay:    cfg.Fetch.BatchDelay(),
		SourceTimeout: cfg.Worker.SourceTimeout(),
	})

	return p, st, closeFn, nil
}
