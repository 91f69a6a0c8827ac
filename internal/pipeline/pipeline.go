// Package pipeline runs one ingestion cycle: every source is discovered,
// its bulletins fetched and parsed, and the resulting records normalized and
// reconciled into the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"duiwatch/internal/archive"
	"duiwatch/internal/crawler"
	"duiwatch/internal/crawler/parsers"
	"duiwatch/internal/logger"
	"duiwatch/internal/metrics"
	"duiwatch/internal/models"
	"duiwatch/internal/reconcile"
	"duiwatch/pkg/metadata"
	"duiwatch/pkg/utils"
)

// Defaults used when Options leaves them zero.
const (
	DefaultBatchSize     = 2
	DefaultSourceTimeout = 10 * time.Minute
)

// Discoverer finds and downloads bulletins for a source.
type Discoverer interface {
	Discover(ctx context.Context, src models.DataSource) (*crawler.Listing, error)
	FetchCandidate(ctx context.Context, src models.DataSource, link models.CandidateLink, referer string) (*models.RawDocument, error)
}

// StrategySelector picks the parser for a fetched document.
type StrategySelector interface {
	ForDocument(dt models.DataType, doc *models.RawDocument) (parsers.Strategy, error)
}

// Normalizer turns raw records into canonical ones.
type Normalizer interface {
	Process(raw *models.RawRecord, sourceName string) (*models.OffenderRecord, error)
}

// Reconciler merges canonical records into the store.
type Reconciler interface {
	Reconcile(ctx context.Context, rec *models.OffenderRecord, prov models.SourceProvenance) (reconcile.Result, error)
}

// Options wires a Pipeline.
type Options struct {
	Crawler       Discoverer
	Parsers       StrategySelector
	Normalizer    Normalizer
	Reconciler    Reconciler
	Archive       archive.Store
	Metrics       *metrics.Metrics
	Attempts      *crawler.AttemptLog
	Log           *logger.Logger
	Sources       []models.DataSource
	BatchSize     int
	BatchDelay    time.Duration
	SourceTimeout time.Duration
}

// Pipeline runs ingestion cycles. RunCycle is not safe for concurrent use;
// the scheduler guarantees cycles never overlap.
type Pipeline struct {
	opts Options
	log  *logger.Logger

	// mu serializes reconciliation across the documents of a batch.
	mu sync.Mutex
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}

	if opts.Archive == nil {
		opts.Archive = archive.Nop{}
	}

	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}

	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = DefaultSourceTimeout
	}

	return &Pipeline{opts: opts, log: opts.Log}
}

// Sources returns the sources processed by every cycle.
func (p *Pipeline) Sources() []models.DataSource {
	return p.opts.Sources
}

// RunCycle processes every source in order. A failing source is counted and
// the cycle moves on; the returned error is only non-nil when ctx itself was
// cancelled.
func (p *Pipeline) RunCycle(ctx context.Context) (*models.CycleStats, error) {
	stats := models.NewCycleStats(uuid.NewString())
	log := p.log.With("run", stats.RunID)

	p.opts.Metrics.SetRunning(true)
	defer p.opts.Metrics.SetRunning(false)

	if p.opts.Attempts != nil {
		p.opts.Attempts.Reset()
	}

	log.Info("🚀 Starting ingestion cycle", "sources", len(p.opts.Sources))

	for _, src := range p.opts.Sources {
		if ctx.Err() != nil {
			break
		}

		stats.Merge(p.runSource(ctx, src, log.With("source", src.ID)))
	}

	stats.FinishedAt = time.Now()

	if p.opts.Attempts != nil {
		p.opts.Attempts.LogSummary(log)
	}

	p.opts.Metrics.ObserveCycle(stats)

	log.Info("✨ Cycle complete", "stats", stats.String(), "duration", stats.Duration().Round(time.Millisecond))

	return stats, ctx.Err()
}

// runSource is the failure boundary of one source: it bounds the source by
// SourceTimeout and turns a panic into a counted failure.
func (p *Pipeline) runSource(ctx context.Context, src models.DataSource, log *logger.Logger) (stats *models.CycleStats) {
	stats = models.NewCycleStats("")
	start := time.Now()

	srcCtx, cancel := context.WithTimeout(ctx, p.opts.SourceTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("💥 Source panicked", "panic", r, "stack", string(debug.Stack()))

			stats.SourcesFailed++
			stats.AddError(string(Classify(fmt.Errorf("%w: %v", ErrSourcePanic, r))))
		}
	}()

	log.Info("📡 Processing source", "name", src.Name, "type", src.DataType, "url", src.BaseURL)

	err := p.processSource(srcCtx, src, stats, log)
	if err == nil && errors.Is(srcCtx.Err(), context.DeadlineExceeded) {
		err = srcCtx.Err()
	}

	if err != nil {
		category := Classify(err)
		if category == CategoryTimeout {
			log.Warn("⏱️ Source timed out, abandoning remaining documents", "timeout", p.opts.SourceTimeout)
		} else {
			log.Error("❌ Source failed", "category", category, "error", err)
		}

		stats.SourcesFailed++
		stats.AddError(string(category))

		return stats
	}

	stats.SourcesProcessed++

	log.Info("✅ Source done",
		"documents", stats.DocumentsFetched,
		"created", stats.RecordsCreated,
		"updated", stats.RecordsUpdated,
		"rejected", stats.RecordsRejected,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return stats
}

func (p *Pipeline) processSource(ctx context.Context, src models.DataSource, stats *models.CycleStats, log *logger.Logger) error {
	listing, err := p.opts.Crawler.Discover(ctx, src)
	if err != nil {
		return err
	}

	var statsMu sync.Mutex

	// Table sources often publish the offenders on the listing page itself.
	if src.DataType == models.DataTypeHTMLTable || src.DataType == models.DataTypeHTMLList {
		stats.DocumentsFetched++
		if err := p.handleDocument(ctx, src, listing.Page, stats, &statsMu, log); err != nil {
			stats.DocumentsFailed++
			stats.AddError(string(Classify(err)))
			log.Warn("⚠️  Listing page not parsed", "error", err)
		}
	}

	referer := src.BaseURL
	if listing.Page != nil && listing.Page.URL != "" {
		referer = listing.Page.URL
	}

	links := listing.Links

	for start := 0; start < len(links); start += p.opts.BatchSize {
		if start > 0 && p.opts.BatchDelay > 0 {
			if err := sleepContext(ctx, p.opts.BatchDelay); err != nil {
				return err
			}
		}

		end := min(start+p.opts.BatchSize, len(links))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.BatchSize)

		for _, link := range links[start:end] {
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						log.Error("💥 Document panicked", "url", link.URL, "panic", r)

						statsMu.Lock()
						stats.DocumentsFailed++
						stats.AddError(string(CategoryParse))
						statsMu.Unlock()
					}
				}()

				p.processLink(gctx, src, link, referer, stats, &statsMu, log)

				return nil
			})
		}

		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// processLink fetches and handles one candidate. Failures are counted on
// stats and never abort the source.
func (p *Pipeline) processLink(ctx context.Context, src models.DataSource, link models.CandidateLink, referer string, stats *models.CycleStats, statsMu *sync.Mutex, log *logger.Logger) {
	doc, err := p.opts.Crawler.FetchCandidate(ctx, src, link, referer)

	statsMu.Lock()
	if err != nil {
		stats.DocumentsFailed++
		stats.AddError(string(Classify(err)))
	} else {
		stats.DocumentsFetched++
	}
	statsMu.Unlock()

	if err != nil {
		log.Warn("⚠️  Document fetch failed", "url", link.URL, "error", err)

		return
	}

	if err := p.handleDocument(ctx, src, doc, stats, statsMu, log); err != nil {
		statsMu.Lock()
		stats.DocumentsFailed++
		stats.AddError(string(Classify(err)))
		statsMu.Unlock()

		log.Warn("⚠️  Document not parsed", "url", doc.URL, "category", Classify(err), "error", err)
	}
}

// handleDocument parses doc and reconciles every record it yields. Only a
// parse failure is returned; per-record failures are counted on stats.
func (p *Pipeline) handleDocument(ctx context.Context, src models.DataSource, doc *models.RawDocument, stats *models.CycleStats, statsMu *sync.Mutex, log *logger.Logger) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", parsers.ErrInvalidDocument)
	}

	strategy, err := p.opts.Parsers.ForDocument(src.DataType, doc)
	if err != nil {
		return err
	}

	records, err := strategy.Parse(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strategy.Name(), doc.URL, err)
	}

	simulated := false
	aiAssisted := false

	for _, rec := range records {
		simulated = simulated || rec.Simulated
		aiAssisted = aiAssisted || strings.HasPrefix(rec.Extractor, "ai")
	}

	statsMu.Lock()
	stats.RecordsParsed += len(records)
	if aiAssisted {
		stats.AIFallbacks++
	}
	statsMu.Unlock()

	log.Debug("📄 Parsed document", "url", doc.URL, "strategy", strategy.Name(), "records", len(records))

	p.archiveExtracted(ctx, src, doc, records, simulated, log)

	for i := range records {
		p.handleRecord(ctx, src, doc, &records[i], stats, statsMu, log)
	}

	return nil
}

func (p *Pipeline) handleRecord(ctx context.Context, src models.DataSource, doc *models.RawDocument, raw *models.RawRecord, stats *models.CycleStats, statsMu *sync.Mutex, log *logger.Logger) {
	if raw.Simulated {
		statsMu.Lock()
		stats.SimulatedExtracted++
		statsMu.Unlock()

		return
	}

	rec, err := p.opts.Normalizer.Process(raw, src.Name)
	if err != nil {
		statsMu.Lock()
		stats.RecordsRejected++
		statsMu.Unlock()

		log.Debug("🚫 Record rejected", "name", raw.Name, "reason", err)

		return
	}

	if rec.SourceURL == nil {
		rec.SourceURL = models.StringPtr(doc.URL)
	}

	if rec.CrawlTime.IsZero() {
		rec.CrawlTime = doc.DownloadedAt
	}

	prov := models.SourceProvenance{
		SourceName: src.Name,
		URL:        models.StringPtr(doc.URL),
		ImageURL:   rec.ImageURL,
		CrawlTime:  doc.DownloadedAt,
	}

	res, err := p.reconcile(ctx, rec, prov)

	statsMu.Lock()
	defer statsMu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrPersist, err)
		stats.AddError(string(Classify(err)))

		log.Error("❌ Failed to persist record",
			"name", rec.Name,
			"id_number", models.Deref(rec.IDNumber),
			"license_plate", models.Deref(rec.LicensePlate),
			"case_number", models.Deref(rec.CaseNumber),
			"error", err,
		)

		return
	}

	stats.RecordsPersisted++

	switch res.Outcome {
	case reconcile.Created:
		stats.RecordsCreated++
	case reconcile.Updated:
		stats.RecordsUpdated++
	}
}

func (p *Pipeline) reconcile(ctx context.Context, rec *models.OffenderRecord, prov models.SourceProvenance) (reconcile.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.opts.Reconciler.Reconcile(ctx, rec, prov)
}

// archiveExtracted writes the parsed records as a sealed envelope next to
// the raw document. Failures are logged only.
func (p *Pipeline) archiveExtracted(ctx context.Context, src models.DataSource, doc *models.RawDocument, records []models.RawRecord, simulated bool, log *logger.Logger) {
	env, err := metadata.Seal(src.ID, doc.URL, doc.SHA256, len(records), records)
	if err != nil {
		log.Warn("⚠️  Could not seal extracted records", "url", doc.URL, "error", err)

		return
	}

	env.Simulated = simulated

	body, err := env.Marshal()
	if err != nil {
		log.Warn("⚠️  Could not marshal extracted records", "url", doc.URL, "error", err)

		return
	}

	downloaded := doc.DownloadedAt
	if downloaded.IsZero() {
		downloaded = time.Now()
	}

	key := archive.ExtractedKey(src.ID, downloaded, utils.BaseName(doc.URL), doc.SHA256)
	if _, err := p.opts.Archive.Put(ctx, key, "application/json", body); err != nil {
		log.Warn("⚠️  Could not archive extracted records", "key", key, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
