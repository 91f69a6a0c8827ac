// Package main provides the crawler command-line tool: a one-shot crawl of
// the configured sources that writes the parsed records to JSON without
// touching the store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"duiwatch/internal/ai"
	"duiwatch/internal/archive"
	"duiwatch/internal/config"
	"duiwatch/internal/crawler"
	"duiwatch/internal/crawler/parsers"
	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/internal/normalizer"
	"duiwatch/internal/report"
	"duiwatch/internal/validator"
)

type crawlResult struct {
	Source   string                   `json:"source"`
	URL      string                   `json:"url"`
	Links    []models.CandidateLink   `json:"links"`
	Records  []*models.OffenderRecord `json:"records"`
	Rejected int                      `json:"rejected"`
	Errors   []string                 `json:"errors,omitempty"`
}

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file")
	targetURL := flag.String("url", "", "Listing page to crawl (overrides config sources)")
	sourceType := flag.String("type", "html-table", "Data type for -url: pdf, image, html-table, html-list")
	localFile := flag.String("file", "", "Local document to parse (bypasses fetching)")
	outputDir := flag.String("output", "data/crawl", "Directory for the JSON results")
	verbose := flag.Bool("v", false, "Debug logging")
	showUsage := flag.Bool("help", false, "Show usage information")

	flag.Parse()

	if *showUsage {
		printUsage()
		os.Exit(0)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}

	lg := logger.NewLogger(level)
	ctx := context.Background()

	cfg, err := loadConfig(*configFile, *targetURL, *sourceType)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v\n", err)
	}

	client, err := ai.NewClient(ctx, cfg.AI, lg)
	if err != nil {
		log.Fatalf("❌ Failed to create AI client: %v\n", err)
	}

	structurer, err := ai.NewStructurer(client, cfg.AI, lg)
	if err != nil {
		log.Fatalf("❌ Failed to create structurer: %v\n", err)
	}

	registry := parsers.NewRegistry(parsers.Options{
		Structurer:        structurer,
		Quality:           validator.NewRecordValidator(0).Score,
		Log:               lg,
		FallbackThreshold: cfg.AI.FallbackThreshold,
	})
	processor := normalizer.NewProcessor(normalizer.DefaultAliases.Merge(cfg.Normalizer.Aliases))

	if *localFile != "" {
		runLocalFileMode(ctx, *localFile, *sourceType, *outputDir, registry, processor)

		return
	}

	arch, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		log.Fatalf("❌ Failed to open archive: %v\n", err)
	}

	fetcher := crawler.NewFetcher(cfg, arch, lg)
	crawlClient := crawler.NewClient(fetcher, lg)

	sources := cfg.DataSources()
	fmt.Printf("🕷️  DUI bulletin crawler: %d source(s)\n\n", len(sources))

	for i, src := range sources {
		fmt.Printf("----------------------------------------------------------------\n")
		fmt.Printf("📦 Source %d/%d: %s (%s)\n", i+1, len(sources), src.Name, src.DataType)

		result := crawlSource(ctx, crawlClient, registry, processor, src, lg)

		outputPath := filepath.Join(*outputDir, src.ID+".json")
		if err := crawler.SaveJSON(result, outputPath); err != nil {
			fmt.Printf("❌ Save failed: %v\n", err)

			continue
		}

		fmt.Print(report.Records(result.Records))
		fmt.Printf("✅ %d record(s), %d rejected, saved to %s\n\n", len(result.Records), result.Rejected, outputPath)
	}

	fetcher.Attempts().LogSummary(lg)

	fmt.Println("✨ Crawling complete!")
}

func loadConfig(path, url, dataType string) (*config.Config, error) {
	if url == "" {
		return config.LoadConfig(path)
	}

	if _, ok := models.ParseDataType(dataType); !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidDataType, dataType)
	}

	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{ID: "cli", Name: "CLI Argument", URL: url, Type: dataType, Enabled: true}}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return cfg, cfg.Validate()
}

func crawlSource(ctx context.Context, client *crawler.Client, registry *parsers.Registry, processor *normalizer.Processor, src models.DataSource, lg *logger.Logger) *crawlResult {
	result := &crawlResult{Source: src.ID, URL: src.BaseURL}

	listing, err := client.Discover(ctx, src)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())

		return result
	}

	result.Links = listing.Links

	var docs []*models.RawDocument

	if src.DataType == models.DataTypeHTMLTable || src.DataType == models.DataTypeHTMLList {
		docs = append(docs, listing.Page)
	}

	for _, link := range listing.Links {
		doc, err := client.FetchCandidate(ctx, src, link, listing.Page.URL)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())

			continue
		}

		docs = append(docs, doc)
	}

	for _, doc := range docs {
		records, err := parseDocument(ctx, registry, src.DataType, doc)
		if err != nil {
			lg.Warn("⚠️  Parse failed", "url", doc.URL, "error", err)
			result.Errors = append(result.Errors, err.Error())

			continue
		}

		for i := range records {
			if records[i].Simulated {
				continue
			}

			rec, err := processor.Process(&records[i], src.Name)
			if err != nil {
				result.Rejected++

				continue
			}

			result.Records = append(result.Records, rec)
		}
	}

	return result
}

func parseDocument(ctx context.Context, registry *parsers.Registry, dt models.DataType, doc *models.RawDocument) ([]models.RawRecord, error) {
	strategy, err := registry.ForDocument(dt, doc)
	if err != nil {
		return nil, err
	}

	return strategy.Parse(ctx, doc)
}

// runLocalFileMode parses a document from disk.
func runLocalFileMode(ctx context.Context, path, dataType, outputDir string, registry *parsers.Registry, processor *normalizer.Processor) {
	fmt.Println("🕷️  DUI bulletin crawler - Local File Mode")
	fmt.Printf("📂 Source file: %s\n\n", path)

	dt, ok := models.ParseDataType(dataType)
	if !ok {
		log.Fatalf("❌ Unknown data type: %s\n", dataType)
	}

	doc, err := crawler.LoadLocal(path, "local")
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	raw, err := parseDocument(ctx, registry, dt, doc)
	if err != nil {
		log.Fatalf("❌ Parse failed: %v\n", err)
	}

	result := &crawlResult{Source: "local", URL: doc.URL}

	for i := range raw {
		rec, err := processor.Process(&raw[i], "local")
		if err != nil {
			result.Rejected++

			continue
		}

		result.Records = append(result.Records, rec)
	}

	outputPath := filepath.Join(outputDir, doc.Title+".json")
	if err := crawler.SaveJSON(result, outputPath); err != nil {
		log.Fatalf("❌ Save failed: %v\n", err)
	}

	fmt.Print(report.Records(result.Records))
	fmt.Printf("\n📈 Summary:\n")
	fmt.Printf("  Parsed rows: %d\n", len(raw))
	fmt.Printf("  Records: %d\n", len(result.Records))
	fmt.Printf("  Rejected: %d\n", result.Rejected)
	fmt.Printf("  Output path: %s\n", outputPath)
}

func printUsage() {
	fmt.Println("Usage: ./bin/crawler [OPTIONS]")
	fmt.Println()
	fmt.Println("Modes:")
	fmt.Println("  1. Config-based:  ./bin/crawler -config configs/worker.yaml")
	fmt.Println("  2. Single page:   ./bin/crawler -url <URL> -type html-table")
	fmt.Println("  3. Local file:    ./bin/crawler -file <PATH> -type pdf")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}
