// Package main provides the offline extractor: it parses a directory of
// bulletin PDFs and writes one JSON file per PDF plus a summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"duiwatch/internal/ai"
	"duiwatch/internal/config"
	"duiwatch/internal/crawler"
	"duiwatch/internal/crawler/parsers"
	"duiwatch/internal/logger"
	"duiwatch/internal/validator"
	"duiwatch/pkg/metadata"
)

// SummaryFile is written next to the per-PDF results.
const SummaryFile = "extraction_summary.json"

type fileSummary struct {
	Filename    string `json:"filename"`
	PublishDate string `json:"publish_date,omitempty"`
	RecordCount int    `json:"record_count"`
	HasError    bool   `json:"has_error"`
}

type summary struct {
	ExtractionDate time.Time     `json:"extraction_date"`
	PDFSummaries   []fileSummary `json:"pdf_summaries"`
	TotalPDFs      int           `json:"total_pdfs"`
	TotalRecords   int           `json:"total_records"`
}

type failedExtraction struct {
	Filename    string `json:"filename"`
	SourcePath  string `json:"source_path"`
	PublishDate string `json:"publish_date,omitempty"`
	Error       string `json:"error"`
}

func main() {
	pdfDir := flag.String("pdf_dir", "data/processed", "Directory holding the PDF files")
	outputDir := flag.String("output_dir", "data/extracted", "Output directory")
	configFile := flag.String("config", "", "Optional YAML configuration enabling the AI fallback")
	useAI := flag.Bool("ai", false, "Use the AI adapter when the layout parse looks poor")

	flag.Parse()

	lg := logger.NewLogger("info")
	ctx := context.Background()

	opts := parsers.Options{Log: lg, Quality: validator.NewRecordValidator(0).Score}

	if *useAI {
		aiCfg := config.Default().AI

		if *configFile != "" {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				log.Fatalf("❌ Failed to load config: %v\n", err)
			}

			aiCfg = cfg.AI
		}

		client, err := ai.NewClient(ctx, aiCfg, lg)
		if err != nil {
			log.Fatalf("❌ Failed to create AI client: %v\n", err)
		}

		structurer, err := ai.NewStructurer(client, aiCfg, lg)
		if err != nil {
			log.Fatalf("❌ Failed to create structurer: %v\n", err)
		}

		opts.Structurer = structurer
		opts.FallbackThreshold = aiCfg.FallbackThreshold
	}

	sum, err := extractDir(ctx, parsers.NewPDFStrategy(opts), *pdfDir, *outputDir, lg)
	if err != nil {
		log.Fatalf("❌ Extraction failed: %v\n", err)
	}

	fmt.Printf("\n📝 Summary written to: %s\n", filepath.Join(*outputDir, SummaryFile))
	fmt.Printf("✅ Processed %d PDF file(s), extracted %d record(s)\n", sum.TotalPDFs, sum.TotalRecords)
}

// extractDir parses every PDF under dir. A PDF that fails still gets an
// output file carrying the error, and is flagged in the summary.
func extractDir(ctx context.Context, strategy parsers.Strategy, dir, outDir string, lg *logger.Logger) (*summary, error) {
	pdfs, err := findPDFs(dir)
	if err != nil {
		return nil, err
	}

	sum := &summary{ExtractionDate: time.Now().UTC(), TotalPDFs: len(pdfs), PDFSummaries: []fileSummary{}}

	for _, path := range pdfs {
		name := filepath.Base(path)
		entry := fileSummary{Filename: name, PublishDate: metadata.PublishDate(name)}

		lg.Info("📂 Processing file", "file", name)

		var out any

		env, count, err := extractFile(ctx, strategy, path, entry.PublishDate)
		if err == nil {
			out = env
		} else {
			lg.Warn("⚠️  Extraction failed", "file", name, "error", err)

			entry.HasError = true
			out = failedExtraction{Filename: name, SourcePath: path, PublishDate: entry.PublishDate, Error: err.Error()}
		}

		entry.RecordCount = count
		sum.TotalRecords += count
		sum.PDFSummaries = append(sum.PDFSummaries, entry)

		outputPath := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+".json")
		if err := crawler.SaveJSON(out, outputPath); err != nil {
			return nil, err
		}
	}

	if err := crawler.SaveJSON(sum, filepath.Join(outDir, SummaryFile)); err != nil {
		return nil, err
	}

	return sum, nil
}

func extractFile(ctx context.Context, strategy parsers.Strategy, path, publishDate string) (*metadata.Envelope, int, error) {
	doc, err := crawler.LoadLocal(path, "offline")
	if err != nil {
		return nil, 0, err
	}

	records, err := strategy.Parse(ctx, doc)
	if err != nil {
		return nil, 0, err
	}

	env, err := metadata.Seal(doc.Title, doc.URL, doc.SHA256, len(records), records)
	if err != nil {
		return nil, 0, err
	}

	env.PublishDate = publishDate

	for _, rec := range records {
		env.Simulated = env.Simulated || rec.Simulated
	}

	return env, len(records), nil
}

func findPDFs(dir string) ([]string, error) {
	var pdfs []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			pdfs = append(pdfs, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Strings(pdfs)

	return pdfs, nil
}
