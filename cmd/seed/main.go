// Package main provides the seed command-line tool: it backfills the store
// from extracted envelopes, e.g. the output of the offline extractor. With
// the payload driver it first waits for the CMS to be healthy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/internal/normalizer"
	"duiwatch/internal/reconcile"
	"duiwatch/internal/store/backend"
	"duiwatch/pkg/metadata"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
)

type counts struct {
	created, updated, rejected, simulated, failed int
}

func logInfo(msg string) {
	fmt.Printf("%s[SEEDER]%s %s\n", colorGreen, colorReset, msg)
}

func logWarn(msg string) {
	fmt.Printf("%s[SEEDER]%s %s\n", colorYellow, colorReset, msg)
}

func logError(msg string) {
	fmt.Printf("%s[SEEDER]%s %s\n", colorRed, colorReset, msg)
}

func main() {
	configPath := flag.String("config", "./configs/worker.yaml", "Worker config path (store settings)")
	dataDir := flag.String("dir", "./data/extracted", "Directory of extracted envelopes")
	sourceName := flag.String("source", "", "Source name recorded on provenance (default: envelope source)")
	healthTimeout := flag.Duration("health-timeout", 120*time.Second, "Payload health check timeout")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logError(fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}

	ctx := context.Background()

	if cfg.Store.Driver == backend.DriverPayload && !waitForWeb(cfg.Store.Payload.URL, *healthTimeout) {
		logError("Aborting seeding - Payload not available")
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	st, err := backend.Open(ctx, cfg.Store, log)
	if err != nil {
		logError(fmt.Sprintf("Failed to open store: %v", err))
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(*dataDir, "*.json"))
	if err != nil {
		logError(err.Error())
		os.Exit(1)
	}

	reconciler := reconcile.New(st, log)
	processor := normalizer.NewProcessor(normalizer.DefaultAliases.Merge(cfg.Normalizer.Aliases))

	var total counts

	for _, path := range files {
		if filepath.Base(path) == "extraction_summary.json" {
			continue
		}

		c, err := seedFile(ctx, path, *sourceName, processor, reconciler)
		if err != nil {
			logWarn(fmt.Sprintf("Skipping %s: %v", path, err))

			continue
		}

		logInfo(fmt.Sprintf("%s: %d created, %d updated, %d rejected", filepath.Base(path), c.created, c.updated, c.rejected))

		total.created += c.created
		total.updated += c.updated
		total.rejected += c.rejected
		total.simulated += c.simulated
		total.failed += c.failed
	}

	logInfo("===========================================")
	logInfo(fmt.Sprintf("Seeding complete! created=%d updated=%d rejected=%d simulated=%d failed=%d",
		total.created, total.updated, total.rejected, total.simulated, total.failed))
	logInfo("===========================================")

	if err := st.Close(); err != nil {
		logWarn(fmt.Sprintf("Failed to close store: %v", err))
	}

	if total.failed > 0 {
		os.Exit(1)
	}
}

func seedFile(ctx context.Context, path, sourceName string, processor *normalizer.Processor, reconciler *reconcile.Reconciler) (counts, error) {
	var c counts

	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}

	var env metadata.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return c, fmt.Errorf("not an envelope: %w", err)
	}

	if err := env.Verify(); err != nil {
		return c, err
	}

	var raw []models.RawRecord
	if err := json.Unmarshal(env.Records, &raw); err != nil {
		return c, fmt.Errorf("decode records: %w", err)
	}

	if sourceName == "" {
		sourceName = env.Source
	}

	for i := range raw {
		if raw[i].Simulated {
			c.simulated++

			continue
		}

		rec, err := processor.Process(&raw[i], sourceName)
		if err != nil {
			c.rejected++

			continue
		}

		if rec.CrawlTime.IsZero() {
			rec.CrawlTime = env.ExtractedAt
		}

		prov := models.SourceProvenance{SourceName: sourceName, URL: models.StringPtr(env.URL), CrawlTime: env.ExtractedAt}

		res, err := reconciler.Reconcile(ctx, rec, prov)
		if err != nil {
			logError(fmt.Sprintf("Failed to persist %s: %v", rec.Name, err))
			c.failed++

			continue
		}

		if res.Outcome == reconcile.Created {
			c.created++
		} else {
			c.updated++
		}
	}

	return c, nil
}

// waitForWeb polls the Payload GraphQL endpoint until it answers.
func waitForWeb(endpoint string, timeout time.Duration) bool {
	startTime := time.Now()
	logInfo(fmt.Sprintf("Waiting for Payload at %s...", endpoint))

	client := &http.Client{Timeout: 5 * time.Second}
	query := `{"query": "{ __typename }"}`

	for {
		req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(query))
		if err != nil {
			logError(fmt.Sprintf("Invalid Payload URL: %v", err))

			return false
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err == nil {
			statusCode := resp.StatusCode
			if closeErr := resp.Body.Close(); closeErr != nil {
				logWarn(fmt.Sprintf("Failed to close response body: %v", closeErr))
			}

			if statusCode == http.StatusOK {
				logInfo("GraphQL endpoint is ready")

				return true
			}
		}

		if time.Since(startTime) >= timeout {
			logError(fmt.Sprintf("Payload did not become ready within %v", timeout))

			return false
		}

		fmt.Print(".")
		time.Sleep(2 * time.Second)
	}
}
