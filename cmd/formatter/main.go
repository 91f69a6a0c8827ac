// Package main provides the formatter command-line tool: it renders
// extracted envelopes as markdown tables for review.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"duiwatch/internal/config"
	"duiwatch/internal/models"
	"duiwatch/internal/normalizer"
	"duiwatch/internal/report"
	"duiwatch/pkg/metadata"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML configuration file (for alias overrides)")
	targetPath := flag.String("path", "data/extracted", "Envelope file or directory to format")
	write := flag.Bool("write", false, "Write <name>.md next to each envelope (default: print)")
	help := flag.Bool("help", false, "Show usage information")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}

	aliases := normalizer.DefaultAliases

	if *configFile != "" {
		cfg, err := config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("❌ Failed to load config: %v\n", err)
		}

		aliases = aliases.Merge(cfg.Normalizer.Aliases)
	}

	processor := normalizer.NewProcessor(aliases)

	files, err := filepath.Glob(filepath.Join(*targetPath, "*.json"))
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	if info, statErr := os.Stat(*targetPath); statErr == nil && !info.IsDir() {
		files = []string{*targetPath}
	}

	for _, path := range files {
		if filepath.Base(path) == "extraction_summary.json" {
			continue
		}

		md, err := formatEnvelope(path, processor)
		if err != nil {
			fmt.Printf("⚠️  Skipping %s: %v\n", path, err)

			continue
		}

		if !*write {
			fmt.Println(md)

			continue
		}

		out := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
		if err := os.WriteFile(out, []byte(md), 0o644); err != nil {
			log.Fatalf("❌ Could not write %s: %v\n", out, err)
		}

		fmt.Printf("✅ Formatted: %s\n", out)
	}
}

// formatEnvelope renders the normalized records of one envelope. Rows the
// normalizer rejects are listed separately.
func formatEnvelope(path string, processor *normalizer.Processor) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var env metadata.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("not an envelope: %w", err)
	}

	if err := env.Verify(); err != nil {
		return "", err
	}

	var raw []models.RawRecord
	if err := json.Unmarshal(env.Records, &raw); err != nil {
		return "", fmt.Errorf("decode records: %w", err)
	}

	var (
		records  []*models.OffenderRecord
		rejected [][]string
	)

	for i := range raw {
		rec, err := processor.Process(&raw[i], env.Source)
		if err != nil {
			rejected = append(rejected, []string{raw[i].SequenceNumber, raw[i].Name, err.Error()})

			continue
		}

		records = append(records, rec)
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", filepath.Base(path))

	if env.PublishDate != "" {
		fmt.Fprintf(&sb, "公告日期: %s\n\n", env.PublishDate)
	}

	if env.Simulated {
		sb.WriteString("> 模擬資料 (simulated AI output)\n\n")
	}

	sb.WriteString(report.Records(records))

	if len(rejected) > 0 {
		sb.WriteString("\n## 剔除 rejected\n\n")
		sb.WriteString(report.Table([]string{"序號", "姓名", "原因"}, rejected))
	}

	return sb.String(), nil
}

func printUsage() {
	fmt.Println("Usage: ./bin/formatter [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  ./bin/formatter -path data/extracted")
	fmt.Println("  ./bin/formatter -path data/extracted/113年3月5日酒駕累犯名單.json -write")
}
