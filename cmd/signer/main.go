// Package main provides the signer command-line tool: it seals extracted
// records into hashed envelopes and verifies envelopes already on disk.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"duiwatch/internal/crawler"
	"duiwatch/internal/models"
	"duiwatch/internal/validator"
	"duiwatch/pkg/metadata"
)

func main() {
	inputPath := flag.String("input", "", "Envelope file or directory to verify, or records file with -seal")
	seal := flag.Bool("seal", false, "Seal a JSON array of raw records into an envelope")
	source := flag.String("source", "manual", "Source id written into a sealed envelope")
	output := flag.String("output", "", "Output path for -seal (default: <input>.envelope.json)")
	flag.Parse()

	if *inputPath == "" {
		fmt.Println("Usage: signer -input <path> [-seal -source <id> -output <path>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *seal {
		if err := sealFile(*inputPath, *source, *output); err != nil {
			log.Fatalf("❌ Seal failed: %v\n", err)
		}

		return
	}

	files, err := envelopeFiles(*inputPath)
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	failed := 0

	for _, path := range files {
		if !verifyFile(path) {
			failed++
		}
	}

	fmt.Printf("\n📊 Verified %d envelope(s), %d failed\n", len(files), failed)

	if failed > 0 {
		os.Exit(1)
	}
}

func sealFile(path, source, output string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var records []models.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("%s is not a JSON array of records: %w", path, err)
	}

	env, err := metadata.Seal(source, "", "", len(records), records)
	if err != nil {
		return err
	}

	env.PublishDate = metadata.PublishDate(filepath.Base(path))

	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + ".envelope.json"
	}

	if err := crawler.SaveJSON(env, output); err != nil {
		return err
	}

	fmt.Printf("🔏 Sealed %d record(s) (%s) into %s\n", len(records), metadata.Short(env.Hash), output)

	return nil
}

func verifyFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("❌ %s: %v\n", path, err)

		return false
	}

	fmt.Printf("📂 %s\n", path)

	result := validator.ValidateIntegrity(data)
	if result.IsValid {
		var env metadata.Envelope

		var records []models.RawRecord
		if json.Unmarshal(data, &env) == nil && json.Unmarshal(env.Records, &records) == nil {
			quality := validator.NewRecordValidator(0).Validate(records)
			result.Stats = quality.Stats
			result.Warnings = append(result.Warnings, quality.Warnings...)
		}
	}

	result.PrintWarnings(os.Stdout)
	result.PrintErrors(os.Stdout)
	fmt.Printf("   %s\n", result)

	return result.IsValid
}

// envelopeFiles returns path itself, or every JSON file below a directory
// except extraction summaries.
func envelopeFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.HasSuffix(p, ".json") && filepath.Base(p) != "extraction_summary.json" {
			files = append(files, p)
		}

		return nil
	})

	return files, err
}
