package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"duiwatch/internal/models"
)

// DefaultUserAgent is a desktop browser string; several bureau sites reject
// obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ErrInvalidSourceEntry is returned for a malformed SOURCES entry.
var ErrInvalidSourceEntry = errors.New("source entry must be name|url|crawlerType")

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// Missing files are ignored; variables already in the environment win.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}

		return nil
	}

	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}

	return nil
}

// ApplyEnv overlays environment variables onto the config. Sources from
// SOURCES are appended after the YAML ones.
func (c *Config) ApplyEnv() error {
	if raw := os.Getenv("SOURCES"); raw != "" {
		extra, err := ParseSourceList(raw)
		if err != nil {
			return fmt.Errorf("SOURCES: %w", err)
		}

		c.Sources = append(c.Sources, extra...)
	}

	setString(&c.Worker.Schedule, "SCHEDULE")
	setString(&c.AI.Provider, "AI_PROVIDER")
	setString(&c.AI.Model, "AI_MODEL")
	setString(&c.AI.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.AI.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.DSN, "DATABASE_URL")
	setString(&c.Store.Payload.URL, "PAYLOAD_URL")
	setString(&c.Store.Payload.APIKey, "PAYLOAD_API_KEY")
	setString(&c.Store.Payload.Email, "PAYLOAD_EMAIL")
	setString(&c.Store.Payload.Password, "PAYLOAD_PASSWORD")
	setString(&c.Archive.Backend, "ARCHIVE_BACKEND")
	setString(&c.Archive.BasePath, "ARCHIVE_PATH")
	setString(&c.Archive.Bucket, "ARCHIVE_BUCKET")
	setString(&c.Archive.Region, "AWS_REGION")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Metrics.Addr, "METRICS_ADDR")

	if c.AI.GeminiAPIKey == "" {
		setString(&c.AI.GeminiAPIKey, "GOOGLE_API_KEY")
	}

	if v := os.Getenv("SOURCE_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SOURCE_TIMEOUT_SEC: %w", err)
		}

		c.Worker.SourceTimeoutSec = n
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// ParseSourceList parses a comma-separated list of name|url|crawlerType
// entries. crawlerType is one of table, image or pdf. Blank entries are
// skipped. Parsed sources are enabled.
func ParseSourceList(raw string) ([]SourceConfig, error) {
	var sources []SourceConfig

	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: entry %d %q", ErrInvalidSourceEntry, i, entry)
		}

		name := strings.TrimSpace(parts[0])
		url := strings.TrimSpace(parts[1])
		kind := strings.TrimSpace(parts[2])

		if name == "" || url == "" {
			return nil, fmt.Errorf("%w: entry %d %q", ErrInvalidSourceEntry, i, entry)
		}

		dt, ok := models.ParseDataType(kind)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d crawler type %q", ErrInvalidDataType, i, kind)
		}

		sources = append(sources, SourceConfig{
			ID:       name,
			Name:     name,
			URL:      url,
			Type:     string(dt),
			MaxPages: 3,
			Enabled:  true,
		})
	}

	return sources, nil
}
