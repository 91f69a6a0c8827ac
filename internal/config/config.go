// Package config provides configuration management for the ingestion worker.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"duiwatch/internal/models"
)

// Configuration validation errors.
var (
	ErrNoSources                = errors.New("at least one source is required")
	ErrNoEnabledSources         = errors.New("at least one source must be enabled")
	ErrSourceMissingURL         = errors.New("source url is required")
	ErrSourceMissingName        = errors.New("source name is required")
	ErrInvalidDataType          = errors.New("source type must be one of: pdf, image, html-table, html-list, api")
	ErrInvalidLinkPattern       = errors.New("source link_pattern is invalid regex")
	ErrInvalidMaxPages          = errors.New("source max_pages must be between 1 and 5")
	ErrInvalidMaxAttempts       = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("retry.timeout_sec must be at least 1")
	ErrInvalidBatchSize         = errors.New("fetch.batch_size must be at least 1")
	ErrInvalidMinDelay          = errors.New("fetch.min_delay_ms must be non-negative")
	ErrInvalidSourceTimeout     = errors.New("worker.source_timeout_sec must be at least 1")
	ErrInvalidAIProvider        = errors.New("ai.provider must be one of: auto, anthropic, gemini, simulated")
	ErrInvalidFallbackThreshold = errors.New("ai.fallback_threshold must be between 0 and 1")
	ErrInvalidStoreDriver       = errors.New("store.driver must be one of: memory, sqlite, postgres, payload")
	ErrMissingStoreDSN          = errors.New("store.dsn is required for sql drivers")
	ErrMissingPayloadURL        = errors.New("store.payload.url is required for the payload driver")
	ErrInvalidArchiveBackend    = errors.New("archive.backend must be one of: none, fs, s3")
	ErrMissingArchiveBucket     = errors.New("archive.bucket is required for the s3 backend")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat         = errors.New("logging.format must be 'text' or 'json'")
)

// Config represents the complete worker configuration.
type Config struct {
	Worker     WorkerConfig     `yaml:"worker"`
	Sources    []SourceConfig   `yaml:"sources"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Retry      RetryPolicy      `yaml:"retry"`
	AI         AIConfig         `yaml:"ai"`
	Store      StoreConfig      `yaml:"store"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// WorkerConfig controls cycle scheduling.
type WorkerConfig struct {
	Schedule         string `yaml:"schedule"`
	SourceTimeoutSec int    `yaml:"source_timeout_sec"`
	RunOnStart       bool   `yaml:"run_on_start"`
}

// SourceConfig represents one publishing agency page.
type SourceConfig struct {
	StartYear           *int     `yaml:"start_year"`
	ID                  string   `yaml:"id"`
	Name                string   `yaml:"name"`
	URL                 string   `yaml:"url"`
	Type                string   `yaml:"type"`
	LinkPattern         string   `yaml:"link_pattern"`
	Keywords            []string `yaml:"keywords"`
	UpdateFrequencyDays int      `yaml:"update_frequency_days"`
	MaxPages            int      `yaml:"max_pages"`
	Enabled             bool     `yaml:"enabled"`
}

// FetchConfig controls politeness and batching of document downloads.
type FetchConfig struct {
	UserAgent      string `yaml:"user_agent"`
	AcceptLanguage string `yaml:"accept_language"`
	MinDelayMs     int    `yaml:"min_delay_ms"`
	BatchSize      int    `yaml:"batch_size"`
	BatchDelayMs   int    `yaml:"batch_delay_ms"`
	MaxBodyMB      int    `yaml:"max_body_mb"`
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// AIConfig selects and tunes the structuring backend.
type AIConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	AnthropicAPIKey   string  `yaml:"anthropic_api_key"`
	GeminiAPIKey      string  `yaml:"gemini_api_key"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	FallbackThreshold float64 `yaml:"fallback_threshold"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver       string        `yaml:"driver"`
	DSN          string        `yaml:"dsn"`
	Payload      PayloadConfig `yaml:"payload"`
	EnsureSchema bool          `yaml:"ensure_schema"`
}

// PayloadConfig holds the GraphQL CMS connection settings.
type PayloadConfig struct {
	URL                  string `yaml:"url"`
	APIKey               string `yaml:"api_key"`
	Email                string `yaml:"email"`
	Password             string `yaml:"password"`
	OffenderCollection   string `yaml:"offender_collection"`
	ProvenanceCollection string `yaml:"provenance_collection"`
}

// ArchiveConfig selects where raw and extracted documents are kept.
type ArchiveConfig struct {
	Backend  string `yaml:"backend"`
	BasePath string `yaml:"base_path"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
}

// NormalizerConfig allows overriding the field alias table.
type NormalizerConfig struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default applied and no sources.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()

	return cfg
}

// LoadConfig loads configuration from a YAML file, then .env files and
// environment overrides. An empty path yields defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves configuration to a YAML file.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Worker.Schedule == "" {
		c.Worker.Schedule = "@daily"
	}

	if c.Worker.SourceTimeoutSec == 0 {
		c.Worker.SourceTimeoutSec = 600
	}

	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Type == "" {
			src.Type = string(models.DataTypePDF)
		}

		if src.ID == "" {
			src.ID = src.Name
		}

		if src.MaxPages == 0 {
			src.MaxPages = 3
		}

		if src.UpdateFrequencyDays == 0 {
			src.UpdateFrequencyDays = 1
		}
	}

	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}

	if c.Fetch.AcceptLanguage == "" {
		c.Fetch.AcceptLanguage = "zh-TW,zh;q=0.9,en;q=0.8"
	}

	if c.Fetch.MinDelayMs == 0 {
		c.Fetch.MinDelayMs = 1000
	}

	if c.Fetch.BatchSize == 0 {
		c.Fetch.BatchSize = 2
	}

	if c.Fetch.BatchDelayMs == 0 {
		c.Fetch.BatchDelayMs = 2000
	}

	if c.Fetch.MaxBodyMB == 0 {
		c.Fetch.MaxBodyMB = 50
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}

	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 500
	}

	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 10000
	}

	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2.0
	}

	if c.Retry.TimeoutSec == 0 {
		c.Retry.TimeoutSec = 30
	}

	if c.AI.Provider == "" {
		c.AI.Provider = "auto"
	}

	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 4096
	}

	if c.AI.TimeoutSec == 0 {
		c.AI.TimeoutSec = 120
	}

	if c.AI.FallbackThreshold == 0 {
		c.AI.FallbackThreshold = 0.5
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}

	if c.Store.Payload.OffenderCollection == "" {
		c.Store.Payload.OffenderCollection = "offenders"
	}

	if c.Store.Payload.ProvenanceCollection == "" {
		c.Store.Payload.ProvenanceCollection = "offender-sources"
	}

	if c.Archive.Backend == "" {
		c.Archive.Backend = "fs"
	}

	if c.Archive.BasePath == "" {
		c.Archive.BasePath = "./data"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}

	enabledCount := 0

	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("%w: source[%d]", ErrSourceMissingName, i)
		}

		if src.URL == "" {
			return fmt.Errorf("%w: source[%d]", ErrSourceMissingURL, i)
		}

		if _, ok := models.ParseDataType(src.Type); !ok {
			return fmt.Errorf("%w: source[%d] %q", ErrInvalidDataType, i, src.Type)
		}

		if src.LinkPattern != "" {
			if _, err := regexp.Compile(src.LinkPattern); err != nil {
				return fmt.Errorf("%w: source[%d]: %w", ErrInvalidLinkPattern, i, err)
			}
		}

		if src.MaxPages < 1 || src.MaxPages > 5 {
			return fmt.Errorf("%w: source[%d]", ErrInvalidMaxPages, i)
		}

		if src.Enabled {
			enabledCount++
		}
	}

	if enabledCount == 0 {
		return ErrNoEnabledSources
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Fetch.BatchSize < 1 {
		return ErrInvalidBatchSize
	}

	if c.Fetch.MinDelayMs < 0 {
		return ErrInvalidMinDelay
	}

	if c.Worker.SourceTimeoutSec < 1 {
		return ErrInvalidSourceTimeout
	}

	switch c.AI.Provider {
	case "auto", "anthropic", "gemini", "simulated":
	default:
		return ErrInvalidAIProvider
	}

	if c.AI.FallbackThreshold < 0 || c.AI.FallbackThreshold > 1 {
		return ErrInvalidFallbackThreshold
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return ErrMissingStoreDSN
		}
	case "payload":
		if c.Store.Payload.URL == "" {
			return ErrMissingPayloadURL
		}
	default:
		return ErrInvalidStoreDriver
	}

	switch c.Archive.Backend {
	case "none", "fs":
	case "s3":
		if c.Archive.Bucket == "" {
			return ErrMissingArchiveBucket
		}
	default:
		return ErrInvalidArchiveBackend
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return ErrInvalidLogFormat
	}

	return nil
}

// GetEnabledSources returns only enabled sources.
func (c *Config) GetEnabledSources() []SourceConfig {
	var enabled []SourceConfig

	for _, src := range c.Sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	return enabled
}

// DataSources converts the enabled sources to domain values.
func (c *Config) DataSources() []models.DataSource {
	enabled := c.GetEnabledSources()
	out := make([]models.DataSource, 0, len(enabled))

	for _, src := range enabled {
		out = append(out, src.DataSource())
	}

	return out
}

// DataSource converts one source entry to its domain value.
func (s *SourceConfig) DataSource() models.DataSource {
	dt, _ := models.ParseDataType(s.Type)

	return models.DataSource{
		ID:                  s.ID,
		Name:                s.Name,
		BaseURL:             s.URL,
		DataType:            dt,
		UpdateFrequencyDays: s.UpdateFrequencyDays,
		StartYear:           s.StartYear,
		Keywords:            append([]string(nil), s.Keywords...),
		LinkPattern:         s.LinkPattern,
		MaxPages:            s.MaxPages,
	}
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	if int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the per-request timeout.
func (rp *RetryPolicy) GetTimeout() time.Duration {
	return time.Duration(rp.TimeoutSec) * time.Second
}

// SourceTimeout returns the budget for processing one source.
func (w *WorkerConfig) SourceTimeout() time.Duration {
	return time.Duration(w.SourceTimeoutSec) * time.Second
}

// MinDelay returns the minimum spacing between requests.
func (f *FetchConfig) MinDelay() time.Duration {
	return time.Duration(f.MinDelayMs) * time.Millisecond
}

// BatchDelay returns the pause between document batches.
func (f *FetchConfig) BatchDelay() time.Duration {
	return time.Duration(f.BatchDelayMs) * time.Millisecond
}

// MaxBodyBytes returns the response size cap in bytes.
func (f *FetchConfig) MaxBodyBytes() int64 {
	return int64(f.MaxBodyMB) << 20
}

// Timeout returns the AI request timeout.
func (a *AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Sources: %d, MaxAttempts: %d, Store: %s, AI: %s, Archive: %s}",
		len(c.Sources),
		c.Retry.MaxAttempts,
		c.Store.Driver,
		c.AI.Provider,
		c.Archive.Backend,
	)
}
