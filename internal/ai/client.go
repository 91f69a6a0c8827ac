// Package ai turns unstructured bulletin content into offender records with
// a language model backend.
package ai

import (
	"context"
	"errors"
	"fmt"

	"duiwatch/internal/config"
	"duiwatch/internal/logger"
)

// AI errors. Callers treat both as non-fatal.
var (
	ErrBackend          = errors.New("ai backend failure")
	ErrNoStructuredData = errors.New("ai response contains no structured data")
	ErrMissingAPIKey    = errors.New("api key is required")
)

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultGeminiModel    = "gemini-2.0-flash"
)

// Part is one piece of user content: text, or inline bytes with a MIME type.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// DataPart creates an inline bytes part.
func DataPart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// CompleteOptions tunes one completion.
type CompleteOptions struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	JSON        bool
}

// Client is a chat completion backend. Simulated reports whether responses
// are placeholders rather than model output.
type Client interface {
	ChatComplete(ctx context.Context, system string, content []Part, opts CompleteOptions) (string, error)
	Simulated() bool
}

// NewClient builds the client selected by cfg. With provider "auto" the
// first configured credential wins; without any credential the simulated
// client is returned.
func NewClient(ctx context.Context, cfg config.AIConfig, log *logger.Logger) (Client, error) {
	if log == nil {
		log = logger.NewNop()
	}

	provider := cfg.Provider

	if provider == "auto" || provider == "" {
		switch {
		case cfg.AnthropicAPIKey != "":
			provider = "anthropic"
		case cfg.GeminiAPIKey != "":
			provider = "gemini"
		default:
			provider = "simulated"
		}
	}

	switch provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Warn("⚠️  Anthropic selected without API key, using simulated AI client")

			return NewSimulatedClient(), nil
		}

		log.Info("🤖 Using Anthropic structuring backend", "model", modelOr(cfg.Model, DefaultAnthropicModel))

		return NewAnthropicClient(cfg.AnthropicAPIKey), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Warn("⚠️  Gemini selected without API key, using simulated AI client")

			return NewSimulatedClient(), nil
		}

		client, err := NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}

		log.Info("🤖 Using Gemini structuring backend", "model", modelOr(cfg.Model, DefaultGeminiModel))

		return client, nil
	case "simulated":
		log.Warn("⚠️  No AI credential configured, running in simulation mode")

		return NewSimulatedClient(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidAIProvider, cfg.Provider)
	}
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}

	return model
}
