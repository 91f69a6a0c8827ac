package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient talks to the Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a client using the provided API key.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{client: client}, nil
}

// Simulated implements Client.
func (c *GeminiClient) Simulated() bool {
	return false
}

// ChatComplete implements Client. The system prompt is sent as the leading
// text part.
func (c *GeminiClient) ChatComplete(ctx context.Context, system string, content []Part, opts CompleteOptions) (string, error) {
	parts := make([]*genai.Part, 0, len(content)+1)

	if system != "" {
		parts = append(parts, genai.NewPartFromText(system))
	}

	for _, p := range content {
		if p.Text != "" {
			parts = append(parts, genai.NewPartFromText(p.Text))
		} else if p.Data != nil {
			parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
		}
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}

	if opts.JSON {
		genConfig.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, modelOr(opts.Model, DefaultGeminiModel), []*genai.Content{
		genai.NewContentFromParts(parts, "user"),
	}, genConfig)
	if err != nil {
		return "", fmt.Errorf("%w: generate content: %w", ErrBackend, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var out strings.Builder

	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			out.WriteString(part.Text)
		}
	}

	return out.String(), nil
}
