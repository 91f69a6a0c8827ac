package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient talks to the Claude Messages API.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates a client using the provided API key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(2)),
	}
}

// Simulated implements Client.
func (c *AnthropicClient) Simulated() bool {
	return false
}

// ChatComplete implements Client. PDF parts are sent as document blocks,
// other binary parts as base64 images.
func (c *AnthropicClient) ChatComplete(ctx context.Context, system string, content []Part, opts CompleteOptions) (string, error) {
	var blocks []anthropic.ContentBlockParamUnion

	for _, part := range content {
		if part.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		}

		if part.Data == nil {
			continue
		}

		encoded := base64.StdEncoding.EncodeToString(part.Data)

		if part.MIMEType == "application/pdf" {
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded}))
		} else {
			blocks = append(blocks, anthropic.NewImageBlockBase64(part.MIMEType, encoded))
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelOr(opts.Model, DefaultAnthropicModel)),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(opts.Temperature),
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: create message: %w", ErrBackend, err)
	}

	var out strings.Builder

	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	return out.String(), nil
}
