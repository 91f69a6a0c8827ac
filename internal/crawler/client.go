// Package crawler discovers and downloads offender bulletins from agency
// websites.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"duiwatch/internal/logger"
	"duiwatch/internal/models"
)

// Listing is a fetched source page and the bulletin links found on it.
type Listing struct {
	Page  *models.RawDocument
	Links []models.CandidateLink
}

// Client ties the fetcher and link extractor together for one source.
type Client struct {
	fetcher *Fetcher
	log     *logger.Logger
}

// NewClient creates a crawler client.
func NewClient(fetcher *Fetcher, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{fetcher: fetcher, log: log}
}

// Fetcher returns the underlying fetcher.
func (c *Client) Fetcher() *Fetcher {
	return c.fetcher
}

// Discover fetches the source landing page and extracts candidate links.
func (c *Client) Discover(ctx context.Context, src models.DataSource) (*Listing, error) {
	page, err := c.fetcher.Fetch(ctx, src.BaseURL, FetchOptions{SourceID: src.ID})
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", src.BaseURL, err)
	}

	page.Title = src.Name

	links := ExtractLinks(page.Body, page.URL, src)
	if len(links) == 0 {
		c.log.Info("🔍 No candidate links found", "source", src.ID, "url", src.BaseURL)
	} else {
		c.log.Info(fmt.Sprintf("🔗 Found %d candidate link(s)", len(links)), "source", src.ID)
	}

	return &Listing{Page: page, Links: links}, nil
}

// FetchCandidate downloads one candidate with the listing page as Referer.
func (c *Client) FetchCandidate(ctx context.Context, src models.DataSource, link models.CandidateLink, referer string) (*models.RawDocument, error) {
	doc, err := c.fetcher.Fetch(ctx, link.URL, FetchOptions{SourceID: src.ID, Referer: referer})
	if err != nil {
		return nil, err
	}

	doc.Title = link.Title

	return doc, nil
}

// SaveJSON writes v as indented JSON, creating parent directories.
func SaveJSON(v any, outputPath string) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := os.WriteFile(outputPath, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
