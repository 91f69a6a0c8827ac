package parsers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"duiwatch/internal/logger"
	"duiwatch/internal/models"
)

// ImageStrategy sends bulletin images to the AI adapter. There is no
// deterministic path for images.
type ImageStrategy struct {
	structurer Structurer
	log        *logger.Logger
}

// NewImageStrategy creates the image strategy.
func NewImageStrategy(structurer Structurer, log *logger.Logger) *ImageStrategy {
	if log == nil {
		log = logger.NewNop()
	}

	return &ImageStrategy{structurer: structurer, log: log}
}

// Name implements Strategy.
func (s *ImageStrategy) Name() string {
	return "image"
}

// Parse implements Strategy.
func (s *ImageStrategy) Parse(ctx context.Context, doc *models.RawDocument) ([]models.RawRecord, error) {
	if s.structurer == nil {
		return nil, ErrNoStructurer
	}

	if len(doc.Body) == 0 {
		return nil, fmt.Errorf("%w: empty image %s", ErrInvalidDocument, doc.URL)
	}

	mimeType := doc.ContentType
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(doc.Body)
	}

	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s is %s, not an image", ErrInvalidDocument, doc.URL, mimeType)
	}

	records, err := s.structurer.StructureImage(ctx, doc.Body, mimeType, doc.Title)
	if err != nil {
		return nil, fmt.Errorf("structure image %s: %w", doc.URL, err)
	}

	for i := range records {
		if records[i].ImageURL == "" {
			records[i].ImageURL = doc.URL
		}
	}

	return tagRecords(records, doc, ExtractorAIImage), nil
}
