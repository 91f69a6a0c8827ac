// Package parsers turns fetched documents into raw offender records. Each
// publication format has its own Strategy.
package parsers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"duiwatch/internal/logger"
	"duiwatch/internal/models"
)

// Parser errors.
var (
	ErrUnsupportedDataType = errors.New("unsupported data type")
	ErrInvalidDocument     = errors.New("invalid document")
	ErrNoStructurer        = errors.New("no structurer configured")
)

// Extractor names recorded on RawRecord.Extractor.
const (
	ExtractorPDFLayout  = "pdf-layout"
	ExtractorTable      = "html-table"
	ExtractorAIText     = "ai-text"
	ExtractorAIDocument = "ai-document"
	ExtractorAIImage    = "ai-image"
)

// Strategy parses one document format.
type Strategy interface {
	Name() string
	Parse(ctx context.Context, doc *models.RawDocument) ([]models.RawRecord, error)
}

// Structurer is the AI adapter as seen by the parsers.
type Structurer interface {
	StructureText(ctx context.Context, text, hint string) ([]models.RawRecord, error)
	StructureDocument(ctx context.Context, data []byte, mimeType, hint string) ([]models.RawRecord, error)
	StructureImage(ctx context.Context, data []byte, mimeType, hint string) ([]models.RawRecord, error)
}

// QualityFunc scores deterministic parse output between 0 and 1.
type QualityFunc func(records []models.RawRecord) float64

// Options configures the strategies built by a Registry.
type Options struct {
	Structurer        Structurer
	Quality           QualityFunc
	Log               *logger.Logger
	FallbackThreshold float64
}

// Registry hands out the strategy for a source's data type.
type Registry struct {
	pdf   *PDFStrategy
	table *TableStrategy
	image *ImageStrategy
}

// NewRegistry builds one instance of every strategy.
func NewRegistry(opts Options) *Registry {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}

	return &Registry{
		pdf:   NewPDFStrategy(opts),
		table: NewTableStrategy(opts.Log),
		image: NewImageStrategy(opts.Structurer, opts.Log),
	}
}

// ForSource selects the strategy for a data type.
func (r *Registry) ForSource(dt models.DataType) (Strategy, error) {
	switch dt {
	case models.DataTypePDF:
		return r.pdf, nil
	case models.DataTypeHTMLTable, models.DataTypeHTMLList:
		return r.table, nil
	case models.DataTypeImage:
		return r.image, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDataType, dt)
	}
}

// ForDocument picks a strategy from the document's content type, falling
// back to the source's data type. A PDF linked from an HTML-table source is
// still parsed as a PDF.
func (r *Registry) ForDocument(dt models.DataType, doc *models.RawDocument) (Strategy, error) {
	switch {
	case doc == nil:
		return r.ForSource(dt)
	case doc.ContentType == "application/pdf":
		return r.pdf, nil
	case strings.HasPrefix(doc.ContentType, "image/"):
		return r.image, nil
	case doc.ContentType == "text/html" && dt != models.DataTypeImage:
		return r.table, nil
	default:
		return r.ForSource(dt)
	}
}

func tagRecords(records []models.RawRecord, doc *models.RawDocument, extractor string) []models.RawRecord {
	for i := range records {
		records[i].Extractor = extractor
		if records[i].SourceDocumentPath == "" {
			records[i].SourceDocumentPath = doc.URL
		}
	}

	return records
}
