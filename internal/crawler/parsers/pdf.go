package parsers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/pkg/metadata"
)

// PDFStrategy extracts layout text from a PDF and segments it into records.
// When the deterministic result looks poor it asks the AI adapter instead:
// with the text when there is some, with the whole document when the PDF
// has no text layer.
type PDFStrategy struct {
	segmenter  *Segmenter
	structurer Structurer
	quality    QualityFunc
	log        *logger.Logger
	extract    func([]byte) (string, error)
	threshold  float64
}

// NewPDFStrategy creates the PDF strategy.
func NewPDFStrategy(opts Options) *PDFStrategy {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}

	return &PDFStrategy{
		segmenter:  NewSegmenter(),
		structurer: opts.Structurer,
		quality:    opts.Quality,
		log:        opts.Log,
		extract:    ExtractPDFText,
		threshold:  opts.FallbackThreshold,
	}
}

// Name implements Strategy.
func (p *PDFStrategy) Name() string {
	return "pdf"
}

// Parse implements Strategy. Only a PDF that cannot be opened at all is an
// error; everything else degrades to fewer records.
func (p *PDFStrategy) Parse(ctx context.Context, doc *models.RawDocument) ([]models.RawRecord, error) {
	text, err := p.extract(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDocument, doc.URL, err)
	}

	records := p.segmenter.Segment(text)
	AssignBulletinKeys(records)
	tagRecords(records, doc, ExtractorPDFLayout)

	if p.structurer == nil {
		return records, nil
	}

	if strings.TrimSpace(text) == "" {
		p.log.Info("🤖 PDF has no text layer, structuring document with AI", "url", doc.URL)

		aiRecords, err := p.structurer.StructureDocument(ctx, doc.Body, "application/pdf", doc.Title)
		if err != nil {
			p.log.Warn("⚠️  AI document structuring failed", "url", doc.URL, "error", err)

			return records, nil
		}

		return tagRecords(aiRecords, doc, ExtractorAIDocument), nil
	}

	score := 1.0
	if p.quality != nil {
		score = p.quality(records)
	}

	if len(records) > 0 && score >= p.threshold {
		return records, nil
	}

	p.log.Info("🤖 Deterministic parse below threshold, structuring text with AI",
		"url", doc.URL, "records", len(records), "score", fmt.Sprintf("%.2f", score))

	aiRecords, err := p.structurer.StructureText(ctx, text, doc.Title)
	if err != nil || len(aiRecords) == 0 {
		p.log.Warn("⚠️  AI text structuring gave no records, keeping layout parse", "url", doc.URL, "error", err)

		return records, nil
	}

	if len(records) > 0 && anySimulated(aiRecords) {
		p.log.Info("🧪 AI backend is simulated, keeping layout parse", "url", doc.URL, "records", len(records))

		return records, nil
	}

	return tagRecords(aiRecords, doc, ExtractorAIText), nil
}

func anySimulated(records []models.RawRecord) bool {
	for _, rec := range records {
		if rec.Simulated {
			return true
		}
	}

	return false
}

// AssignBulletinKeys gives records without any identifier a case number
// derived from the violation itself (date, clause, location). Bulletins
// rarely print ID or plate numbers, and the key lets repeated crawls of the
// same bulletin match the stored record.
func AssignBulletinKeys(records []models.RawRecord) {
	for i := range records {
		rec := &records[i]

		if rec.Field(FieldCaseNumber) != "" || rec.Field(FieldIDNumber) != "" || rec.Field(FieldPlate) != "" {
			continue
		}

		if rec.ViolationDateRaw == "" {
			continue
		}

		key := strings.Join([]string{
			strings.Join(strings.Fields(rec.ViolationDateRaw), ""),
			rec.ViolationClauseRaw,
			strings.Join(strings.Fields(rec.LocationRaw), ""),
		}, "|")

		rec.SetField(FieldCaseNumber, "B-"+metadata.Short(metadata.Digest([]byte(key))))
	}
}

// ExtractPDFText returns the text of every page, rows in reading order,
// pages separated by a blank line. Broken pages are skipped.
func ExtractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return "", errors.New("pdf has no pages")
	}

	pages := make([]string, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := pageRows(page)
		if err != nil {
			continue
		}

		pages = append(pages, pageText)
	}

	return strings.Join(pages, "\n\n"), nil
}

func pageRows(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page panic: %v", r)
		}
	}()

	rows, err := page.GetTextByRow()
	if err != nil {
		return "", err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Position > rows[j].Position
	})

	lines := make([]string, 0, len(rows))

	for _, row := range rows {
		if line := joinRow(row.Content); line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// joinRow orders glyph runs by X and inserts a space only where the gap
// between runs is wider than a fraction of the font size.
func joinRow(texts pdf.TextHorizontal) string {
	sorted := append(pdf.TextHorizontal(nil), texts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].X < sorted[j].X
	})

	var b strings.Builder

	prevEnd := math.Inf(-1)

	for _, t := range sorted {
		if t.S == "" {
			continue
		}

		gapLimit := math.Max(1.0, t.FontSize*0.3)
		if b.Len() > 0 && t.X-prevEnd > gapLimit {
			b.WriteByte(' ')
		}

		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}

	return strings.TrimSpace(b.String())
}
