package parsers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/internal/normalizer"
	"duiwatch/pkg/utils"
)

var tableKeywords = []string{"酒", "毒", "拒測", "累犯", "違規", "公布", "drunk", "dui", "offender"}

// TableStrategy extracts offender rows from HTML tables. Only tables that
// mention the domain and have both a name-like and an identifier-like
// header column are read.
type TableStrategy struct {
	aliases normalizer.AliasTable
	log     *logger.Logger
}

// NewTableStrategy creates the table strategy.
func NewTableStrategy(log *logger.Logger) *TableStrategy {
	if log == nil {
		log = logger.NewNop()
	}

	return &TableStrategy{aliases: normalizer.DefaultAliases, log: log}
}

// Name implements Strategy.
func (t *TableStrategy) Name() string {
	return "html-table"
}

// Parse implements Strategy. A page without target tables yields no records
// and no error.
func (t *TableStrategy) Parse(_ context.Context, doc *models.RawDocument) ([]models.RawRecord, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", ErrInvalidDocument, err)
	}

	base, _ := url.Parse(doc.URL)

	var records []models.RawRecord

	page.Find("table").Each(func(ti int, table *goquery.Selection) {
		rows := directRows(table)
		if len(rows) < 2 {
			return
		}

		headers := rowCells(rows[0])
		roles := make([]string, len(headers))

		for i, h := range headers {
			roles[i] = t.aliases.Classify(h)
		}

		if !t.isTarget(table, roles) {
			return
		}

		for ri, row := range rows[1:] {
			rec, ok := t.parseRow(row, headers, roles, base)
			if !ok {
				t.log.Debug("Skipping table row without name or identifier", "url", doc.URL, "table", ti, "row", ri+1)

				continue
			}

			records = append(records, rec)
		}
	})

	return tagRecords(records, doc, ExtractorTable), nil
}

func (t *TableStrategy) isTarget(table *goquery.Selection, roles []string) bool {
	text := strings.ToLower(table.Text())

	keywordHit := false

	for _, kw := range tableKeywords {
		if strings.Contains(text, kw) {
			keywordHit = true

			break
		}
	}

	hasName, hasIdentifier := false, false

	for _, role := range roles {
		switch role {
		case normalizer.FieldName:
			hasName = true
		case normalizer.FieldIDNumber, normalizer.FieldLicensePlate, normalizer.FieldCaseNumber:
			hasIdentifier = true
		}
	}

	return keywordHit && hasName && hasIdentifier
}

func (t *TableStrategy) parseRow(row *goquery.Selection, headers, roles []string, base *url.URL) (models.RawRecord, bool) {
	var rec models.RawRecord

	hasIdentifier := false

	row.Children().Filter("td, th").Each(func(i int, cell *goquery.Selection) {
		if i >= len(headers) {
			return
		}

		value := utils.NormalizeWhitespace(cell.Text())

		if img := cell.Find("img[src]").First(); img.Length() > 0 {
			hasPhoto := true
			rec.HasPhoto = &hasPhoto

			if src, ok := img.Attr("src"); ok && base != nil {
				if abs, err := base.Parse(strings.TrimSpace(src)); err == nil {
					rec.ImageURL = abs.String()
				}
			}
		}

		if value == "" {
			return
		}

		rec.SetField(headers[i], value)

		switch roles[i] {
		case normalizer.FieldName:
			rec.Name = value
		case normalizer.FieldSequence:
			rec.SequenceNumber = value
		case normalizer.FieldViolationDate:
			rec.ViolationDateRaw = value
		case normalizer.FieldViolationClause:
			rec.ViolationClauseRaw = value
		case normalizer.FieldLocation:
			rec.LocationRaw = value
		case normalizer.FieldDescription:
			rec.Description = value
		case normalizer.FieldIDNumber, normalizer.FieldLicensePlate, normalizer.FieldCaseNumber:
			hasIdentifier = true
		}
	})

	if rec.Name == "" || !hasIdentifier {
		return models.RawRecord{}, false
	}

	rec.RawLines = []string{utils.NormalizeWhitespace(row.Text())}

	return rec, true
}

// directRows returns the rows of a table without descending into nested
// tables.
func directRows(table *goquery.Selection) []*goquery.Selection {
	var rows []*goquery.Selection

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Closest("table").IsSelection(table) {
			rows = append(rows, tr)
		}
	})

	return rows
}

func rowCells(row *goquery.Selection) []string {
	var cells []string

	row.Children().Filter("td, th").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, utils.NormalizeWhitespace(cell.Text()))
	})

	return cells
}
