// Package report renders cycle summaries and record listings as markdown
// tables aligned for CJK text.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"duiwatch/internal/models"
)

const minColumnWidth = 3

// Table renders a markdown table. Columns are padded to the widest cell by
// display width, so full-width characters count as two columns.
func Table(header []string, rows [][]string) string {
	colCount := len(header)
	for _, row := range rows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	if colCount == 0 {
		return ""
	}

	widths := make([]int, colCount)

	measure := func(row []string) {
		for i := 0; i < len(row) && i < colCount; i++ {
			if w := runewidth.StringWidth(cell(row[i])); w > widths[i] {
				widths[i] = w
			}
		}
	}

	measure(header)

	for _, row := range rows {
		measure(row)
	}

	for i := range widths {
		if widths[i] < minColumnWidth {
			widths[i] = minColumnWidth
		}
	}

	var sb strings.Builder

	writeRow(&sb, header, widths)

	sb.WriteString("|")

	for _, w := range widths {
		sb.WriteString(" " + strings.Repeat("-", w) + " |")
	}

	sb.WriteString("\n")

	for _, row := range rows {
		writeRow(&sb, row, widths)
	}

	return sb.String()
}

func writeRow(sb *strings.Builder, row []string, widths []int) {
	sb.WriteString("|")

	for j, w := range widths {
		content := ""
		if j < len(row) {
			content = cell(row[j])
		}

		sb.WriteString(" ")
		sb.WriteString(runewidth.FillRight(content, w))
		sb.WriteString(" |")
	}

	sb.WriteString("\n")
}

// cell flattens a value so it cannot break the table.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", "／")
	s = strings.ReplaceAll(s, "\r", " ")

	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

// Summary renders the counters of one cycle.
func Summary(stats *models.CycleStats) string {
	rows := [][]string{
		{"來源 sources processed", fmt.Sprint(stats.SourcesProcessed)},
		{"來源失敗 sources failed", fmt.Sprint(stats.SourcesFailed)},
		{"文件 documents fetched", fmt.Sprint(stats.DocumentsFetched)},
		{"文件失敗 documents failed", fmt.Sprint(stats.DocumentsFailed)},
		{"解析 records parsed", fmt.Sprint(stats.RecordsParsed)},
		{"新增 created", fmt.Sprint(stats.RecordsCreated)},
		{"更新 updated", fmt.Sprint(stats.RecordsUpdated)},
		{"剔除 rejected", fmt.Sprint(stats.RecordsRejected)},
		{"AI 輔助 AI fallbacks", fmt.Sprint(stats.AIFallbacks)},
		{"模擬 simulated (not persisted)", fmt.Sprint(stats.SimulatedExtracted)},
	}

	categories := make([]string, 0, len(stats.ErrorsByCategory))
	for c := range stats.ErrorsByCategory {
		categories = append(categories, c)
	}

	sort.Strings(categories)

	for _, c := range categories {
		rows = append(rows, []string{"錯誤 errors: " + c, fmt.Sprint(stats.ErrorsByCategory[c])})
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "## Cycle %s\n\n", stats.RunID)
	fmt.Fprintf(&sb, "Duration: %s\n\n", stats.Duration().Round(time.Millisecond))
	sb.WriteString(Table([]string{"Metric", "Count"}, rows))

	return sb.String()
}

// Records renders offender records, one row each.
func Records(records []*models.OffenderRecord) string {
	rows := make([][]string, 0, len(records))

	for _, rec := range records {
		date := ""
		if rec.ViolationDate != nil {
			date = rec.ViolationDate.Format("2006-01-02")
		}

		rows = append(rows, []string{
			rec.Name,
			date,
			models.Deref(rec.LicensePlate),
			models.Deref(rec.CaseNumber),
			models.Deref(rec.ViolationClause),
			models.Deref(rec.Location),
			rec.Source,
		})
	}

	return Table([]string{"姓名", "違規日期", "車牌", "案號", "法條", "地點", "來源"}, rows)
}

// Write prints s to w, ignoring a nil writer.
func Write(w io.Writer, s string) error {
	if w == nil {
		return nil
	}

	_, err := io.WriteString(w, s)

	return err
}
