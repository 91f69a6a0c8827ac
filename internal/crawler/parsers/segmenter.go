package parsers

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"duiwatch/internal/models"
	"duiwatch/pkg/utils"
)

// Source column names, as printed on the bulletins.
const (
	FieldSequence    = "序號"
	FieldName        = "姓名"
	FieldDate        = "違規日"
	FieldClause      = "違規條款"
	FieldLocation    = "違規地點"
	FieldDescription = "違規事實"
	FieldType        = "違規類型"
	FieldPlate       = "車牌號碼"
	FieldIDNumber    = "身分證字號"
	FieldCaseNumber  = "案號"
)

// Violation types.
const (
	ViolationDrunk   = "酒駕"
	ViolationRefusal = "拒測"
	ViolationDrug    = "毒駕"
)

var (
	descriptionMarkers = []string{"汽機車駕駛人", "汽車駕駛人", "機車駕駛人", "駕駛人", "駕駛", "酒精", "酒駕", "酒後", "拒絕", "拒測", "測試", "毒品", "吸食"}
	landmarkRunes      = "區路街段號巷弄鄉鎮村里道橋口"
)

type lineKind int

const (
	kindOther lineKind = iota
	kindClause
	kindDescription
	kindLocation
)

// Segmenter splits flat bulletin text into records. It never fails: lines
// it cannot place stay in RawLines.
type Segmenter struct {
	trigger    *regexp.Regexp
	pageNumber *regexp.Regexp
	date       *regexp.Regexp
	clause     *regexp.Regexp
	plate      *regexp.Regexp
	idNumber   *regexp.Regexp
}

// NewSegmenter creates a segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{
		// "12 王小明 ..." starts a record
		trigger:    regexp.MustCompile(`^(\d{1,4})\s+([\p{Han}○〇ＯO]{2,4})(?:\s|\d|$)`),
		pageNumber: regexp.MustCompile(`(?i)^(?:\d{1,4}|-\s*\d{1,4}\s*-|\d{1,4}\s*/\s*\d{1,4}|第\s*\d+\s*頁(?:\s*[,，/]?\s*共\s*\d+\s*頁)?|page\s*\d+(?:\s*of\s*\d+)?)$`),
		date:       regexp.MustCompile(`(?:民國\s*)?\d{2,4}\s*年\s*\d{1,2}\s*月\s*\d{1,2}\s*日|\d{2,4}[/.\-]\d{1,2}[/.\-]\d{1,2}`),
		clause:     regexp.MustCompile(`第\s*\d+\s*條(?:\s*之\s*\d+)?(?:\s*第\s*\d+\s*項)?(?:\s*第\s*\d+\s*款)?`),
		plate:      regexp.MustCompile(`\b[A-Z0-9]{2,4}-[A-Z0-9]{2,4}\b`),
		idNumber:   regexp.MustCompile(`\b[A-Z][12][0-9*＊Xx]{7}[0-9]\b`),
	}
}

// IsHeader reports whether a line is the bulletin's column header row.
func (s *Segmenter) IsHeader(line string) bool {
	return strings.Contains(line, "序號") && strings.Contains(line, "姓名")
}

// Segment splits text into records. When a header row exists, lines before
// it are ignored.
func (s *Segmenter) Segment(text string) []models.RawRecord {
	lines := splitLines(text)

	start := 0

	for i, line := range lines {
		if s.IsHeader(line) {
			start = i + 1

			break
		}
	}

	var (
		records []models.RawRecord
		cur     *models.RawRecord
		last    lineKind
	)

	flush := func() {
		if cur != nil {
			s.finalize(cur)
			records = append(records, *cur)
		}

		cur = nil
	}

	for _, line := range lines[start:] {
		if s.IsHeader(line) || s.pageNumber.MatchString(line) {
			continue
		}

		if idx := s.trigger.FindStringSubmatchIndex(line); idx != nil && s.startsRecord(line, line[idx[4]:idx[5]]) {
			flush()

			cur = &models.RawRecord{
				SequenceNumber: line[idx[2]:idx[3]],
				Name:           line[idx[4]:idx[5]],
				RawLines:       []string{line},
			}
			last = s.absorb(cur, line[idx[5]:], true, kindOther)

			continue
		}

		if cur == nil {
			continue
		}

		cur.RawLines = append(cur.RawLines, line)
		last = s.absorb(cur, line, false, last)
	}

	flush()

	return records
}

// startsRecord rejects triggers on wrapped address lines such as
// "3 段中清路": a name ending in an address landmark needs a date on the
// same line.
func (s *Segmenter) startsRecord(line, name string) bool {
	last, _ := utf8.DecodeLastRuneInString(name)
	if !strings.ContainsRune(landmarkRunes, last) {
		return true
	}

	return s.date.MatchString(line)
}

// absorb assigns the parts of one line to record fields and returns the
// kind of the last part consumed.
func (s *Segmenter) absorb(rec *models.RawRecord, text string, first bool, prev lineKind) lineKind {
	cursor := 0
	kind := kindOther

	if rec.ViolationDateRaw == "" {
		if loc := s.date.FindStringIndex(text); loc != nil {
			rec.ViolationDateRaw = strings.Join(strings.Fields(text[loc[0]:loc[1]]), "")
			cursor = loc[1]
		}
	}

	if loc := s.clause.FindStringIndex(text[cursor:]); loc != nil {
		clause := strings.Join(strings.Fields(text[cursor+loc[0]:cursor+loc[1]]), "")
		if rec.ViolationClauseRaw == "" {
			rec.ViolationClauseRaw = clause
		} else if !strings.Contains(rec.ViolationClauseRaw, clause) {
			rec.ViolationClauseRaw += " " + clause
		}

		cursor += loc[1]
		kind = kindClause
	}

	tail := strings.TrimSpace(text[cursor:])
	if tail == "" {
		return kind
	}

	if di := descriptionIndex(tail); di >= 0 {
		if pre := strings.TrimSpace(tail[:di]); pre != "" && (cursor > 0 || looksLikeLocation(pre)) {
			rec.LocationRaw = joinText(rec.LocationRaw, pre)
		}

		rec.Description = joinText(rec.Description, strings.TrimSpace(tail[di:]))

		return kindDescription
	}

	switch {
	case first && cursor > 0:
		rec.LocationRaw = joinText(rec.LocationRaw, tail)

		return kindLocation
	case looksLikeLocation(tail) && prev != kindDescription:
		rec.LocationRaw = joinText(rec.LocationRaw, tail)

		return kindLocation
	case prev == kindDescription:
		rec.Description = joinText(rec.Description, tail)

		return kindDescription
	default:
		return kind
	}
}

func (s *Segmenter) finalize(rec *models.RawRecord) {
	rec.SetField(FieldSequence, rec.SequenceNumber)
	rec.SetField(FieldName, rec.Name)

	if rec.ViolationDateRaw != "" {
		rec.SetField(FieldDate, rec.ViolationDateRaw)
	}

	if rec.ViolationClauseRaw != "" {
		rec.SetField(FieldClause, rec.ViolationClauseRaw)
	}

	if rec.LocationRaw != "" {
		rec.SetField(FieldLocation, rec.LocationRaw)
	}

	if rec.Description != "" {
		rec.SetField(FieldDescription, rec.Description)
	}

	all := strings.Join(rec.RawLines, " ")

	if t := ViolationType(all); t != "" {
		rec.SetField(FieldType, t)
	}

	for _, m := range s.plate.FindAllString(all, -1) {
		if strings.IndexFunc(m, unicode.IsLetter) >= 0 {
			rec.SetField(FieldPlate, m)

			break
		}
	}

	if m := s.idNumber.FindString(all); m != "" {
		rec.SetField(FieldIDNumber, m)
	}
}

// ViolationType tags text as test refusal, drug driving or drunk driving.
// Refusal wins because its wording also mentions the alcohol test.
func ViolationType(text string) string {
	switch {
	case strings.Contains(text, "拒絕") || strings.Contains(text, "拒測"):
		return ViolationRefusal
	case strings.Contains(text, "毒品") || strings.Contains(text, "吸食"):
		return ViolationDrug
	case strings.Contains(text, "酒精濃度") || strings.Contains(text, "酒駕") || strings.Contains(text, "酒後"):
		return ViolationDrunk
	default:
		return ""
	}
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))

	for _, line := range raw {
		line = utils.NormalizeWhitespace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

func descriptionIndex(s string) int {
	best := -1

	for _, marker := range descriptionMarkers {
		if i := strings.Index(s, marker); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}

	return best
}

func looksLikeLocation(s string) bool {
	return strings.ContainsAny(s, landmarkRunes)
}

// joinText concatenates wrapped text. CJK runs are joined directly, other
// text with a space.
func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}

	last, _ := utf8.DecodeLastRuneInString(a)
	first, _ := utf8.DecodeRuneInString(b)

	if isWide(last) || isWide(first) {
		return a + b
	}

	return a + " " + b
}

func isWide(r rune) bool {
	return unicode.Is(unicode.Han, r) || (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF)
}
