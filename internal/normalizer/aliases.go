package normalizer

import (
	"sort"
	"strings"
	"unicode"

	"duiwatch/internal/models"
)

// Canonical field names.
const (
	FieldName            = "name"
	FieldIDNumber        = "id_number"
	FieldLicensePlate    = "license_plate"
	FieldGender          = "gender"
	FieldViolationDate   = "violation_date"
	FieldCaseNumber      = "case_number"
	FieldViolationClause = "violation_clause"
	FieldLocation        = "location"
	FieldDescription     = "description"
	FieldSequence        = "sequence_number"
	FieldHasPhoto        = "has_photo"
	FieldImageURL        = "image_url"
)

// fieldOrder fixes iteration order so classification is deterministic.
var fieldOrder = []string{
	FieldName, FieldIDNumber, FieldLicensePlate, FieldCaseNumber, FieldGender,
	FieldViolationDate, FieldViolationClause, FieldLocation, FieldDescription,
	FieldSequence, FieldHasPhoto, FieldImageURL,
}

// AliasTable maps a canonical field to the source column names that may
// carry it, in priority order.
type AliasTable map[string][]string

// DefaultAliases covers the column names used by Taiwanese bureau bulletins
// plus the English keys produced by the AI adapter.
var DefaultAliases = AliasTable{
	FieldName:            {"姓名", "駕駛人姓名", "違規人姓名", "受處分人姓名", "違規人", "受處分人", "駕駛人", "名字", "name", "full_name"},
	FieldIDNumber:        {"身分證字號", "身份證字號", "身分證統一編號", "身分證號", "身份證號", "身分證", "身份證", "證號", "id_number", "national_id", "id"},
	FieldLicensePlate:    {"車牌號碼", "牌照號碼", "車號", "車牌", "牌照", "license_plate", "plate"},
	FieldCaseNumber:      {"案號", "案件編號", "舉發單號", "單號", "文號", "case_number", "case_no"},
	FieldGender:          {"性別", "gender", "sex"},
	FieldViolationDate:   {"違規日", "違規日期", "違規時間", "查獲日期", "日期", "violation_date", "date"},
	FieldViolationClause: {"違規條款", "違反法條", "違反條款", "法條", "條款", "violation_clause", "clause"},
	FieldLocation:        {"違規地點", "查獲地點", "地點", "location", "place"},
	FieldDescription:     {"違規事實", "違規事由", "事實", "事由", "description", "fact"},
	FieldSequence:        {"序號", "項次", "編號", "sequence_number", "no"},
	FieldHasPhoto:        {"照片", "相片", "has_photo", "photo"},
	FieldImageURL:        {"照片網址", "image_url"},
}

// Merge returns a copy of the table where every field present in overrides
// gets the override list in front of the defaults.
func (a AliasTable) Merge(overrides map[string][]string) AliasTable {
	out := make(AliasTable, len(a))

	for field, aliases := range a {
		out[field] = append([]string(nil), aliases...)
	}

	for field, aliases := range overrides {
		out[field] = append(append([]string(nil), aliases...), out[field]...)
	}

	return out
}

// Classify returns the canonical field a column header carries, or "".
// An exact alias match wins; otherwise the longest CJK alias contained in
// the header decides. ASCII aliases only match exactly.
func (a AliasTable) Classify(header string) string {
	key := normalizeKey(header)
	if key == "" {
		return ""
	}

	best, bestLen := "", 0

	for _, field := range a.fields() {
		for _, alias := range a[field] {
			alias = normalizeKey(alias)
			if alias == "" {
				continue
			}

			if key == alias {
				return field
			}

			if isASCII(alias) {
				continue
			}

			if strings.Contains(key, alias) && len(alias) > bestLen {
				best, bestLen = field, len(alias)
			}
		}
	}

	return best
}

// Lookup returns the first non-empty value for a canonical field: the typed
// RawRecord field first, then Fields by exact alias in priority order, then
// any remaining column that classifies as the field.
func (a AliasTable) Lookup(raw *models.RawRecord, field string) string {
	if v := strings.TrimSpace(typedValue(raw, field)); v != "" {
		return v
	}

	if len(raw.Fields) == 0 {
		return ""
	}

	normalized := make(map[string]string, len(raw.Fields))
	keys := make([]string, 0, len(raw.Fields))

	for k, v := range raw.Fields {
		nk := normalizeKey(k)
		normalized[nk] = v
		keys = append(keys, k)
	}

	for _, alias := range a[field] {
		if v := strings.TrimSpace(normalized[normalizeKey(alias)]); v != "" {
			return v
		}
	}

	sort.Strings(keys)

	for _, k := range keys {
		if a.Classify(k) != field {
			continue
		}

		if v := strings.TrimSpace(raw.Fields[k]); v != "" {
			return v
		}
	}

	return ""
}

func (a AliasTable) fields() []string {
	fields := make([]string, 0, len(a))
	seen := make(map[string]bool, len(a))

	for _, f := range fieldOrder {
		if _, ok := a[f]; ok {
			fields = append(fields, f)
			seen[f] = true
		}
	}

	var extra []string

	for f := range a {
		if !seen[f] {
			extra = append(extra, f)
		}
	}

	sort.Strings(extra)

	return append(fields, extra...)
}

func typedValue(raw *models.RawRecord, field string) string {
	switch field {
	case FieldName:
		return raw.Name
	case FieldViolationDate:
		return raw.ViolationDateRaw
	case FieldViolationClause:
		return raw.ViolationClauseRaw
	case FieldLocation:
		return raw.LocationRaw
	case FieldDescription:
		return raw.Description
	case FieldSequence:
		return raw.SequenceNumber
	case FieldImageURL:
		return raw.ImageURL
	default:
		return ""
	}
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '-':
			return '_'
		default:
			return r
		}
	}, s)

	return strings.Trim(s, ":：")
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}

	return true
}
