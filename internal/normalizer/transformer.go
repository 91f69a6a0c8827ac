package normalizer

import (
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/width"

	"duiwatch/internal/models"
	"duiwatch/pkg/utils"
)

// Gender values.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

var genderSynonyms = map[string]string{
	"男":      GenderMale,
	"男性":     GenderMale,
	"先生":     GenderMale,
	"m":      GenderMale,
	"male":   GenderMale,
	"女":      GenderFemale,
	"女性":     GenderFemale,
	"小姐":     GenderFemale,
	"女士":     GenderFemale,
	"f":      GenderFemale,
	"female": GenderFemale,
}

// RawLinesKey holds the source lines of a record in RawData, including the
// ones no field claimed.
const RawLinesKey = "_raw_lines"

// Transformer maps a RawRecord onto the canonical OffenderRecord shape. It
// does not decide whether the result is persistable; see Validator.
type Transformer struct {
	aliases AliasTable
	policy  *bluemonday.Policy
	now     func() time.Time
}

// NewTransformer creates a transformer using the given alias table.
func NewTransformer(aliases AliasTable) *Transformer {
	if aliases == nil {
		aliases = DefaultAliases
	}

	return &Transformer{
		aliases: aliases,
		policy:  bluemonday.StrictPolicy(),
		now:     time.Now,
	}
}

// Transform builds an OffenderRecord from raw. Optional fields that are
// missing or unparsable stay nil.
func (t *Transformer) Transform(raw *models.RawRecord, sourceName string) *models.OffenderRecord {
	get := func(field string) string {
		return t.aliases.Lookup(raw, field)
	}

	rec := &models.OffenderRecord{
		Name:            NormalizeName(t.Sanitize(get(FieldName))),
		IDNumber:        models.StringPtr(NormalizeIdentifier(get(FieldIDNumber))),
		LicensePlate:    models.StringPtr(NormalizeIdentifier(get(FieldLicensePlate))),
		CaseNumber:      models.StringPtr(NormalizeIdentifier(get(FieldCaseNumber))),
		Gender:          models.StringPtr(NormalizeGender(get(FieldGender))),
		ViolationDate:   ParseDate(get(FieldViolationDate)),
		ViolationClause: models.StringPtr(t.Sanitize(get(FieldViolationClause))),
		Location:        models.StringPtr(t.Sanitize(get(FieldLocation))),
		Description:     models.StringPtr(t.Sanitize(get(FieldDescription))),
		SourceURL:       models.StringPtr(strings.TrimSpace(raw.SourceDocumentPath)),
		ImageURL:        models.StringPtr(strings.TrimSpace(get(FieldImageURL))),
		Source:          sourceName,
		CrawlTime:       t.now().UTC(),
		RawData:         rawData(raw),
	}

	return rec
}

// Sanitize strips markup and collapses whitespace in free text.
func (t *Transformer) Sanitize(s string) string {
	if s == "" {
		return ""
	}

	clean := html.UnescapeString(t.policy.Sanitize(s))

	return utils.NormalizeWhitespace(clean)
}

// NormalizeName folds full-width characters and removes the spacing that
// PDF layout inserts between the characters of a Chinese name.
func NormalizeName(s string) string {
	s = utils.NormalizeWhitespace(width.Narrow.String(s))

	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return strings.ReplaceAll(s, " ", "")
		}
	}

	return s
}

// NormalizeIdentifier folds full-width characters, upper-cases and removes
// all whitespace. Used for ID, plate and case numbers.
func NormalizeIdentifier(s string) string {
	s = strings.ToUpper(width.Narrow.String(s))

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, s)
}

// NormalizeGender maps the synonyms used by bureaus to "male" or
// "female". Unknown values yield "".
func NormalizeGender(s string) string {
	key := strings.ToLower(strings.TrimSpace(width.Narrow.String(s)))

	return genderSynonyms[key]
}

func rawData(raw *models.RawRecord) map[string]string {
	data := make(map[string]string, len(raw.Fields)+3)

	for k, v := range raw.Fields {
		data[k] = v
	}

	if raw.Extractor != "" {
		data["_extractor"] = raw.Extractor
	}

	if raw.Simulated {
		data["_simulated"] = "true"
	}

	if len(raw.RawLines) > 0 {
		data[RawLinesKey] = strings.Join(raw.RawLines, "\n")
	}

	if len(data) == 0 {
		return nil
	}

	return data
}
