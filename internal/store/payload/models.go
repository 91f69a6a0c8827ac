package payload

import (
	"fmt"
	"strconv"
	"time"

	"duiwatch/internal/models"
	"duiwatch/internal/store"
)

// OffenderDoc is a document of the offender collection.
type OffenderDoc struct {
	IDNumber        *string           `json:"idNumber,omitempty"`
	LicensePlate    *string           `json:"licensePlate,omitempty"`
	Gender          *string           `json:"gender,omitempty"`
	ViolationDate   *string           `json:"violationDate,omitempty"`
	CaseNumber      *string           `json:"caseNumber,omitempty"`
	ViolationClause *string           `json:"violationClause,omitempty"`
	Location        *string           `json:"location,omitempty"`
	Description     *string           `json:"description,omitempty"`
	SourceURL       *string           `json:"sourceUrl,omitempty"`
	ImageURL        *string           `json:"imageUrl,omitempty"`
	RawData         map[string]string `json:"rawData,omitempty"`
	Name            string            `json:"name,omitempty"`
	Source          string            `json:"source,omitempty"`
	CrawlTime       string            `json:"crawlTime,omitempty"`
	CreatedAt       string            `json:"createdAt,omitempty"`
	UpdatedAt       string            `json:"updatedAt,omitempty"`
	ID              int               `json:"id,omitempty"`
}

// ProvenanceDoc is a document of the provenance collection. Offender is
// the relationship id.
type ProvenanceDoc struct {
	URL        *string `json:"url,omitempty"`
	ImageURL   *string `json:"imageUrl,omitempty"`
	SourceName string  `json:"sourceName"`
	CrawlTime  string  `json:"crawlTime"`
	Offender   int     `json:"offender"`
	ID         int     `json:"id,omitempty"`
}

// offenderFields is the selection set used when reading offenders.
const offenderFields = `id name idNumber licensePlate gender violationDate caseNumber
      violationClause location description sourceUrl imageUrl source crawlTime
      createdAt updatedAt`

// keyFields maps match key columns to document fields.
var keyFields = map[string]string{
	store.KeyIDNumber:     "idNumber",
	store.KeyLicensePlate: "licensePlate",
	store.KeyCaseNumber:   "caseNumber",
}

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}

	return time.Time{}
}

// toOffenderDoc maps a record to the document written on create.
func toOffenderDoc(rec *models.OffenderRecord) OffenderDoc {
	doc := OffenderDoc{
		Name:            rec.Name,
		IDNumber:        rec.IDNumber,
		LicensePlate:    rec.LicensePlate,
		Gender:          rec.Gender,
		CaseNumber:      rec.CaseNumber,
		ViolationClause: rec.ViolationClause,
		Location:        rec.Location,
		Description:     rec.Description,
		SourceURL:       rec.SourceURL,
		ImageURL:        rec.ImageURL,
		Source:          rec.Source,
		CrawlTime:       formatTime(rec.CrawlTime),
		RawData:         rec.RawData,
	}

	if rec.ViolationDate != nil {
		d := rec.ViolationDate.UTC().Format(dateLayout)
		doc.ViolationDate = &d
	}

	return doc
}

// toRecord maps a fetched document back to a record. RawData is not read.
func (d *OffenderDoc) toRecord() *models.OffenderRecord {
	rec := &models.OffenderRecord{
		ID:              strconv.Itoa(d.ID),
		Name:            d.Name,
		IDNumber:        d.IDNumber,
		LicensePlate:    d.LicensePlate,
		Gender:          d.Gender,
		CaseNumber:      d.CaseNumber,
		ViolationClause: d.ViolationClause,
		Location:        d.Location,
		Description:     d.Description,
		SourceURL:       d.SourceURL,
		ImageURL:        d.ImageURL,
		Source:          d.Source,
		CrawlTime:       parseTime(d.CrawlTime),
		CreatedAt:       parseTime(d.CreatedAt),
		UpdatedAt:       parseTime(d.UpdatedAt),
	}

	if v := models.Deref(d.ViolationDate); v != "" {
		if t := parseViolationDate(v); t != nil {
			rec.ViolationDate = t
		}
	}

	return rec
}

// parseViolationDate accepts a plain date or a full timestamp, since Payload
// date fields come back as ISO timestamps.
func parseViolationDate(v string) *time.Time {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return &t
	}

	if t := parseTime(v); !t.IsZero() {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

		return &day
	}

	return nil
}

// patchData maps a patch to the fields of an update mutation.
func patchData(p store.Patch) map[string]any {
	data := make(map[string]any)

	set := func(key string, v *string) {
		if v != nil {
			data[key] = *v
		}
	}

	set("idNumber", p.IDNumber)
	set("licensePlate", p.LicensePlate)
	set("gender", p.Gender)
	set("caseNumber", p.CaseNumber)
	set("violationClause", p.ViolationClause)
	set("location", p.Location)
	set("description", p.Description)
	set("sourceUrl", p.SourceURL)
	set("imageUrl", p.ImageURL)

	if p.ViolationDate != nil {
		data["violationDate"] = p.ViolationDate.UTC().Format(dateLayout)
	}

	return data
}

func (d *ProvenanceDoc) toProvenance() models.SourceProvenance {
	return models.SourceProvenance{
		ID:         strconv.Itoa(d.ID),
		OffenderID: strconv.Itoa(d.Offender),
		SourceName: d.SourceName,
		URL:        d.URL,
		ImageURL:   d.ImageURL,
		CrawlTime:  parseTime(d.CrawlTime),
	}
}

// docID converts a store id to the numeric Payload id.
func docID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: id %q", store.ErrNotFound, id)
	}

	return n, nil
}
