package models

import (
	"time"
)

// RawDocument is a fetched artifact. It is produced by the fetcher and read
// by exactly one parser.
type RawDocument struct {
	DownloadedAt time.Time `json:"downloaded_at"`
	SourceID     string    `json:"source_id"`
	URL          string    `json:"url"`
	Referer      string    `json:"referer,omitempty"`
	LocalPath    string    `json:"local_path,omitempty"`
	ContentType  string    `json:"content_type"`
	Title        string    `json:"title,omitempty"`
	SHA256       string    `json:"sha256"`
	Body         []byte    `json:"-"`
}

// RawRecord is one offender row as a parser saw it, before normalization.
// Fields keeps every source column keyed by its original header text.
type RawRecord struct {
	HasPhoto           *bool             `json:"has_photo,omitempty"`
	Fields             map[string]string `json:"fields,omitempty"`
	SequenceNumber     string            `json:"sequence_number,omitempty"`
	Name               string            `json:"name,omitempty"`
	ViolationDateRaw   string            `json:"violation_date,omitempty"`
	ViolationClauseRaw string            `json:"violation_clause,omitempty"`
	LocationRaw        string            `json:"location,omitempty"`
	Description        string            `json:"description,omitempty"`
	SourceDocumentPath string            `json:"source_document,omitempty"`
	ImageURL           string            `json:"image_url,omitempty"`
	Extractor          string            `json:"extractor,omitempty"`
	RawLines           []string          `json:"raw_lines,omitempty"`
	Simulated          bool              `json:"simulated,omitempty"`
}

// Field returns Fields[key] or "" when the map is nil.
func (r *RawRecord) Field(key string) string {
	if r.Fields == nil {
		return ""
	}

	return r.Fields[key]
}

// SetField stores a source column, allocating the map on first use.
func (r *RawRecord) SetField(key, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}

	r.Fields[key] = value
}

// OffenderRecord is the canonical persisted record. Name is never empty and
// at least one of IDNumber, LicensePlate or CaseNumber is set.
type OffenderRecord struct {
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	CrawlTime       time.Time         `json:"crawl_time" db:"crawl_time"`
	IDNumber        *string           `json:"id_number,omitempty" db:"id_number"`
	LicensePlate    *string           `json:"license_plate,omitempty" db:"license_plate"`
	Gender          *string           `json:"gender,omitempty" db:"gender"`
	ViolationDate   *time.Time        `json:"violation_date,omitempty" db:"violation_date"`
	CaseNumber      *string           `json:"case_number,omitempty" db:"case_number"`
	ViolationClause *string           `json:"violation_clause,omitempty" db:"violation_clause"`
	Location        *string           `json:"location,omitempty" db:"location"`
	Description     *string           `json:"description,omitempty" db:"description"`
	SourceURL       *string           `json:"source_url,omitempty" db:"source_url"`
	ImageURL        *string           `json:"image_url,omitempty" db:"image_url"`
	RawData         map[string]string `json:"raw_data,omitempty" db:"-"`
	ID              string            `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	Source          string            `json:"source" db:"source"`
}

// HasIdentifier reports whether at least one identifying field is present.
func (o *OffenderRecord) HasIdentifier() bool {
	return nonEmpty(o.IDNumber) || nonEmpty(o.LicensePlate) || nonEmpty(o.CaseNumber)
}

// Valid reports whether the record satisfies the persistence invariant.
func (o *OffenderRecord) Valid() bool {
	return o != nil && o.Name != "" && o.HasIdentifier()
}

// SourceProvenance is an append-only observation of a record at a source.
type SourceProvenance struct {
	CrawlTime  time.Time `json:"crawl_time" db:"crawl_time"`
	URL        *string   `json:"url,omitempty" db:"url"`
	ImageURL   *string   `json:"image_url,omitempty" db:"image_url"`
	ID         string    `json:"id" db:"id"`
	OffenderID string    `json:"offender_id" db:"offender_id"`
	SourceName string    `json:"source_name" db:"source_name"`
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
