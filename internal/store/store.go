// Package store defines the persistence boundary for offender records and
// their provenance.
package store

import (
	"context"
	"errors"
	"time"

	"duiwatch/internal/models"
)

// Store errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrNoMatchKey  = errors.New("record has no match key")
	ErrInvalidKey  = errors.New("invalid match key field")
	ErrUnsupported = errors.New("unsupported store driver")
)

// Match key fields, in precedence order.
const (
	KeyIDNumber     = "id_number"
	KeyLicensePlate = "license_plate"
	KeyCaseNumber   = "case_number"
)

// MatchKey identifies an offender: the name plus one identifier.
type MatchKey struct {
	Name  string
	Field string
	Value string
}

// KeyFor returns the match key of rec: (name, id number) when present, else
// (name, license plate), else (name, case number).
func KeyFor(rec *models.OffenderRecord) (MatchKey, bool) {
	if rec == nil || rec.Name == "" {
		return MatchKey{}, false
	}

	switch {
	case models.Deref(rec.IDNumber) != "":
		return MatchKey{Name: rec.Name, Field: KeyIDNumber, Value: *rec.IDNumber}, true
	case models.Deref(rec.LicensePlate) != "":
		return MatchKey{Name: rec.Name, Field: KeyLicensePlate, Value: *rec.LicensePlate}, true
	case models.Deref(rec.CaseNumber) != "":
		return MatchKey{Name: rec.Name, Field: KeyCaseNumber, Value: *rec.CaseNumber}, true
	default:
		return MatchKey{}, false
	}
}

// KeysFor returns every match key rec carries, highest precedence first.
func KeysFor(rec *models.OffenderRecord) []MatchKey {
	if rec == nil || rec.Name == "" {
		return nil
	}

	var keys []MatchKey

	for _, f := range []struct {
		v     *string
		field string
	}{
		{rec.IDNumber, KeyIDNumber},
		{rec.LicensePlate, KeyLicensePlate},
		{rec.CaseNumber, KeyCaseNumber},
	} {
		if v := models.Deref(f.v); v != "" {
			keys = append(keys, MatchKey{Name: rec.Name, Field: f.field, Value: v})
		}
	}

	return keys
}

// Conflicts reports whether stored and incoming both carry an identifier of
// higher precedence than k and the two values differ. Such a pair is two
// people sharing a weaker identifier.
func (k MatchKey) Conflicts(stored, incoming *models.OffenderRecord) bool {
	differ := func(a, b *string) bool {
		return models.Deref(a) != "" && models.Deref(b) != "" && *a != *b
	}

	switch k.Field {
	case KeyLicensePlate:
		return differ(stored.IDNumber, incoming.IDNumber)
	case KeyCaseNumber:
		return differ(stored.IDNumber, incoming.IDNumber) || differ(stored.LicensePlate, incoming.LicensePlate)
	default:
		return false
	}
}

// Valid reports whether the key names a known identifier field.
func (k MatchKey) Valid() bool {
	switch k.Field {
	case KeyIDNumber, KeyLicensePlate, KeyCaseNumber:
		return k.Name != "" && k.Value != ""
	default:
		return false
	}
}

// Matches reports whether rec carries this key.
func (k MatchKey) Matches(rec *models.OffenderRecord) bool {
	if rec == nil || rec.Name != k.Name {
		return false
	}

	switch k.Field {
	case KeyIDNumber:
		return models.Deref(rec.IDNumber) == k.Value
	case KeyLicensePlate:
		return models.Deref(rec.LicensePlate) == k.Value
	case KeyCaseNumber:
		return models.Deref(rec.CaseNumber) == k.Value
	default:
		return false
	}
}

// Store persists offender records. Implementations must be safe for use by
// one goroutine at a time; the pipeline serializes calls.
type Store interface {
	FindByMatchKey(ctx context.Context, key MatchKey) (*models.OffenderRecord, error)
	Get(ctx context.Context, id string) (*models.OffenderRecord, error)
	Insert(ctx context.Context, rec *models.OffenderRecord) (string, error)
	UpdateFields(ctx context.Context, id string, patch Patch) error
	AppendProvenance(ctx context.Context, offenderID string, prov models.SourceProvenance) error
	ListProvenance(ctx context.Context, offenderID string) ([]models.SourceProvenance, error)
	Transaction(ctx context.Context, fn func(Store) error) error
	Close() error
}

// Patch lists the fields to set on a stored record. Nil fields are left
// untouched.
type Patch struct {
	UpdatedAt       time.Time
	IDNumber        *string
	LicensePlate    *string
	Gender          *string
	ViolationDate   *time.Time
	CaseNumber      *string
	ViolationClause *string
	Location        *string
	Description     *string
	SourceURL       *string
	ImageURL        *string
}

// FillMissing returns a patch holding the incoming values for fields that
// are empty on stored. Values already stored are never overwritten.
func FillMissing(stored, incoming *models.OffenderRecord) Patch {
	var p Patch

	pick := func(have, want *string) *string {
		if models.Deref(have) == "" && models.Deref(want) != "" {
			return want
		}

		return nil
	}

	p.IDNumber = pick(stored.IDNumber, incoming.IDNumber)
	p.LicensePlate = pick(stored.LicensePlate, incoming.LicensePlate)
	p.Gender = pick(stored.Gender, incoming.Gender)
	p.CaseNumber = pick(stored.CaseNumber, incoming.CaseNumber)
	p.ViolationClause = pick(stored.ViolationClause, incoming.ViolationClause)
	p.Location = pick(stored.Location, incoming.Location)
	p.Description = pick(stored.Description, incoming.Description)
	p.SourceURL = pick(stored.SourceURL, incoming.SourceURL)
	p.ImageURL = pick(stored.ImageURL, incoming.ImageURL)

	if stored.ViolationDate == nil && incoming.ViolationDate != nil {
		p.ViolationDate = incoming.ViolationDate
	}

	return p
}

// Empty reports whether the patch sets no record field.
func (p Patch) Empty() bool {
	return len(p.Columns()) == 0
}

// Column is one column assignment of a patch.
type Column struct {
	Value any
	Name  string
}

// Columns returns the non-nil assignments in a stable order. UpdatedAt is
// not included.
func (p Patch) Columns() []Column {
	var cols []Column

	add := func(name string, v *string) {
		if v != nil {
			cols = append(cols, Column{Name: name, Value: *v})
		}
	}

	add("id_number", p.IDNumber)
	add("license_plate", p.LicensePlate)
	add("gender", p.Gender)

	if p.ViolationDate != nil {
		cols = append(cols, Column{Name: "violation_date", Value: *p.ViolationDate})
	}

	add("case_number", p.CaseNumber)
	add("violation_clause", p.ViolationClause)
	add("location", p.Location)
	add("description", p.Description)
	add("source_url", p.SourceURL)
	add("image_url", p.ImageURL)

	return cols
}

// Apply copies the patch onto rec.
func (p Patch) Apply(rec *models.OffenderRecord) {
	set := func(dst **string, v *string) {
		if v != nil {
			s := *v
			*dst = &s
		}
	}

	set(&rec.IDNumber, p.IDNumber)
	set(&rec.LicensePlate, p.LicensePlate)
	set(&rec.Gender, p.Gender)
	set(&rec.CaseNumber, p.CaseNumber)
	set(&rec.ViolationClause, p.ViolationClause)
	set(&rec.Location, p.Location)
	set(&rec.Description, p.Description)
	set(&rec.SourceURL, p.SourceURL)
	set(&rec.ImageURL, p.ImageURL)

	if p.ViolationDate != nil {
		d := *p.ViolationDate
		rec.ViolationDate = &d
	}

	if !p.UpdatedAt.IsZero() {
		rec.UpdatedAt = p.UpdatedAt
	}
}
