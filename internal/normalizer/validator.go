package normalizer

import (
	"errors"
	"fmt"

	"duiwatch/internal/models"
)

// Validation errors. All of them wrap ErrInvalidRecord.
var (
	ErrInvalidRecord     = errors.New("invalid offender record")
	ErrNilRecord         = fmt.Errorf("%w: nil record", ErrInvalidRecord)
	ErrMissingName       = fmt.Errorf("%w: missing name", ErrInvalidRecord)
	ErrMissingIdentifier = fmt.Errorf("%w: no id number, license plate or case number", ErrInvalidRecord)
)

// Validator checks the persistence invariant of an OffenderRecord.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns nil when rec has a name and at least one identifier.
func (v *Validator) Validate(rec *models.OffenderRecord) error {
	if rec == nil {
		return ErrNilRecord
	}

	if rec.Name == "" {
		return ErrMissingName
	}

	if !rec.HasIdentifier() {
		return ErrMissingIdentifier
	}

	return nil
}
