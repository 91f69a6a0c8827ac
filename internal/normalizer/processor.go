// Package normalizer maps parsed bulletin rows onto canonical offender
// records.
package normalizer

import (
	"fmt"

	"duiwatch/internal/models"
)

// Processor transforms and validates raw records.
type Processor struct {
	validator   *Validator
	transformer *Transformer
}

// NewProcessor creates a processor. A nil alias table means DefaultAliases.
func NewProcessor(aliases AliasTable) *Processor {
	return &Processor{
		validator:   NewValidator(),
		transformer: NewTransformer(aliases),
	}
}

// Process transforms raw and validates the result. The error wraps
// ErrInvalidRecord when the record cannot be persisted.
func (p *Processor) Process(raw *models.RawRecord, sourceName string) (*models.OffenderRecord, error) {
	if raw == nil {
		return nil, ErrNilRecord
	}

	rec := p.transformer.Transform(raw, sourceName)

	if err := p.validator.Validate(rec); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return rec, nil
}

// Normalize is Process without the reason: nil means rejected.
func (p *Processor) Normalize(raw *models.RawRecord, sourceName string) *models.OffenderRecord {
	rec, err := p.Process(raw, sourceName)
	if err != nil {
		return nil
	}

	return rec
}

var defaultProcessor = NewProcessor(nil)

// Normalize runs the default processor.
func Normalize(raw *models.RawRecord, sourceName string) *models.OffenderRecord {
	return defaultProcessor.Normalize(raw, sourceName)
}
