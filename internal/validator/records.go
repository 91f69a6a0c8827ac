// Package validator scores deterministic parser output and checks the
// integrity of extracted artifacts.
package validator

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"duiwatch/internal/models"
	"duiwatch/internal/normalizer"
	"duiwatch/pkg/metadata"
	"duiwatch/pkg/utils"
)

// Field names used in ValidationError.
const (
	FieldName   = "name"
	FieldDate   = "date"
	FieldClause = "clause"
)

// ValidationError describes one problem with one record.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Index   int
}

// ValidationResult contains validation results.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
	Stats    ValidationStats
	IsValid  bool
}

// ValidationStats contains validation statistics.
type ValidationStats struct {
	TotalRows         int
	CompleteRows      int
	RowsMissingName   int
	RowsInvalidDate   int
	RowsMissingClause int
}

// Score is the fraction of rows with both a parsable date and a clause.
func (s ValidationStats) Score() float64 {
	if s.TotalRows == 0 {
		return 0
	}

	return float64(s.CompleteRows) / float64(s.TotalRows)
}

// RecordValidator checks RawRecords produced by the layout parser.
type RecordValidator struct {
	clausePattern *regexp.Regexp
	maxRecords    int
}

// NewRecordValidator creates a validator. maxRecords above zero adds a
// warning when a single document yields more rows than that.
func NewRecordValidator(maxRecords int) *RecordValidator {
	return &RecordValidator{
		clausePattern: regexp.MustCompile(`第\s*\d+\s*條`),
		maxRecords:    maxRecords,
	}
}

// Validate inspects every record. A result is valid when at least one row
// is complete.
func (v *RecordValidator) Validate(records []models.RawRecord) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []string{},
	}

	for i := range records {
		rec := &records[i]
		result.Stats.TotalRows++

		complete := true

		if strings.TrimSpace(rec.Name) == "" {
			result.Stats.RowsMissingName++
			result.Errors = append(result.Errors, ValidationError{
				Index:   i,
				Field:   FieldName,
				Message: "name is empty",
			})
		}

		if normalizer.ParseDate(rec.ViolationDateRaw) == nil {
			complete = false
			result.Stats.RowsInvalidDate++
			result.Errors = append(result.Errors, ValidationError{
				Index:   i,
				Field:   FieldDate,
				Value:   rec.ViolationDateRaw,
				Message: fmt.Sprintf("date '%s' is not a calendar day", rec.ViolationDateRaw),
			})
		}

		if !v.clausePattern.MatchString(rec.ViolationClauseRaw) {
			complete = false
			result.Stats.RowsMissingClause++
			result.Errors = append(result.Errors, ValidationError{
				Index:   i,
				Field:   FieldClause,
				Value:   utils.Truncate(rec.ViolationClauseRaw, 30),
				Message: "no article reference in clause",
			})
		}

		if complete {
			result.Stats.CompleteRows++
		}
	}

	result.IsValid = result.Stats.CompleteRows > 0

	if v.maxRecords > 0 && result.Stats.TotalRows > v.maxRecords {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"unusually high record count: got %d, expected max %d (check for segmentation errors)",
			result.Stats.TotalRows, v.maxRecords,
		))
	}

	return result
}

// Score returns the parse-quality score of records. Its signature matches
// the parsers' quality hook.
func (v *RecordValidator) Score(records []models.RawRecord) float64 {
	return v.Validate(records).Stats.Score()
}

// ValidateIntegrity checks that an extracted JSON envelope still matches its
// hash.
func ValidateIntegrity(data []byte) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	var env metadata.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{
			Message: fmt.Sprintf("envelope is not valid JSON: %v", err),
		})

		return result
	}

	if err := env.Verify(); err != nil {
		result.IsValid = false
		result.Errors = append(result.Errors, ValidationError{
			Message: fmt.Sprintf("integrity check failed: %v", err),
		})

		return result
	}

	var records []json.RawMessage
	if err := json.Unmarshal(env.Records, &records); err == nil && len(records) != env.RecordCount {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"record_count %d does not match %d records", env.RecordCount, len(records)))
	}

	result.Stats.TotalRows = len(records)

	return result
}

// String returns string representation of validation result.
func (r *ValidationResult) String() string {
	status := "✅ VALID"
	if !r.IsValid {
		status = "❌ INVALID"
	}

	return fmt.Sprintf(
		"%s | Total: %d | Complete: %d | Score: %.2f | Warnings: %d",
		status,
		r.Stats.TotalRows,
		r.Stats.CompleteRows,
		r.Stats.Score(),
		len(r.Warnings),
	)
}

// PrintErrors writes validation errors in readable format.
func (r *ValidationResult) PrintErrors(w io.Writer) {
	if len(r.Errors) == 0 {
		return
	}

	fmt.Fprintln(w, "❌ Validation Errors:")

	for _, err := range r.Errors {
		if err.Field != "" {
			fmt.Fprintf(w, "  Record %d [%s]: %s\n", err.Index+1, err.Field, err.Message)
		} else {
			fmt.Fprintf(w, "  %s\n", err.Message)
		}
	}
}

// PrintWarnings writes validation warnings.
func (r *ValidationResult) PrintWarnings(w io.Writer) {
	if len(r.Warnings) == 0 {
		return
	}

	fmt.Fprintln(w, "⚠️  Validation Warnings:")

	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  %s\n", warn)
	}
}
