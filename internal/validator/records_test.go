package validator

import (
	"bytes"
	"strings"
	"testing"

	"duiwatch/internal/models"
	"duiwatch/pkg/metadata"
)

func TestRecordValidator_Validate(t *testing.T) {
	v := NewRecordValidator(2)

	records := []models.RawRecord{
		{Name: "石玉山", ViolationDateRaw: "111/7/11", ViolationClauseRaw: "第35條第3項"},
		{Name: "王小明", ViolationDateRaw: "111/13/40", ViolationClauseRaw: "第35條"},
		{Name: "", ViolationDateRaw: "111/7/12", ViolationClauseRaw: "第 35 條"},
		{Name: "李大同", ViolationDateRaw: "112/1/1"},
	}

	result := v.Validate(records)

	if !result.IsValid {
		t.Error("expected valid result with complete rows")
	}

	if result.Stats.TotalRows != 4 || result.Stats.CompleteRows != 2 {
		t.Errorf("stats = %+v", result.Stats)
	}

	if result.Stats.RowsInvalidDate != 1 || result.Stats.RowsMissingClause != 1 || result.Stats.RowsMissingName != 1 {
		t.Errorf("stats = %+v", result.Stats)
	}

	if got := result.Stats.Score(); got != 0.5 {
		t.Errorf("Score() = %v, want 0.5", got)
	}

	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v", result.Warnings)
	}

	var buf bytes.Buffer
	result.PrintErrors(&buf)

	if !strings.Contains(buf.String(), "Record 2 [date]") {
		t.Errorf("PrintErrors output = %q", buf.String())
	}
}

func TestRecordValidator_Score(t *testing.T) {
	v := NewRecordValidator(0)

	if got := v.Score(nil); got != 0 {
		t.Errorf("Score(nil) = %v, want 0", got)
	}

	good := []models.RawRecord{{Name: "甲", ViolationDateRaw: "1110711", ViolationClauseRaw: "第35條"}}
	if got := v.Score(good); got != 1 {
		t.Errorf("Score(good) = %v, want 1", got)
	}

	if v.Validate(nil).IsValid {
		t.Error("empty input should not be valid")
	}
}

func TestValidateIntegrity(t *testing.T) {
	env, err := metadata.Seal("taichung", "https://example.gov.tw/a.pdf", "abc", 1,
		[]models.RawRecord{{Name: "石玉山"}})
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if result := ValidateIntegrity(data); !result.IsValid {
		t.Errorf("ValidateIntegrity() = %s, errors %v", result, result.Errors)
	}

	tampered := bytes.Replace(data, []byte("石玉山"), []byte("王小明"), 1)
	if result := ValidateIntegrity(tampered); result.IsValid {
		t.Error("tampered envelope should be invalid")
	}

	if result := ValidateIntegrity([]byte("{")); result.IsValid {
		t.Error("broken JSON should be invalid")
	}

	env.RecordCount = 3

	data, _ = env.Marshal()
	if result := ValidateIntegrity(data); !result.IsValid || len(result.Warnings) != 1 {
		t.Errorf("count mismatch: valid=%v warnings=%v", result.IsValid, result.Warnings)
	}
}
