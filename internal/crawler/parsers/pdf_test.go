package parsers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"duiwatch/internal/ai"
	"duiwatch/internal/config"
	"duiwatch/internal/models"
	"duiwatch/internal/validator"
)

const bulletinText = "序號 姓名 違規日 違規條款 違規地點 違規事實\n" +
	"1 石玉山 111/7/11 第35條第3項 沙鹿區中清路六段489號\n" +
	"汽機車駕駛人駕駛汽機車，於十年內酒精濃度超過規定標準第2次"

type fakeStructurer struct {
	textCalls, docCalls, imageCalls int

	records []models.RawRecord
	err     error
}

func (f *fakeStructurer) StructureText(_ context.Context, _, _ string) ([]models.RawRecord, error) {
	f.textCalls++

	return f.result()
}

func (f *fakeStructurer) StructureDocument(_ context.Context, _ []byte, _, _ string) ([]models.RawRecord, error) {
	f.docCalls++

	return f.result()
}

func (f *fakeStructurer) StructureImage(_ context.Context, _ []byte, _, _ string) ([]models.RawRecord, error) {
	f.imageCalls++

	return f.result()
}

func (f *fakeStructurer) result() ([]models.RawRecord, error) {
	if f.err != nil {
		return nil, f.err
	}

	out := make([]models.RawRecord, len(f.records))
	copy(out, f.records)

	return out, nil
}

func newTestPDFStrategy(text string, structurer Structurer, score float64) *PDFStrategy {
	p := NewPDFStrategy(Options{
		Structurer:        structurer,
		Quality:           func([]models.RawRecord) float64 { return score },
		FallbackThreshold: 0.5,
	})
	p.extract = func([]byte) (string, error) { return text, nil }

	return p
}

func pdfDoc() *models.RawDocument {
	return &models.RawDocument{
		URL:         "https://example.gov.tw/bulletin.pdf",
		ContentType: "application/pdf",
		Body:        []byte("%PDF-1.4"),
	}
}

func TestPDFStrategy_LayoutParse(t *testing.T) {
	ai := &fakeStructurer{}
	p := newTestPDFStrategy(bulletinText, ai, 1.0)

	records, err := p.Parse(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	if records[0].Extractor != ExtractorPDFLayout {
		t.Errorf("Extractor = %q", records[0].Extractor)
	}

	if records[0].SourceDocumentPath != pdfDoc().URL {
		t.Errorf("SourceDocumentPath = %q", records[0].SourceDocumentPath)
	}

	if !strings.HasPrefix(records[0].Field(FieldCaseNumber), "B-") {
		t.Errorf("expected derived case number, got %v", records[0].Fields)
	}

	if ai.textCalls+ai.docCalls != 0 {
		t.Error("AI should not be called for a good layout parse")
	}
}

func TestPDFStrategy_NoTextLayer(t *testing.T) {
	ai := &fakeStructurer{records: []models.RawRecord{{Name: "王小明"}}}
	p := newTestPDFStrategy("  \n ", ai, 0)

	records, err := p.Parse(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if ai.docCalls != 1 || ai.textCalls != 0 {
		t.Errorf("doc calls = %d, text calls = %d", ai.docCalls, ai.textCalls)
	}

	if len(records) != 1 || records[0].Extractor != ExtractorAIDocument {
		t.Errorf("records = %+v", records)
	}
}

func TestPDFStrategy_LowQualityFallsBackToText(t *testing.T) {
	ai := &fakeStructurer{records: []models.RawRecord{{Name: "王小明"}, {Name: "李大同"}}}
	p := newTestPDFStrategy(bulletinText, ai, 0.2)

	records, err := p.Parse(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if ai.textCalls != 1 {
		t.Errorf("text calls = %d, want 1", ai.textCalls)
	}

	if len(records) != 2 || records[0].Extractor != ExtractorAIText {
		t.Errorf("records = %+v", records)
	}
}

func TestPDFStrategy_AIFailureKeepsLayout(t *testing.T) {
	ai := &fakeStructurer{err: errors.New("backend down")}
	p := newTestPDFStrategy(bulletinText, ai, 0.2)

	records, err := p.Parse(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(records) != 1 || records[0].Extractor != ExtractorPDFLayout {
		t.Errorf("records = %+v", records)
	}
}

func TestPDFStrategy_SimulatedBackend(t *testing.T) {
	structurer, err := ai.NewStructurer(ai.NewSimulatedClient(), config.Default().AI, nil)
	if err != nil {
		t.Fatalf("NewStructurer() error = %v", err)
	}

	score := validator.NewRecordValidator(0).Score

	t.Run("keeps layout records", func(t *testing.T) {
		p := NewPDFStrategy(Options{
			Structurer:        structurer,
			Quality:           func([]models.RawRecord) float64 { return 0 },
			FallbackThreshold: 0.5,
		})
		p.extract = func([]byte) (string, error) {
			return "1 王小明 111/7/11 沙鹿區中清路六段489號 AB-1234\n" +
				"汽機車駕駛人駕駛汽機車，於十年內酒精濃度超過規定標準第2次", nil
		}

		records, err := p.Parse(context.Background(), pdfDoc())
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}

		if len(records) != 1 {
			t.Fatalf("got %d records, want the single layout record: %+v", len(records), records)
		}

		if records[0].Name != "王小明" || records[0].Simulated || records[0].Extractor != ExtractorPDFLayout {
			t.Errorf("record = %+v", records[0])
		}
	})

	t.Run("no layout records yields simulated output", func(t *testing.T) {
		p := NewPDFStrategy(Options{Structurer: structurer, Quality: score, FallbackThreshold: 0.5})
		p.extract = func([]byte) (string, error) { return "本局公告酒駕累犯名單如附件", nil }

		records, err := p.Parse(context.Background(), pdfDoc())
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}

		if len(records) == 0 {
			t.Fatal("expected simulated records")
		}

		for _, rec := range records {
			if !rec.Simulated || rec.Extractor != ExtractorAIText {
				t.Errorf("record = %+v", rec)
			}
		}
	})
}

func TestPDFStrategy_NoStructurer(t *testing.T) {
	p := newTestPDFStrategy(bulletinText, nil, 0)

	records, err := p.Parse(context.Background(), pdfDoc())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestPDFStrategy_ExtractError(t *testing.T) {
	p := NewPDFStrategy(Options{})
	p.extract = func([]byte) (string, error) { return "", errors.New("broken xref") }

	_, err := p.Parse(context.Background(), pdfDoc())
	if !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("error = %v, want ErrInvalidDocument", err)
	}
}

func TestExtractPDFText_Invalid(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not a pdf at all"), []byte("%PDF-1.4\ngarbage")} {
		if _, err := ExtractPDFText(data); err == nil {
			t.Errorf("ExtractPDFText(%q) expected error", data)
		}
	}
}

func TestAssignBulletinKeys(t *testing.T) {
	records := []models.RawRecord{
		{Name: "甲", ViolationDateRaw: "111/7/11", ViolationClauseRaw: "第35條第3項", LocationRaw: "沙鹿區 中清路"},
		{Name: "甲", ViolationDateRaw: "111/7/11", ViolationClauseRaw: "第35條第3項", LocationRaw: "沙鹿區中清路"},
		{Name: "乙", ViolationDateRaw: "111/7/12"},
		{Name: "丙", ViolationDateRaw: "111/7/11", Fields: map[string]string{FieldPlate: "ABC-1234"}},
		{Name: "丁"},
	}

	AssignBulletinKeys(records)

	first := records[0].Field(FieldCaseNumber)
	if !strings.HasPrefix(first, "B-") || len(first) != 14 {
		t.Errorf("case number = %q", first)
	}

	if records[1].Field(FieldCaseNumber) != first {
		t.Error("layout spacing should not change the derived key")
	}

	if records[2].Field(FieldCaseNumber) == first || records[2].Field(FieldCaseNumber) == "" {
		t.Errorf("different violation should get a different key, got %q", records[2].Field(FieldCaseNumber))
	}

	if records[3].Field(FieldCaseNumber) != "" {
		t.Error("record with a plate should not get a derived key")
	}

	if records[4].Field(FieldCaseNumber) != "" {
		t.Error("record without a date should not get a derived key")
	}
}
