package normalizer

import (
	"errors"
	"testing"
	"time"

	"duiwatch/internal/models"
)

const testSource = "臺中市政府警察局"

func TestNewProcessor(t *testing.T) {
	p := NewProcessor(nil)
	if p == nil {
		t.Fatal("NewProcessor returned nil")
	}
}

func TestProcessor_Process(t *testing.T) {
	p := NewProcessor(nil)

	raw := &models.RawRecord{
		SequenceNumber:     "1",
		Name:               "石 玉 山",
		ViolationDateRaw:   "111/7/11",
		ViolationClauseRaw: "第35條第3項",
		LocationRaw:        "臺中市沙鹿區中清路六段489號",
		Description:        "汽機車駕駛人酒精濃度超過規定標準第2次",
		SourceDocumentPath: "https://example.gov.tw/a.pdf",
		Fields: map[string]string{
			"案號": "ｂ-abc123",
			"性別": "男",
		},
	}

	rec, err := p.Process(raw, testSource)
	if err != nil {
		t.Fatalf("Process returned unexpected error: %v", err)
	}

	if rec.Name != "石玉山" {
		t.Errorf("Name = %q, want 石玉山", rec.Name)
	}

	if got := models.Deref(rec.CaseNumber); got != "B-ABC123" {
		t.Errorf("CaseNumber = %q, want B-ABC123", got)
	}

	if got := models.Deref(rec.Gender); got != GenderMale {
		t.Errorf("Gender = %q, want male", got)
	}

	want := time.Date(2022, 7, 11, 0, 0, 0, 0, time.UTC)
	if rec.ViolationDate == nil || !rec.ViolationDate.Equal(want) {
		t.Errorf("ViolationDate = %v, want %v", rec.ViolationDate, want)
	}

	if rec.Source != testSource {
		t.Errorf("Source = %q", rec.Source)
	}

	if models.Deref(rec.SourceURL) != "https://example.gov.tw/a.pdf" {
		t.Errorf("SourceURL = %v", rec.SourceURL)
	}

	if rec.IDNumber != nil || rec.LicensePlate != nil {
		t.Error("absent identifiers should stay nil")
	}

	if rec.RawData["案號"] != "ｂ-abc123" {
		t.Error("RawData should keep the original columns")
	}
}

func TestProcessor_Process_KeepsRawLines(t *testing.T) {
	raw := &models.RawRecord{
		SequenceNumber:   "3",
		Name:             "王小明",
		ViolationDateRaw: "111/7/11",
		Fields:           map[string]string{"案號": "B-1"},
		RawLines:         []string{"3 王小明 111/7/11", "備註：另案移送"},
	}

	rec, err := NewProcessor(nil).Process(raw, testSource)
	if err != nil {
		t.Fatalf("Process returned unexpected error: %v", err)
	}

	if got := rec.RawData[RawLinesKey]; got != "3 王小明 111/7/11\n備註：另案移送" {
		t.Errorf("RawData[%s] = %q", RawLinesKey, got)
	}

	if rec.RawData["案號"] != "B-1" {
		t.Errorf("RawData = %v", rec.RawData)
	}
}

func TestProcessor_Process_Rejects(t *testing.T) {
	p := NewProcessor(nil)

	tests := []struct {
		name    string
		raw     *models.RawRecord
		wantErr error
	}{
		{
			name:    "nil",
			raw:     nil,
			wantErr: ErrNilRecord,
		},
		{
			name:    "missing name",
			raw:     &models.RawRecord{Fields: map[string]string{"車牌號碼": "ABC-1234"}},
			wantErr: ErrMissingName,
		},
		{
			name:    "whitespace name",
			raw:     &models.RawRecord{Name: "  　 ", Fields: map[string]string{"車牌號碼": "ABC-1234"}},
			wantErr: ErrMissingName,
		},
		{
			name:    "no identifier",
			raw:     &models.RawRecord{Name: "王小明", ViolationDateRaw: "111/7/11"},
			wantErr: ErrMissingIdentifier,
		},
		{
			name:    "blank identifiers",
			raw:     &models.RawRecord{Name: "王小明", Fields: map[string]string{"身分證字號": " ", "車號": "\t"}},
			wantErr: ErrMissingIdentifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.Process(tt.raw, testSource)
			if rec != nil {
				t.Errorf("expected nil record, got %+v", rec)
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}

			if !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("error %v should wrap ErrInvalidRecord", err)
			}

			if p.Normalize(tt.raw, testSource) != nil {
				t.Error("Normalize should return nil for a rejected record")
			}
		})
	}
}

func TestNormalize_IdentifierVariants(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		check  func(*models.OffenderRecord) string
		want   string
	}{
		{
			name:   "full-width plate",
			fields: map[string]string{"車牌號碼": "ａｂｃ－１２３４"},
			check:  func(r *models.OffenderRecord) string { return models.Deref(r.LicensePlate) },
			want:   "ABC-1234",
		},
		{
			name:   "id number with inner spaces",
			fields: map[string]string{"身分證統一編號": "a1 2345 6789"},
			check:  func(r *models.OffenderRecord) string { return models.Deref(r.IDNumber) },
			want:   "A123456789",
		},
		{
			name:   "english key from ai output",
			fields: map[string]string{"license_plate": "xyz-0001"},
			check:  func(r *models.OffenderRecord) string { return models.Deref(r.LicensePlate) },
			want:   "XYZ-0001",
		},
		{
			name:   "header containing alias",
			fields: map[string]string{"違規車輛車號": "MNO-5566"},
			check:  func(r *models.OffenderRecord) string { return models.Deref(r.LicensePlate) },
			want:   "MNO-5566",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(&models.RawRecord{Name: "王小明", Fields: tt.fields}, testSource)
			if rec == nil {
				t.Fatal("record unexpectedly rejected")
			}

			if got := tt.check(rec); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransformer_Sanitize(t *testing.T) {
	tr := NewTransformer(nil)

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"<b>酒駕</b> 第2次", "酒駕 第2次"},
		{"A &amp; B", "A & B"},
		{"line1\n\n  line2", "line1 line2"},
		{"<script>alert(1)</script>地點", "地點"},
	}

	for _, tt := range tests {
		if got := tr.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeGender(t *testing.T) {
	tests := map[string]string{
		"男":      GenderMale,
		" 女性 ":   GenderFemale,
		"M":      GenderMale,
		"Female": GenderFemale,
		"ｆ":      GenderFemale,
		"未知":     "",
		"":       "",
	}

	for in, want := range tests {
		if got := NormalizeGender(in); got != want {
			t.Errorf("NormalizeGender(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"石 玉 山":       "石玉山",
		"王○明":         "王○明",
		"John  Smith": "John Smith",
	}

	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
