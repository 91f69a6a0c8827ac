package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"duiwatch/internal/models"
	"duiwatch/internal/store"
	"duiwatch/internal/store/memstore"
	"duiwatch/internal/store/sqlstore"
)

func str(s string) *string { return &s }

func backends(t *testing.T) map[string]store.Store {
	t.Helper()

	ctx := context.Background()

	sql, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("sqlstore.Open() error = %v", err)
	}

	t.Cleanup(func() { _ = sql.Close() })

	if err := sql.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	return map[string]store.Store{
		"memstore": memstore.New(),
		"sqlstore": sql,
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(s, nil)

			date := time.Date(2022, 7, 11, 0, 0, 0, 0, time.UTC)
			rec := &models.OffenderRecord{
				Name:          "石玉山",
				CaseNumber:    str("B-abc123"),
				ViolationDate: &date,
				Source:        "taichung",
				CrawlTime:     time.Now(),
			}
			prov := models.SourceProvenance{SourceName: "taichung", URL: str("https://example.gov.tw/a.pdf")}

			first, err := r.Reconcile(ctx, rec, prov)
			if err != nil {
				t.Fatalf("first Reconcile() error = %v", err)
			}

			second, err := r.Reconcile(ctx, rec, prov)
			if err != nil {
				t.Fatalf("second Reconcile() error = %v", err)
			}

			if first.Outcome != Created || second.Outcome != Updated {
				t.Errorf("outcomes = %s, %s, want created, updated", first.Outcome, second.Outcome)
			}

			if first.ID != second.ID {
				t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
			}

			if len(second.Filled) != 0 {
				t.Errorf("second reconcile filled %v", second.Filled)
			}

			list, err := s.ListProvenance(ctx, first.ID)
			if err != nil {
				t.Fatalf("ListProvenance() error = %v", err)
			}

			if len(list) != 2 {
				t.Errorf("provenance rows = %d, want 2", len(list))
			}
		})
	}
}

func TestReconcile_FirstWriterWins(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(s, nil)

			first, err := r.Reconcile(ctx, &models.OffenderRecord{
				Name:         "王小明",
				LicensePlate: str("ABC-1"),
				Location:     str("北屯區"),
				Source:       "a",
			}, models.SourceProvenance{CrawlTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}

			// same plate, new location and a gender: only the gender is new
			second, err := r.Reconcile(ctx, &models.OffenderRecord{
				Name:         "王小明",
				LicensePlate: str("ABC-1"),
				Location:     str("西屯區"),
				Gender:       str("male"),
				Source:       "b",
			}, models.SourceProvenance{CrawlTime: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}

			if second.Outcome != Updated || second.ID != first.ID {
				t.Fatalf("second = %+v", second)
			}

			got, err := s.Get(ctx, first.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}

			if models.Deref(got.Location) != "北屯區" {
				t.Errorf("Location = %q, stored value was overwritten", models.Deref(got.Location))
			}

			if models.Deref(got.Gender) != "male" {
				t.Errorf("Gender = %q, want filled", models.Deref(got.Gender))
			}

			list, _ := s.ListProvenance(ctx, first.ID)
			if len(list) != 2 || list[0].SourceName != "a" || list[1].SourceName != "b" {
				t.Errorf("provenance = %+v", list)
			}
		})
	}
}

func TestReconcile_IDNumberTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	r := New(s, nil)

	first, err := r.Reconcile(ctx, &models.OffenderRecord{
		Name:         "王小明",
		IDNumber:     str("A123456789"),
		LicensePlate: str("ABC-1"),
	}, models.SourceProvenance{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	// a different plate under the same id number is the same person
	second, err := r.Reconcile(ctx, &models.OffenderRecord{
		Name:         "王小明",
		IDNumber:     str("A123456789"),
		LicensePlate: str("XYZ-9"),
	}, models.SourceProvenance{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if second.ID != first.ID || second.Key.Field != store.KeyIDNumber {
		t.Errorf("second = %+v, want match on id number", second)
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestReconcile_FillsIDNumberLater(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := New(s, nil)

			first, err := r.Reconcile(ctx, &models.OffenderRecord{Name: "王小明", LicensePlate: str("ABC-1")}, models.SourceProvenance{})
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}

			second, err := r.Reconcile(ctx, &models.OffenderRecord{
				Name:         "王小明",
				IDNumber:     str("A123"),
				LicensePlate: str("ABC-1"),
			}, models.SourceProvenance{})
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}

			if second.Outcome != Updated || second.ID != first.ID || second.Key.Field != store.KeyLicensePlate {
				t.Fatalf("second = %+v", second)
			}

			got, _ := s.Get(ctx, first.ID)
			if models.Deref(got.IDNumber) != "A123" || models.Deref(got.LicensePlate) != "ABC-1" {
				t.Errorf("stored = %+v", got)
			}
		})
	}
}

func TestReconcile_ConflictingIDNumbersStaySeparate(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	r := New(s, nil)

	first, _ := r.Reconcile(ctx, &models.OffenderRecord{Name: "王小明", IDNumber: str("A1"), LicensePlate: str("ABC-1")}, models.SourceProvenance{})

	second, err := r.Reconcile(ctx, &models.OffenderRecord{Name: "王小明", IDNumber: str("B2"), LicensePlate: str("ABC-1")}, models.SourceProvenance{})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if second.Outcome != Created || second.ID == first.ID || s.Len() != 2 {
		t.Errorf("second = %+v, len = %d", second, s.Len())
	}
}

func TestReconcile_RejectsRecordWithoutKey(t *testing.T) {
	r := New(memstore.New(), nil)

	_, err := r.Reconcile(context.Background(), &models.OffenderRecord{Name: "甲"}, models.SourceProvenance{})
	if !errors.Is(err, store.ErrNoMatchKey) {
		t.Errorf("error = %v, want ErrNoMatchKey", err)
	}
}

type failingProvenance struct {
	*memstore.Store
}

var errProvenance = errors.New("provenance write failed")

func (f failingProvenance) AppendProvenance(context.Context, string, models.SourceProvenance) error {
	return errProvenance
}

func (f failingProvenance) Transaction(ctx context.Context, fn func(store.Store) error) error {
	return f.Store.Transaction(ctx, func(store.Store) error { return fn(f) })
}

func TestReconcile_RollsBackOnProvenanceFailure(t *testing.T) {
	mem := memstore.New()
	r := New(failingProvenance{mem}, nil)

	_, err := r.Reconcile(context.Background(), &models.OffenderRecord{Name: "甲", CaseNumber: str("B-1")}, models.SourceProvenance{})
	if !errors.Is(err, errProvenance) {
		t.Fatalf("error = %v, want errProvenance", err)
	}

	if mem.Len() != 0 {
		t.Errorf("Len() = %d, insert should have been rolled back", mem.Len())
	}
}
