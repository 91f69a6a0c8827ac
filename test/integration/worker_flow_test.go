package integration

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"duiwatch/internal/config"
	"duiwatch/internal/metrics"
	"duiwatch/internal/pipeline"
	"duiwatch/internal/report"
	"duiwatch/internal/store"
)

func writeWorkerConfig(t *testing.T, baseURL, dir string) string {
	t.Helper()

	yaml := `worker:
  schedule: "@every 6h"
  source_timeout_sec: 30
sources:
  - id: taichung
    name: 臺中市政府警察局
    url: ` + baseURL + `/news/list.html
    type: html-table
    enabled: true
  - id: missing
    name: 失效來源
    url: ` + baseURL + `/missing.html
    type: pdf
    enabled: true
fetch:
  min_delay_ms: 1
  batch_size: 2
  batch_delay_ms: 1
retry:
  max_attempts: 2
  initial_delay_ms: 1
  max_delay_ms: 5
  backoff_multiplier: 2
  timeout_sec: 5
ai:
  provider: simulated
store:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "offenders.db") + `
archive:
  backend: fs
  base_path: ` + filepath.Join(dir, "archive") + `
logging:
  level: error
`

	path := filepath.Join(dir, "worker.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

func TestWorkerFlow_CycleIsIdempotent(t *testing.T) {
	for _, key := range []string{"SOURCES", "AI_PROVIDER", "STORE_DRIVER", "DATABASE_URL", "ARCHIVE_BACKEND", "ARCHIVE_PATH", "ENV_FILE"} {
		t.Setenv(key, "")
	}

	srv, _ := newBureauServer(t)
	dir := t.TempDir()

	cfg, err := config.LoadConfig(writeWorkerConfig(t, srv.URL, dir))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	ctx := context.Background()

	p, st, closeStore, err := pipeline.Build(ctx, cfg, metrics.New(nil), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer closeStore()

	first, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("first RunCycle() error = %v", err)
	}

	if first.RecordsCreated != 3 {
		t.Errorf("first cycle created %d records, want 3\n%s", first.RecordsCreated, report.Summary(first))
	}

	if first.SourcesProcessed != 1 || first.SourcesFailed != 1 {
		t.Errorf("sources = %d processed / %d failed, want 1/1", first.SourcesProcessed, first.SourcesFailed)
	}

	if first.ErrorsByCategory[string(pipeline.CategoryFetch)] != 1 {
		t.Errorf("errors = %v, want one fetch error", first.ErrorsByCategory)
	}

	second, err := p.RunCycle(ctx)
	if err != nil {
		t.Fatalf("second RunCycle() error = %v", err)
	}

	if second.RecordsCreated != 0 || second.RecordsUpdated != 3 {
		t.Errorf("second cycle created/updated = %d/%d, want 0/3", second.RecordsCreated, second.RecordsUpdated)
	}

	rec, err := st.FindByMatchKey(ctx, store.MatchKey{Name: "林志明", Field: store.KeyLicensePlate, Value: "XYZ-0001"})
	if err != nil {
		t.Fatalf("FindByMatchKey() error = %v", err)
	}

	prov, err := st.ListProvenance(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListProvenance() error = %v", err)
	}

	if len(prov) != 2 {
		t.Errorf("got %d provenance rows, want one per cycle", len(prov))
	}

	if rec.ViolationDate == nil || rec.ViolationDate.Format("2006-01-02") != "2023-01-05" {
		t.Errorf("ViolationDate = %v, want 2023-01-05", rec.ViolationDate)
	}

	var raw, extracted int

	err = filepath.WalkDir(filepath.Join(dir, "archive"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		switch {
		case strings.Contains(path, string(filepath.Separator)+"raw"+string(filepath.Separator)):
			raw++
		case strings.Contains(path, string(filepath.Separator)+"extracted"+string(filepath.Separator)):
			extracted++
		}

		return nil
	})
	if err != nil {
		t.Fatalf("walk archive: %v", err)
	}

	if raw == 0 || extracted == 0 {
		t.Errorf("archive has %d raw and %d extracted files, want both", raw, extracted)
	}
}
