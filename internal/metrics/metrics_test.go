package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"duiwatch/internal/models"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}

	return string(body)
}

func TestObserveCycle(t *testing.T) {
	m := New(nil)

	stats := models.NewCycleStats("run-1")
	stats.SourcesProcessed = 2
	stats.SourcesFailed = 1
	stats.RecordsCreated = 3
	stats.AIFallbacks = 1
	stats.AddError("fetch")
	stats.AddError("fetch")
	stats.FinishedAt = stats.StartedAt.Add(time.Second)

	m.ObserveCycle(stats)
	m.SetRunning(true)

	out := scrape(t, m)

	for _, want := range []string{
		`duiwatch_cycles_total{result="partial"} 1`,
		`duiwatch_records_total{outcome="created"} 3`,
		`duiwatch_errors_total{category="fetch"} 2`,
		`duiwatch_ai_fallbacks_total 1`,
		`duiwatch_cycle_running 1`,
		`duiwatch_last_success_timestamp_seconds 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics

	m.ObserveCycle(models.NewCycleStats("x"))
	m.SetRunning(true)
}
