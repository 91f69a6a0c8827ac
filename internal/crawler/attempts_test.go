package crawler

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"duiwatch/internal/logger"
)

func TestAttemptLog_Stats(t *testing.T) {
	log := NewAttemptLog()

	log.Record("https://a/1.pdf", false, errors.New("503"), 503, time.Millisecond)
	log.Record("https://a/1.pdf", true, nil, 200, time.Millisecond)
	log.Record("https://a/2.pdf", false, errors.New("timeout"), 0, time.Second)

	stats := log.Stats()

	if stats.TotalURLs != 2 || stats.SuccessfulURLs != 1 || stats.FailedURLs != 1 {
		t.Errorf("unexpected URL stats: %s", stats)
	}

	if stats.TotalAttempts != 3 || stats.SuccessfulAttempts != 1 || stats.FailedAttempts != 2 {
		t.Errorf("unexpected attempt stats: %s", stats)
	}

	retried := stats.RetriedURLs()
	if len(retried) != 1 || retried[0] != "https://a/1.pdf" {
		t.Errorf("RetriedURLs() = %v", retried)
	}

	results := log.For("https://a/1.pdf")
	if len(results) != 2 || results[1].Attempt != 2 || !results[1].Success {
		t.Errorf("unexpected results: %+v", results)
	}

	if !strings.Contains(stats.String(), "Attempts: 3 total") {
		t.Errorf("String() = %q", stats.String())
	}

	log.LogSummary(logger.NewNop())

	log.Reset()

	if log.Stats().TotalAttempts != 0 {
		t.Error("Reset() should clear the log")
	}
}

func TestAttemptLog_ConcurrentRecord(t *testing.T) {
	log := NewAttemptLog()

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			log.Record("https://a/x.pdf", true, nil, 200, 0)
		}()
	}

	wg.Wait()

	if got := log.Stats().TotalAttempts; got != 20 {
		t.Errorf("TotalAttempts = %d, want 20", got)
	}
}
