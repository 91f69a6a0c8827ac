package crawler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"duiwatch/internal/logger"
)

// AttemptLog records every HTTP attempt made during a cycle. Safe for
// concurrent use by one batch of document fetches.
type AttemptLog struct {
	mu      sync.Mutex
	results map[string][]AttemptResult
	order   []string
}

// AttemptResult records the result of one request.
type AttemptResult struct {
	Timestamp  time.Time
	URL        string
	Error      string
	Attempt    int
	Duration   time.Duration
	StatusCode int
	Success    bool
}

// NewAttemptLog creates an empty log.
func NewAttemptLog() *AttemptLog {
	return &AttemptLog{results: make(map[string][]AttemptResult)}
}

// Record appends the outcome of one attempt for url.
func (l *AttemptLog) Record(url string, success bool, err error, statusCode int, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.results[url]; !seen {
		l.order = append(l.order, url)
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	l.results[url] = append(l.results[url], AttemptResult{
		URL:        url,
		Attempt:    len(l.results[url]) + 1,
		Success:    success,
		Error:      errMsg,
		Timestamp:  time.Now(),
		Duration:   duration,
		StatusCode: statusCode,
	})
}

// For returns a copy of the attempts recorded for url.
func (l *AttemptLog) For(url string) []AttemptResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]AttemptResult(nil), l.results[url]...)
}

// Stats aggregates the log.
func (l *AttemptLog) Stats() AttemptStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := AttemptStats{
		TotalURLs:   len(l.results),
		URLAttempts: make(map[string]int, len(l.results)),
	}

	for url, results := range l.results {
		stats.URLAttempts[url] = len(results)
		stats.TotalAttempts += len(results)

		urlSuccess := false

		for _, result := range results {
			if result.Success {
				stats.SuccessfulAttempts++
				urlSuccess = true
			} else {
				stats.FailedAttempts++
			}
		}

		if urlSuccess {
			stats.SuccessfulURLs++
		} else {
			stats.FailedURLs++
		}
	}

	return stats
}

// AttemptStats contains statistics about fetch attempts.
type AttemptStats struct {
	URLAttempts        map[string]int
	TotalURLs          int
	SuccessfulURLs     int
	FailedURLs         int
	TotalAttempts      int
	SuccessfulAttempts int
	FailedAttempts     int
}

// String returns a string representation of attempt stats.
func (s AttemptStats) String() string {
	return fmt.Sprintf(
		"URLs: %d total, %d success, %d failed | Attempts: %d total, %d success, %d failed",
		s.TotalURLs,
		s.SuccessfulURLs,
		s.FailedURLs,
		s.TotalAttempts,
		s.SuccessfulAttempts,
		s.FailedAttempts,
	)
}

// RetriedURLs lists URLs that needed more than one attempt, sorted.
func (s AttemptStats) RetriedURLs() []string {
	var urls []string

	for url, n := range s.URLAttempts {
		if n > 1 {
			urls = append(urls, url)
		}
	}

	sort.Strings(urls)

	return urls
}

// LogSummary logs every URL whose last attempt failed, then the totals.
func (l *AttemptLog) LogSummary(log *logger.Logger) {
	l.mu.Lock()
	order := append([]string(nil), l.order...)
	l.mu.Unlock()

	log.Info("📊 Fetch attempt summary")

	for _, url := range order {
		results := l.For(url)
		if len(results) == 0 {
			continue
		}

		last := results[len(results)-1]
		if last.Success {
			continue
		}

		log.Warn(fmt.Sprintf("   ❌ %s (%d attempts)", url, len(results)), "error", last.Error, "status", last.StatusCode)
	}

	log.Info(fmt.Sprintf("Overall: %s", l.Stats()))
}

// Reset clears the log between cycles.
func (l *AttemptLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.results = make(map[string][]AttemptResult)
	l.order = nil
}
