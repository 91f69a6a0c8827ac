package models

import (
	"fmt"
	"time"
)

// CycleStats accumulates counters for one ingestion cycle.
type CycleStats struct {
	StartedAt          time.Time      `json:"started_at"`
	FinishedAt         time.Time      `json:"finished_at"`
	ErrorsByCategory   map[string]int `json:"errors_by_category"`
	RunID              string         `json:"run_id"`
	SourcesProcessed   int            `json:"sources_processed"`
	SourcesFailed      int            `json:"sources_failed"`
	DocumentsFetched   int            `json:"documents_fetched"`
	DocumentsFailed    int            `json:"documents_failed"`
	RecordsParsed      int            `json:"records_parsed"`
	RecordsPersisted   int            `json:"records_persisted"`
	RecordsCreated     int            `json:"records_created"`
	RecordsUpdated     int            `json:"records_updated"`
	RecordsRejected    int            `json:"records_rejected"`
	AIFallbacks        int            `json:"ai_fallbacks"`
	SimulatedExtracted int            `json:"simulated_extracted"`
}

// NewCycleStats returns zeroed stats stamped with the start time.
func NewCycleStats(runID string) *CycleStats {
	return &CycleStats{
		RunID:            runID,
		StartedAt:        time.Now(),
		ErrorsByCategory: make(map[string]int),
	}
}

// AddError bumps the counter for an error category.
func (s *CycleStats) AddError(category string) {
	if s.ErrorsByCategory == nil {
		s.ErrorsByCategory = make(map[string]int)
	}

	s.ErrorsByCategory[category]++
}

// Merge adds the counters of other into s.
func (s *CycleStats) Merge(other *CycleStats) {
	if other == nil {
		return
	}

	s.SourcesProcessed += other.SourcesProcessed
	s.SourcesFailed += other.SourcesFailed
	s.DocumentsFetched += other.DocumentsFetched
	s.DocumentsFailed += other.DocumentsFailed
	s.RecordsParsed += other.RecordsParsed
	s.RecordsPersisted += other.RecordsPersisted
	s.RecordsCreated += other.RecordsCreated
	s.RecordsUpdated += other.RecordsUpdated
	s.RecordsRejected += other.RecordsRejected
	s.AIFallbacks += other.AIFallbacks
	s.SimulatedExtracted += other.SimulatedExtracted

	for k, v := range other.ErrorsByCategory {
		if s.ErrorsByCategory == nil {
			s.ErrorsByCategory = make(map[string]int)
		}

		s.ErrorsByCategory[k] += v
	}
}

// Duration is the wall time of the cycle, or the time so far when unfinished.
func (s *CycleStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}

	return s.FinishedAt.Sub(s.StartedAt)
}

// String returns a one-line summary.
func (s *CycleStats) String() string {
	return fmt.Sprintf(
		"CycleStats{Sources: %d (%d failed), Documents: %d (%d failed), Parsed: %d, Created: %d, Updated: %d, Rejected: %d, AI: %d}",
		s.SourcesProcessed, s.SourcesFailed,
		s.DocumentsFetched, s.DocumentsFailed,
		s.RecordsParsed, s.RecordsCreated, s.RecordsUpdated, s.RecordsRejected,
		s.AIFallbacks,
	)
}
