// Package scheduler triggers ingestion cycles on a cron schedule. A cycle
// never starts while the previous one is still running.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"duiwatch/internal/logger"
)

// ErrCycleRunning is returned by RunNow while a cycle is in progress.
var ErrCycleRunning = errors.New("a cycle is already running")

// CycleFunc runs one ingestion cycle.
type CycleFunc func(ctx context.Context) error

// Scheduler runs a CycleFunc on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	run     CycleFunc
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	entry   cron.EntryID
	mu      sync.Mutex
	wg      sync.WaitGroup
	skipped int
	skipMu  sync.Mutex
}

// Parser accepts standard five-field expressions and descriptors such as
// "@daily" or "@every 6h".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a scheduler. The schedule is validated immediately.
func New(schedule string, run CycleFunc, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewNop()
	}

	cl := cronLogger{log: log}
	s := &Scheduler{
		run: run,
		log: log,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.entry = id

	return s, nil
}

// Start begins firing cycles. With runNow a cycle starts immediately in the
// background.
func (s *Scheduler) Start(runNow bool) {
	s.cron.Start()
	s.log.Info("⏰ Scheduler started", "next", s.cron.Entry(s.entry).Next)

	if runNow {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.tick()
		}()
	}
}

// Stop cancels the running cycle and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.log.Info("⏰ Scheduler stopped")
}

// RunNow runs one cycle in the caller's goroutine unless one is running.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrCycleRunning
	}
	defer s.mu.Unlock()

	return s.run(ctx)
}

// Skipped returns how many triggers were dropped because a cycle was running.
func (s *Scheduler) Skipped() int {
	s.skipMu.Lock()
	defer s.skipMu.Unlock()

	return s.skipped
}

func (s *Scheduler) tick() {
	err := s.RunNow(s.ctx)

	switch {
	case errors.Is(err, ErrCycleRunning):
		s.skipMu.Lock()
		s.skipped++
		s.skipMu.Unlock()

		s.log.Warn("⏭️ Skipping trigger, previous cycle still running")
	case err != nil:
		s.log.Error("❌ Cycle failed", "error", err)
	}

	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		s.log.Debug("⏰ Next cycle scheduled", "at", next)
	}
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
