package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type overdueScanner interface {
	OverdueScan(ctx context.Context) (int, error)
}

// OverdueScheduler periodically runs the overdue scan so borrowers get
// reminder mail without operator intervention. One scan runs at a time.
type OverdueScheduler struct {
	scanner  overdueScanner
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewOverdueScheduler builds the scheduler. Intervals under a minute are
// clamped to avoid hammering the ledger.
func NewOverdueScheduler(scanner overdueScanner, interval time.Duration, logger *zap.Logger) *OverdueScheduler {
	if interval < time.Minute {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueScheduler{scanner: scanner, interval: interval, logger: logger}
}

// Start launches the scan loop. An immediate scan runs first, then one per
// interval. Safe to call once.
func (s *OverdueScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go func() {
		defer close(s.done)
		s.scan(runCtx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.scan(runCtx)
			}
		}
	}()
	s.logger.Info("overdue scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight scan to finish.
func (s *OverdueScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.mu.Unlock()
	<-done
	s.logger.Info("overdue scheduler stopped")
}

func (s *OverdueScheduler) scan(ctx context.Context) {
	count, err := s.scanner.OverdueScan(ctx)
	if err != nil {
		s.logger.Error("overdue scan failed", zap.Error(err))
		return
	}
	s.logger.Info("overdue scan completed", zap.Int("reminders", count))
}
