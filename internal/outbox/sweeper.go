package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically re-enqueues pending farms that have no outbox job
type Sweeper struct {
	cron       *cron.Cron
	store      JobStore
	staleAfter time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
	mu         sync.Mutex
	running    bool
}

// NewSweeper schedules a sweep using a standard cron expression or descriptor such as "@every 5m"
func NewSweeper(store JobStore, schedule string, staleAfter time.Duration, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:       cron.New(),
		store:      store,
		staleAfter: staleAfter,
		timeout:    time.Minute,
		logger:     logger,
		now:        time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("failed to schedule sweep %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.logger.Info("Starting stale verification sweeper", zap.Duration("stale_after", s.staleAfter))
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	<-s.cron.Stop().Done()
	s.logger.Info("Stale verification sweeper stopped")
}

// Sweep enqueues pending farms older than staleAfter that lack a job
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.store.EnqueueStale(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Re-enqueued stale pending farms", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Stale verification sweep failed", zap.Error(err))
	}
}
