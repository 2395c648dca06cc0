package outbox

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"carboniq/farm-portal/farm-portal-backend/internal/farms"
)

// JobStore is the persistence the worker needs
type JobStore interface {
	// ClaimDueJobs hides the returned jobs from other workers until now+lease
	ClaimDueJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]farms.VerificationJob, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID) error
	RecordJobFailure(ctx context.Context, jobID uuid.UUID, lastErr string, nextAttempt time.Time, final bool) error
	EnqueueStale(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Verifier evaluates a pending farm and stores the outcome
type Verifier interface {
	VerifyFarm(ctx context.Context, farmID uuid.UUID) (*farms.Farm, error)
}

// Config configuration for the verification worker
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxConcurrent    int
	MaxAttempts      int
	RetryDelay       time.Duration
	MaxRetryDelay    time.Duration
	ExecutionTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:     10 * time.Second,
		BatchSize:        20,
		MaxConcurrent:    5,
		MaxAttempts:      5,
		RetryDelay:       30 * time.Second,
		MaxRetryDelay:    time.Hour,
		ExecutionTimeout: time.Minute,
	}
}

// Worker drains the verification outbox
type Worker struct {
	store    JobStore
	verifier Verifier
	logger   *zap.Logger
	config   Config
	jobs     *prometheus.CounterVec
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker. reg may be nil.
func NewWorker(store JobStore, verifier Verifier, logger *zap.Logger, config Config, reg prometheus.Registerer) *Worker {
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carboniq",
		Subsystem: "outbox",
		Name:      "jobs_total",
		Help:      "Verification jobs processed by outcome.",
	}, []string{"outcome"})
	if reg != nil {
		reg.MustRegister(jobs)
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Worker{
		store:    store,
		verifier: verifier,
		logger:   logger,
		config:   config,
		jobs:     jobs,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start polls until ctx is done or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting verification worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("max_concurrent", w.config.MaxConcurrent))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.ProcessDue(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Verification worker shutting down")
			return nil
		case <-w.done:
			w.logger.Info("Verification worker stopped")
			return nil
		case <-ticker.C:
			w.ProcessDue(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// ProcessDue runs one batch of due jobs and waits for them. It returns the number of jobs picked up.
func (w *Worker) ProcessDue(ctx context.Context) int {
	jobs, err := w.store.ClaimDueJobs(ctx, w.now(), w.lease(), w.config.BatchSize)
	if err != nil {
		w.logger.Error("Failed to get due verification jobs", zap.Error(err))
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	w.logger.Info("Processing verification jobs", zap.Int("count", len(jobs)))

	sem := make(chan struct{}, w.config.MaxConcurrent)
	var wg sync.WaitGroup
	for _, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func(job farms.VerificationJob) {
			defer func() {
				<-sem
				wg.Done()
			}()
			w.process(ctx, job)
		}(job)
	}
	wg.Wait()

	return len(jobs)
}

func (w *Worker) process(ctx context.Context, job farms.VerificationJob) {
	start := w.now()

	execCtx := ctx
	if w.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, w.config.ExecutionTimeout)
		defer cancel()
	}

	farm, err := w.verifier.VerifyFarm(execCtx, job.FarmID)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		w.logger.Error("Failed to complete verification job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	w.jobs.WithLabelValues("completed").Inc()
	w.logger.Info("Verification job completed",
		zap.String("farm_id", job.FarmID.String()),
		zap.String("status", farm.VerificationStatus),
		zap.Duration("duration", w.now().Sub(start)))
}

func (w *Worker) fail(ctx context.Context, job farms.VerificationJob, cause error) {
	attempts := job.Attempts + 1
	final := attempts >= w.config.MaxAttempts || farms.IsClientError(cause)
	next := w.now().Add(w.backoff(attempts))

	if final {
		w.jobs.WithLabelValues("failed").Inc()
		w.logger.Error("Verification job failed permanently",
			zap.String("farm_id", job.FarmID.String()),
			zap.Int("attempts", attempts),
			zap.Error(cause))
	} else {
		w.jobs.WithLabelValues("retried").Inc()
		w.logger.Warn("Verification job failed, will retry",
			zap.String("farm_id", job.FarmID.String()),
			zap.Int("attempts", attempts),
			zap.Time("next_attempt_at", next),
			zap.Error(cause))
	}

	if err := w.store.RecordJobFailure(ctx, job.ID, cause.Error(), next, final); err != nil {
		w.logger.Error("Failed to record job failure", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// lease covers one execution so a crashed worker's jobs become due again
func (w *Worker) lease() time.Duration {
	if w.config.ExecutionTimeout > 0 {
		return w.config.ExecutionTimeout
	}
	return DefaultConfig().ExecutionTimeout
}

// backoff doubles the retry delay per attempt, capped at MaxRetryDelay
func (w *Worker) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(w.config.RetryDelay) * math.Pow(2, float64(attempts-1))
	if w.config.MaxRetryDelay > 0 && d > float64(w.config.MaxRetryDelay) {
		return w.config.MaxRetryDelay
	}
	return time.Duration(d)
}
