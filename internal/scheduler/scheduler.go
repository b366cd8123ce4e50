package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/lifecycle"
	"NewsCurator/internal/ports"
)

// Config tunes the publication loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	RecoverAfter time.Duration
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		BatchSize:    20,
		MaxAttempts:  3,
		BackoffBase:  time.Minute,
		BackoffCap:   time.Hour,
		RecoverAfter: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.RecoverAfter <= 0 {
		c.RecoverAfter = def.RecoverAfter
	}
	return c
}

// Scheduler executes due publication jobs with bounded retry. One poll loop
// selects due jobs and dispatches each attempt as its own unit of work;
// per-job mutexes serialize operator actions against the loop. All durable
// state lives in the job store, so a restart resumes from persisted rows
// and the recovery sweep requeues attempts that died mid-flight.
type Scheduler struct {
	cfg       Config
	jobs      ports.JobStore
	drafts    ports.DraftStore
	failures  ports.FailureStore
	lifecycle *lifecycle.Manager
	clock     ports.Clock
	logger    *slog.Logger

	locks keyedMutex
	wg    sync.WaitGroup

	mu   sync.Mutex
	stop chan struct{}
}

// New wires the scheduler.
func New(cfg Config, jobs ports.JobStore, drafts ports.DraftStore, failures ports.FailureStore, lc *lifecycle.Manager, clock ports.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		jobs:      jobs,
		drafts:    drafts,
		failures:  failures,
		lifecycle: lc,
		clock:     clock,
		logger:    logger,
	}
}

// Plan builds the job row for a draft entering SCHEDULED.
func (s *Scheduler) Plan(draftID string, targetTime time.Time) domain.ScheduledJob {
	now := s.clock.Now()
	return domain.ScheduledJob{
		DraftID:     draftID,
		TargetTime:  targetTime,
		NextRunAt:   targetTime,
		Status:      domain.JobScheduled,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start launches the timer loop; it runs until Stop or ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		s.runPending(ctx)
		for {
			select {
			case <-ticker.C:
				s.runPending(ctx)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for in-flight attempts to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPending is one poll pass: recover crashed attempts, then dispatch
// every due job. Dispatching does not wait on transport calls.
func (s *Scheduler) runPending(ctx context.Context) {
	now := s.clock.Now()
	s.recoverStuck(ctx, now)

	due, err := s.jobs.ListDueJobs(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.warn("list due jobs failed", "error", err)
		return
	}
	for _, job := range due {
		s.wg.Add(1)
		go s.execute(ctx, job.DraftID)
	}
}

// drain waits for dispatched attempts; used by Stop and tests.
func (s *Scheduler) drain() { s.wg.Wait() }

// execute performs one publish attempt for the draft's job under the
// per-job lock. The status is re-checked after acquiring the lock so a
// cancellation that won the race is honored.
func (s *Scheduler) execute(ctx context.Context, draftID string) {
	defer s.wg.Done()
	unlock := s.locks.lock(draftID)
	defer unlock()

	job, err := s.jobs.GetJob(ctx, draftID)
	if err != nil {
		return
	}
	now := s.clock.Now()
	if job.Status != domain.JobScheduled || job.NextRunAt.After(now) {
		return
	}

	// Mark the attempt start before touching the transport so a crash
	// here is visible to the recovery sweep.
	job.Status = domain.JobExecuting
	job.AttemptCount++
	job.LastAttemptAt = now
	job.UpdatedAt = now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.warn("mark attempt start failed", "draft_id", draftID, "error", err)
		return
	}

	draft, err := s.drafts.GetDraft(ctx, draftID)
	if err != nil || draft.State != domain.StateScheduled {
		job.Status = domain.JobCancelled
		job.UpdatedAt = s.clock.Now()
		if updErr := s.jobs.UpdateJob(ctx, job); updErr != nil {
			s.warn("cancel orphaned job failed", "draft_id", draftID, "error", updErr)
		}
		return
	}

	_, pubErr := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerPublishNow, lifecycle.Params{})
	now = s.clock.Now()
	job.UpdatedAt = now

	if pubErr == nil {
		job.Status = domain.JobPublished
		job.LastError = ""
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			s.warn("record publish success failed", "draft_id", draftID, "error", err)
		}
		if err := s.failures.ResolveFailures(ctx, draftID); err != nil {
			s.warn("resolve failures failed", "draft_id", draftID, "error", err)
		}
		s.info("scheduled draft published", "draft_id", draftID, "attempt", job.AttemptCount)
		return
	}

	job.LastError = pubErr.Error()
	if err := s.failures.RecordFailure(ctx, domain.PublishFailure{
		DraftID:    draftID,
		Context:    domain.FailureScheduled,
		Attempt:    job.AttemptCount,
		Message:    pubErr.Error(),
		OccurredAt: now,
	}); err != nil {
		s.warn("record failure failed", "draft_id", draftID, "error", err)
	}

	permanent := errors.Is(pubErr, domain.ErrTransportPermanent)
	if permanent || job.AttemptCount >= job.MaxAttempts {
		job.Status = domain.JobFailed
		s.warn("publish attempts exhausted", "draft_id", draftID, "attempt", job.AttemptCount, "permanent", permanent, "error", pubErr)
	} else {
		job.Status = domain.JobScheduled
		job.NextRunAt = now.Add(s.Backoff(job.AttemptCount))
		s.info("publish attempt failed, rescheduled", "draft_id", draftID, "attempt", job.AttemptCount, "next_run_at", job.NextRunAt)
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.warn("record publish failure failed", "draft_id", draftID, "error", err)
	}
}

// recoverStuck requeues jobs whose attempt started before the cutoff and
// never reached an outcome; each is requeued at most once per sweep since
// requeueing flips the status back to SCHEDULED.
func (s *Scheduler) recoverStuck(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.RecoverAfter)
	stuck, err := s.jobs.ListStuckJobs(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.warn("list stuck jobs failed", "error", err)
		return
	}

	for _, candidate := range stuck {
		unlock := s.locks.lock(candidate.DraftID)
		job, err := s.jobs.GetJob(ctx, candidate.DraftID)
		if err == nil && job.Status == domain.JobExecuting && job.LastAttemptAt.Before(cutoff) {
			job.Status = domain.JobScheduled
			job.NextRunAt = now
			job.UpdatedAt = now
			if err := s.jobs.UpdateJob(ctx, job); err != nil {
				s.warn("requeue stuck job failed", "draft_id", job.DraftID, "error", err)
			} else {
				s.info("requeued stuck job", "draft_id", job.DraftID, "last_attempt_at", job.LastAttemptAt)
			}
		}
		unlock()
	}
}

// Cancel removes a pending or failed job. It wins any race against the
// loop by taking the per-job lock first; an attempt that already started
// is reported as domain.ErrJobAlreadyExecuting. Cancelling an already
// cancelled job is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, draftID string) (domain.ScheduledJob, error) {
	unlock := s.locks.lock(draftID)
	defer unlock()

	job, err := s.jobs.GetJob(ctx, draftID)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	switch job.Status {
	case domain.JobCancelled:
		return job, nil
	case domain.JobExecuting:
		return job, fmt.Errorf("draft %s: %w", draftID, domain.ErrJobAlreadyExecuting)
	case domain.JobPublished:
		return job, fmt.Errorf("draft %s job already resolved: %w", draftID, domain.ErrJobNotFound)
	}

	job.Status = domain.JobCancelled
	job.UpdatedAt = s.clock.Now()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("cancel job for %s: %w", draftID, err)
	}
	return job, nil
}

// Retry requeues an operator-visible FAILED job with a fresh attempt
// budget. Retrying a still-pending job is a no-op.
func (s *Scheduler) Retry(ctx context.Context, draftID string) (domain.ScheduledJob, error) {
	unlock := s.locks.lock(draftID)
	defer unlock()

	job, err := s.jobs.GetJob(ctx, draftID)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	switch job.Status {
	case domain.JobScheduled:
		return job, nil
	case domain.JobExecuting:
		return job, fmt.Errorf("draft %s: %w", draftID, domain.ErrJobAlreadyExecuting)
	case domain.JobPublished, domain.JobCancelled:
		return job, fmt.Errorf("draft %s job already resolved: %w", draftID, domain.ErrJobNotFound)
	}

	now := s.clock.Now()
	job.Status = domain.JobScheduled
	job.AttemptCount = 0
	job.LastError = ""
	job.NextRunAt = now
	job.UpdatedAt = now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return domain.ScheduledJob{}, fmt.Errorf("retry job for %s: %w", draftID, err)
	}
	return job, nil
}

// ListFailed returns the operator-visible FAILED jobs.
func (s *Scheduler) ListFailed(ctx context.Context) ([]domain.ScheduledJob, error) {
	return s.jobs.ListFailedJobs(ctx)
}

// Backoff returns the inter-attempt delay after the given attempt number:
// base * 2^(attempt-1), capped.
func (s *Scheduler) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := s.cfg.BackoffBase << uint(shift)
	if delay > s.cfg.BackoffCap || delay <= 0 {
		delay = s.cfg.BackoffCap
	}
	return delay
}

func (s *Scheduler) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
