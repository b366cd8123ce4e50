package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/infrastructure/storage"
	"NewsCurator/internal/lifecycle"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedTransport fails publish calls with the queued errors, then
// succeeds. Render always succeeds.
type scriptedTransport struct {
	mu          sync.Mutex
	publishErrs []error
	published   int
	nextID      int64
}

func (f *scriptedTransport) RenderPair(_ context.Context, _ domain.Draft) (domain.Representation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID += 2
	return domain.Representation{
		Post: domain.MessageRef{ChatID: 1, MessageID: f.nextID - 1},
		Card: domain.MessageRef{ChatID: 1, MessageID: f.nextID},
	}, nil
}

func (f *scriptedTransport) TeardownPair(_ context.Context, _ domain.Representation) error {
	return nil
}

func (f *scriptedTransport) Publish(_ context.Context, _ domain.Draft) (domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		return domain.MessageRef{}, err
	}
	f.published++
	f.nextID++
	return domain.MessageRef{ChatID: 9, MessageID: f.nextID}, nil
}

type fixture struct {
	store     *storage.MemoryStore
	clock     *fakeClock
	transport *scriptedTransport
	sched     *Scheduler
}

func setup(t *testing.T, cfg Config, publishErrs ...error) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Unix(100000, 0).UTC()}
	transport := &scriptedTransport{publishErrs: publishErrs}
	lc := lifecycle.New(store, transport, clock, nil)
	sched := New(cfg, store, store, store, lc, clock, nil)

	draft := domain.Draft{
		ID:      "draft-1",
		State:   domain.StateScheduled,
		Content: domain.Content{Title: "T", Body: "B"},
	}
	if err := store.CreateDraft(context.Background(), draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	job := sched.Plan("draft-1", clock.Now())
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return &fixture{store: store, clock: clock, transport: transport, sched: sched}
}

func (f *fixture) tick(ctx context.Context) {
	f.sched.runPending(ctx)
	f.sched.drain()
}

func (f *fixture) job(t *testing.T) domain.ScheduledJob {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func transientErr() error {
	return fmt.Errorf("%w: bad gateway", domain.ErrTransportTransient)
}

func TestDueJobPublishes(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{})
	f.tick(context.Background())

	job := f.job(t)
	if job.Status != domain.JobPublished {
		t.Fatalf("job status %s", job.Status)
	}
	if job.AttemptCount != 1 {
		t.Fatalf("attempt count %d", job.AttemptCount)
	}
	draft, err := f.store.GetDraft(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if draft.State != domain.StatePublished {
		t.Fatalf("draft state %s", draft.State)
	}
}

func TestBackoffProgressionThenSuccess(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 3, BackoffBase: time.Minute}
	f := setup(t, cfg, transientErr(), transientErr())
	start := f.clock.Now()
	ctx := context.Background()

	f.tick(ctx)
	job := f.job(t)
	if job.Status != domain.JobScheduled || job.AttemptCount != 1 {
		t.Fatalf("after attempt 1: status %s attempts %d", job.Status, job.AttemptCount)
	}
	if got := job.NextRunAt.Sub(start); got != time.Minute {
		t.Fatalf("first backoff %v, want 1m", got)
	}

	// Not due yet: a tick before the backoff elapses must do nothing.
	f.tick(ctx)
	if job := f.job(t); job.AttemptCount != 1 {
		t.Fatalf("attempted before backoff elapsed: %d", job.AttemptCount)
	}

	f.clock.Advance(time.Minute)
	f.tick(ctx)
	job = f.job(t)
	if job.AttemptCount != 2 {
		t.Fatalf("after attempt 2: attempts %d", job.AttemptCount)
	}
	if got := job.NextRunAt.Sub(start); got != 3*time.Minute {
		t.Fatalf("second backoff lands at %v after start, want 3m", got)
	}

	f.clock.Advance(2 * time.Minute)
	f.tick(ctx)
	job = f.job(t)
	if job.Status != domain.JobPublished || job.AttemptCount != 3 {
		t.Fatalf("after attempt 3: status %s attempts %d", job.Status, job.AttemptCount)
	}
	if elapsed := f.clock.Now().Sub(start); elapsed < 3*time.Minute {
		t.Fatalf("inter-attempt delays too short: %v", elapsed)
	}
	draft, _ := f.store.GetDraft(ctx, "draft-1")
	if draft.State != domain.StatePublished {
		t.Fatalf("draft state %s", draft.State)
	}
}

func TestExhaustionReachesFailedExactlyAtMaxAttempts(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 3, BackoffBase: time.Minute}
	f := setup(t, cfg, transientErr(), transientErr(), transientErr(), transientErr())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.tick(ctx)
		f.clock.Advance(time.Hour)
	}

	job := f.job(t)
	if job.Status != domain.JobFailed {
		t.Fatalf("job status %s, want FAILED", job.Status)
	}
	if job.AttemptCount != 3 {
		t.Fatalf("attempts %d, want exactly 3", job.AttemptCount)
	}
	if job.LastError == "" {
		t.Fatal("last error must be recorded")
	}

	var unresolved int
	for _, failure := range f.store.Failures() {
		if !failure.Resolved {
			unresolved++
		}
	}
	if unresolved != 3 {
		t.Fatalf("expected 3 failure audit rows, got %d", unresolved)
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{MaxAttempts: 3}, fmt.Errorf("%w: chat not found", domain.ErrTransportPermanent))
	f.tick(context.Background())

	job := f.job(t)
	if job.Status != domain.JobFailed {
		t.Fatalf("job status %s", job.Status)
	}
	if job.AttemptCount != 1 {
		t.Fatalf("permanent error must not be retried: attempts %d", job.AttemptCount)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{BackoffBase: time.Minute, BackoffCap: 4 * time.Minute})
	if got := f.sched.Backoff(1); got != time.Minute {
		t.Fatalf("attempt 1 backoff %v", got)
	}
	if got := f.sched.Backoff(3); got != 4*time.Minute {
		t.Fatalf("attempt 3 backoff %v", got)
	}
	if got := f.sched.Backoff(50); got != 4*time.Minute {
		t.Fatalf("attempt 50 backoff %v", got)
	}
}

func TestRecoverySweepRequeuesExactlyOnce(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{RecoverAfter: 5 * time.Minute})
	ctx := context.Background()

	job := f.job(t)
	job.Status = domain.JobExecuting
	job.AttemptCount = 1
	job.LastAttemptAt = f.clock.Now().Add(-10 * time.Minute)
	if err := f.store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("seed executing job: %v", err)
	}

	now := f.clock.Now()
	f.sched.recoverStuck(ctx, now)
	recovered := f.job(t)
	if recovered.Status != domain.JobScheduled {
		t.Fatalf("status %s, want SCHEDULED", recovered.Status)
	}
	if !recovered.NextRunAt.Equal(now) {
		t.Fatalf("next run %v, want immediate", recovered.NextRunAt)
	}
	if recovered.AttemptCount != 1 {
		t.Fatalf("recovery must not consume attempts: %d", recovered.AttemptCount)
	}

	// A second sweep within the same cycle must not touch it again.
	f.sched.recoverStuck(ctx, now)
	if again := f.job(t); !again.UpdatedAt.Equal(recovered.UpdatedAt) || again.Status != domain.JobScheduled {
		t.Fatalf("job requeued twice: %+v", again)
	}
}

func TestCancelBeforeExecutionWins(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{})
	ctx := context.Background()

	cancelled, err := f.sched.Cancel(ctx, "draft-1")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.Status != domain.JobCancelled {
		t.Fatalf("status %s", cancelled.Status)
	}

	f.tick(ctx)
	if f.transport.published != 0 {
		t.Fatal("cancelled job must not publish")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{})
	ctx := context.Background()

	first, err := f.sched.Cancel(ctx, "draft-1")
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	second, err := f.sched.Cancel(ctx, "draft-1")
	if err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if first.Status != second.Status {
		t.Fatalf("observable state changed: %s vs %s", first.Status, second.Status)
	}
}

func TestCancelRejectsExecutingJob(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{})
	ctx := context.Background()

	job := f.job(t)
	job.Status = domain.JobExecuting
	if err := f.store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("seed executing job: %v", err)
	}

	if _, err := f.sched.Cancel(ctx, "draft-1"); !errors.Is(err, domain.ErrJobAlreadyExecuting) {
		t.Fatalf("expected ErrJobAlreadyExecuting, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{})
	if _, err := f.sched.Cancel(context.Background(), "no-such-draft"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRetryGrantsFreshBudget(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{MaxAttempts: 2}, transientErr(), transientErr())
	ctx := context.Background()

	f.tick(ctx)
	f.clock.Advance(time.Hour)
	f.tick(ctx)
	if job := f.job(t); job.Status != domain.JobFailed {
		t.Fatalf("expected FAILED before retry, got %s", job.Status)
	}

	failed, err := f.sched.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 1 || failed[0].DraftID != "draft-1" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	retried, err := f.sched.Retry(ctx, "draft-1")
	if err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if retried.Status != domain.JobScheduled || retried.AttemptCount != 0 {
		t.Fatalf("retry did not reset the job: %+v", retried)
	}

	f.tick(ctx)
	if job := f.job(t); job.Status != domain.JobPublished {
		t.Fatalf("retried job did not publish: %s", job.Status)
	}
}

func TestStopAllowsRestart(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{PollInterval: time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.sched.Start(ctx); err != nil {
			t.Fatalf("start cycle %d: %v", i, err)
		}
		if err := f.sched.Stop(ctx); err != nil {
			t.Fatalf("stop cycle %d: %v", i, err)
		}
	}
	// Stop after Stop stays a no-op.
	if err := f.sched.Stop(ctx); err != nil {
		t.Fatalf("repeated stop: %v", err)
	}
}

func TestJobForNonScheduledDraftIsCancelled(t *testing.T) {
	t.Parallel()

	f := setup(t, Config{})
	ctx := context.Background()

	draft, err := f.store.GetDraft(ctx, "draft-1")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	draft.State = domain.StateReady
	if err := f.store.UpdateDraft(ctx, draft, domain.StateScheduled); err != nil {
		t.Fatalf("move draft: %v", err)
	}

	f.tick(ctx)
	if job := f.job(t); job.Status != domain.JobCancelled {
		t.Fatalf("job status %s, want CANCELLED", job.Status)
	}
	if f.transport.published != 0 {
		t.Fatal("must not publish a draft that left SCHEDULED")
	}
}
