package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/editsession"
	"NewsCurator/internal/fingerprint"
	"NewsCurator/internal/lifecycle"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scheduler"
)

// Config tunes ingestion-side duplicate detection.
type Config struct {
	// SoftDupWindow is how far back stored vectors are compared against a
	// new candidate.
	SoftDupWindow time.Duration
	// SoftDupLimit caps the comparison window size.
	SoftDupLimit int
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{SoftDupWindow: 7 * 24 * time.Hour, SoftDupLimit: 500}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SoftDupWindow <= 0 {
		c.SoftDupWindow = def.SoftDupWindow
	}
	if c.SoftDupLimit <= 0 {
		c.SoftDupLimit = def.SoftDupLimit
	}
	return c
}

// Service is the single entry point for operator and ingestion actions.
// It composes the fingerprint engine, the lifecycle manager, the edit
// session manager and the publication scheduler so callers never have to
// sequence those pieces themselves.
type Service struct {
	cfg          Config
	drafts       ports.DraftStore
	jobs         ports.JobStore
	vectors      ports.VectorStore
	failures     ports.FailureStore
	fingerprints *fingerprint.Engine
	lifecycle    *lifecycle.Manager
	sessions     *editsession.Manager
	sched        *scheduler.Scheduler
	enrich       ports.ContentEnrichment
	clock        ports.Clock
	logger       *slog.Logger
}

// Deps carries the service's collaborators.
type Deps struct {
	Drafts       ports.DraftStore
	Jobs         ports.JobStore
	Vectors      ports.VectorStore
	Failures     ports.FailureStore
	Fingerprints *fingerprint.Engine
	Lifecycle    *lifecycle.Manager
	Sessions     *editsession.Manager
	Scheduler    *scheduler.Scheduler
	Enrichment   ports.ContentEnrichment
	Clock        ports.Clock
	Logger       *slog.Logger
}

// New wires the façade.
func New(cfg Config, deps Deps) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Service{
		cfg:          cfg.withDefaults(),
		drafts:       deps.Drafts,
		jobs:         deps.Jobs,
		vectors:      deps.Vectors,
		failures:     deps.Failures,
		fingerprints: deps.Fingerprints,
		lifecycle:    deps.Lifecycle,
		sessions:     deps.Sessions,
		sched:        deps.Scheduler,
		enrich:       deps.Enrichment,
		clock:        clock,
		logger:       deps.Logger,
	}
}

// IngestResult is what ingestion hands back to the caller: the created
// draft plus any soft duplicates flagged for review.
type IngestResult struct {
	Draft          domain.Draft
	SoftDuplicates []fingerprint.Match
}

// Ingest runs the intake path for one candidate: fingerprint, hard-dup
// rejection, draft creation in INBOX, first representation pair, vector
// registration and soft-dup surfacing.
func (s *Service) Ingest(ctx context.Context, cand domain.Candidate) (IngestResult, error) {
	if strings.TrimSpace(cand.URL) == "" {
		return IngestResult{}, fmt.Errorf("%w: candidate has no url", domain.ErrValidation)
	}
	if strings.TrimSpace(cand.Title) == "" {
		return IngestResult{}, fmt.Errorf("%w: candidate has no title", domain.ErrValidation)
	}

	fp, err := s.fingerprints.Compute(cand.URL, cand.Text)
	if err != nil {
		return IngestResult{}, fmt.Errorf("fingerprint candidate: %w", err)
	}

	if existing, found, err := s.drafts.FindDraftByURLHash(ctx, fp.URLHash); err != nil {
		return IngestResult{}, fmt.Errorf("check duplicate: %w", err)
	} else if found {
		return IngestResult{}, fmt.Errorf("%w: draft %s has the same source url", domain.ErrDuplicate, existing.ID)
	}

	normalized, err := fingerprint.NormalizeURL(cand.URL)
	if err != nil {
		return IngestResult{}, err
	}

	var soft []fingerprint.Match
	if len(fp.Vector) > 0 {
		window, err := s.vectors.RecentVectors(ctx, s.clock.Now().Add(-s.cfg.SoftDupWindow), s.cfg.SoftDupLimit)
		if err != nil {
			s.warn("soft-dup window lookup failed", "url", cand.URL, "error", err)
		} else {
			soft = s.fingerprints.SoftDuplicates(fp, window)
		}
	}

	now := s.clock.Now()
	draft := domain.Draft{
		ID:            uuid.NewString(),
		State:         domain.StateInbox,
		SourceURL:     cand.URL,
		NormalizedURL: normalized,
		Domain:        fingerprint.Domain(cand.URL),
		SourceName:    cand.Source,
		Content: domain.Content{
			Title:    cand.Title,
			Body:     cand.Text,
			ImageURL: cand.ImageURL,
		},
		Fingerprint: fp,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.drafts.CreateDraft(ctx, draft); err != nil {
		return IngestResult{}, fmt.Errorf("create draft: %w", err)
	}

	draft, err = s.lifecycle.Materialize(ctx, draft.ID)
	if err != nil {
		return IngestResult{}, err
	}

	if len(fp.Vector) > 0 {
		if err := s.vectors.SaveVector(ctx, domain.StoredVector{
			URLHash:       fp.URLHash,
			NormalizedURL: normalized,
			Domain:        draft.Domain,
			Vector:        fp.Vector,
			StoredAt:      now,
		}); err != nil {
			s.warn("save vector failed", "draft_id", draft.ID, "error", err)
		}
	}

	s.info("candidate ingested", "draft_id", draft.ID, "source", cand.Source, "soft_dups", len(soft))
	return IngestResult{Draft: draft, SoftDuplicates: soft}, nil
}

// Transition applies a moderation trigger through the façade. Triggers
// whose side effects reach beyond the state machine (edit sessions, job
// rows, failure audit) are routed through their dedicated operations so
// the coordination guarantees hold for trigger-speaking callers too.
// Start-edit is the exception: it needs an operator identity, so generic
// callers get the bare state change and handlers use StartEdit.
func (s *Service) Transition(ctx context.Context, draftID string, trigger lifecycle.Trigger, params lifecycle.Params) (domain.Draft, error) {
	switch trigger {
	case lifecycle.TriggerCancelEdit:
		return s.CancelEdit(ctx, draftID)
	case lifecycle.TriggerReject:
		return s.Reject(ctx, draftID)
	case lifecycle.TriggerArchive:
		return s.Archive(ctx, draftID)
	case lifecycle.TriggerSchedule:
		return s.Schedule(ctx, draftID, params.TargetTime)
	case lifecycle.TriggerCancelSchedule:
		return s.CancelSchedule(ctx, draftID)
	case lifecycle.TriggerPublishNow:
		return s.PublishNow(ctx, draftID)
	case lifecycle.TriggerRepost:
		return s.Repost(ctx, draftID)
	default:
		return s.lifecycle.Transition(ctx, draftID, trigger, params)
	}
}

// StartEdit moves the draft into EDITING and opens an edit session bound
// to the operator. An existing session for the draft is superseded.
func (s *Service) StartEdit(ctx context.Context, draftID string, userID int64) (domain.Draft, error) {
	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerStartEdit, lifecycle.Params{})
	if err != nil {
		return draft, err
	}
	s.sessions.Start(draftID, userID)
	return draft, nil
}

// CaptureEdit applies an operator's payload through the draft's edit
// session, advancing EDITING to READY on success.
func (s *Service) CaptureEdit(ctx context.Context, draftID string, payload domain.EditPayload) (domain.Draft, error) {
	return s.sessions.CaptureNext(ctx, draftID, payload)
}

// CancelEdit abandons the draft's edit session and returns it to INBOX.
func (s *Service) CancelEdit(ctx context.Context, draftID string) (domain.Draft, error) {
	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerCancelEdit, lifecycle.Params{
		SessionActive: s.sessions.Active(draftID),
	})
	if err != nil {
		return draft, err
	}
	s.sessions.Cancel(draftID)
	return draft, nil
}

// Reject discards the draft from INBOX.
func (s *Service) Reject(ctx context.Context, draftID string) (domain.Draft, error) {
	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerReject, lifecycle.Params{})
	if err != nil {
		return draft, err
	}
	s.sessions.Cancel(draftID)
	return draft, nil
}

// Archive retires the draft from any non-terminal state. A pending
// publication job is cancelled alongside; a job already mid-attempt
// blocks the archive so the outcome stays unambiguous.
func (s *Service) Archive(ctx context.Context, draftID string) (domain.Draft, error) {
	if _, err := s.sched.Cancel(ctx, draftID); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyExecuting) {
			return domain.Draft{}, err
		}
		// No job, or the job already reached an outcome.
	}
	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerArchive, lifecycle.Params{})
	if err != nil {
		return draft, err
	}
	s.sessions.Cancel(draftID)
	return draft, nil
}

// Schedule plans a future publication: the draft moves to SCHEDULED and a
// job row is created for the scheduler loop. If the job cannot be stored
// the state change is rolled back.
func (s *Service) Schedule(ctx context.Context, draftID string, target time.Time) (domain.Draft, error) {
	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerSchedule, lifecycle.Params{TargetTime: target})
	if err != nil {
		return draft, err
	}

	if err := s.jobs.CreateJob(ctx, s.sched.Plan(draftID, target)); err != nil {
		if _, backErr := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerCancelSchedule, lifecycle.Params{}); backErr != nil {
			s.warn("rollback of schedule failed", "draft_id", draftID, "error", backErr)
		}
		return domain.Draft{}, fmt.Errorf("plan publication for %s: %w", draftID, err)
	}

	s.info("publication scheduled", "draft_id", draftID, "target_time", target)
	return draft, nil
}

// CancelSchedule withdraws a planned publication. The job is cancelled
// before the draft leaves SCHEDULED so the loop cannot pick it up in
// between. Cancelling an already-withdrawn schedule is a no-op returning
// the draft unchanged.
func (s *Service) CancelSchedule(ctx context.Context, draftID string) (domain.Draft, error) {
	if _, err := s.sched.Cancel(ctx, draftID); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyExecuting) {
			return domain.Draft{}, err
		}
	}
	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerCancelSchedule, lifecycle.Params{})
	if errors.Is(err, domain.ErrInvalidTransition) && draft.State == domain.StateReady {
		// The schedule was already withdrawn; repeating the cancel
		// observes the same state instead of failing.
		return draft, nil
	}
	return draft, err
}

// PublishNow publishes the draft immediately. Failures are recorded for
// operator audit; success resolves earlier failure rows. A pending job
// for the draft is cancelled so the loop does not publish twice.
func (s *Service) PublishNow(ctx context.Context, draftID string) (domain.Draft, error) {
	if _, err := s.sched.Cancel(ctx, draftID); err != nil {
		if errors.Is(err, domain.ErrJobAlreadyExecuting) {
			return domain.Draft{}, err
		}
	}

	draft, err := s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerPublishNow, lifecycle.Params{})
	if err != nil {
		if recErr := s.failures.RecordFailure(ctx, domain.PublishFailure{
			DraftID:    draftID,
			Context:    domain.FailureManual,
			Attempt:    1,
			Message:    err.Error(),
			OccurredAt: s.clock.Now(),
		}); recErr != nil {
			s.warn("record manual publish failure failed", "draft_id", draftID, "error", recErr)
		}
		return draft, err
	}

	if err := s.failures.ResolveFailures(ctx, draftID); err != nil {
		s.warn("resolve failures failed", "draft_id", draftID, "error", err)
	}
	s.info("draft published", "draft_id", draftID)
	return draft, nil
}

// Repost publishes an already-published draft again as a fresh channel
// message.
func (s *Service) Repost(ctx context.Context, draftID string) (domain.Draft, error) {
	return s.lifecycle.Transition(ctx, draftID, lifecycle.TriggerRepost, lifecycle.Params{})
}

// RetryPublication grants a FAILED job a fresh attempt budget.
func (s *Service) RetryPublication(ctx context.Context, draftID string) (domain.ScheduledJob, error) {
	return s.sched.Retry(ctx, draftID)
}

// FailedJobs lists jobs waiting on operator intervention.
func (s *Service) FailedJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	return s.sched.ListFailed(ctx)
}

// Summarize rewrites the draft's content through the enrichment backend
// and re-renders its representation pair. Only drafts under edit accept
// generated content so an operator always reviews the result.
func (s *Service) Summarize(ctx context.Context, draftID string) (domain.Draft, error) {
	if s.enrich == nil {
		return domain.Draft{}, fmt.Errorf("%w: enrichment is not configured", domain.ErrValidation)
	}

	draft, err := s.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft.State != domain.StateEditing {
		return draft, fmt.Errorf("%w: summarize requires an editing draft, draft is %s", domain.ErrInvalidTransition, draft.State)
	}

	content, err := s.enrich.Summarize(ctx, draft.Content.Title, draft.Content.Body)
	if err != nil {
		return draft, fmt.Errorf("summarize draft %s: %w", draftID, err)
	}

	if content.Title != "" {
		draft.Content.Title = content.Title
	}
	if content.Body != "" {
		draft.Content.Body = content.Body
	}
	if content.ImageURL != "" {
		draft.Content.ImageURL = content.ImageURL
	}
	draft.UpdatedAt = s.clock.Now()
	if err := s.drafts.UpdateDraft(ctx, draft, domain.StateEditing); err != nil {
		return draft, fmt.Errorf("persist summarized content for %s: %w", draftID, err)
	}

	return s.lifecycle.Materialize(ctx, draftID)
}

// Draft exposes a single draft for read paths.
func (s *Service) Draft(ctx context.Context, draftID string) (domain.Draft, error) {
	return s.drafts.GetDraft(ctx, draftID)
}

func (s *Service) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Service) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
