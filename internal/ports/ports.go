package ports

import (
	"context"
	"time"

	"NewsCurator/internal/domain"
)

// TransportAdapter renders and removes the POST+CARD pair for a draft and
// publishes drafts to the destination channel. Implementations map their
// failures onto domain.ErrTransportTransient / domain.ErrTransportPermanent.
type TransportAdapter interface {
	// RenderPair produces both messages for the draft's current state or
	// neither: on a partial send the implementation removes what it sent
	// before returning the error.
	RenderPair(ctx context.Context, draft domain.Draft) (domain.Representation, error)
	TeardownPair(ctx context.Context, rep domain.Representation) error
	Publish(ctx context.Context, draft domain.Draft) (domain.MessageRef, error)
}

// ContentEnrichment generates summarized draft content from extracted text.
type ContentEnrichment interface {
	Summarize(ctx context.Context, title, text string) (domain.Content, error)
}

// DraftStore persists draft records. Updates are compare-and-swap on the
// draft's state to prevent lost updates under concurrent access.
type DraftStore interface {
	CreateDraft(ctx context.Context, draft domain.Draft) error
	GetDraft(ctx context.Context, id string) (domain.Draft, error)
	// UpdateDraft replaces the row only while its stored state equals
	// expect; otherwise it returns domain.ErrStateConflict.
	UpdateDraft(ctx context.Context, draft domain.Draft, expect domain.DraftState) error
	// FindDraftByURLHash looks up a non-archived draft with the given
	// normalized-URL hash.
	FindDraftByURLHash(ctx context.Context, hash string) (domain.Draft, bool, error)
}

// JobStore persists scheduled publication jobs keyed by draft id.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.ScheduledJob) error
	GetJob(ctx context.Context, draftID string) (domain.ScheduledJob, error)
	UpdateJob(ctx context.Context, job domain.ScheduledJob) error
	// ListDueJobs returns SCHEDULED jobs with next_run_at <= now.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error)
	// ListStuckJobs returns EXECUTING jobs whose last attempt started
	// before the cutoff and never reached an outcome.
	ListStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]domain.ScheduledJob, error)
	ListFailedJobs(ctx context.Context) ([]domain.ScheduledJob, error)
}

// FailureStore records publish failures for operator audit.
type FailureStore interface {
	RecordFailure(ctx context.Context, failure domain.PublishFailure) error
	ResolveFailures(ctx context.Context, draftID string) error
}

// VectorStore keeps semantic fingerprints for soft-duplicate detection.
type VectorStore interface {
	SaveVector(ctx context.Context, vec domain.StoredVector) error
	RecentVectors(ctx context.Context, since time.Time, limit int) ([]domain.StoredVector, error)
}

// CandidateSource pulls fresh candidates from upstream providers.
type CandidateSource interface {
	FetchLatest(ctx context.Context, day time.Time) ([]domain.Candidate, error)
}

// ScanScheduler controls when ingestion scans execute.
type ScanScheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Clock abstracts time for the scheduler and the session manager so
// retry/backoff/expiry logic is testable without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
