package domain

import "time"

// JobStatus tracks a scheduled publication job. FAILED jobs stay visible to
// operators and can be retried; nothing is dropped silently.
type JobStatus string

const (
	JobScheduled JobStatus = "SCHEDULED"
	JobExecuting JobStatus = "EXECUTING"
	JobPublished JobStatus = "PUBLISHED"
	JobCancelled JobStatus = "CANCELLED"
	JobFailed    JobStatus = "FAILED"
)

// ScheduledJob is the scheduler's unit of work, 1:1 with a SCHEDULED draft.
type ScheduledJob struct {
	DraftID       string
	TargetTime    time.Time
	NextRunAt     time.Time
	Status        JobStatus
	AttemptCount  int
	MaxAttempts   int
	LastAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FailureContext distinguishes manual publish failures from scheduler ones.
type FailureContext string

const (
	FailureManual    FailureContext = "MANUAL"
	FailureScheduled FailureContext = "SCHEDULED"
)

// PublishFailure is an audit row for a single failed publish attempt.
type PublishFailure struct {
	DraftID    string
	Context    FailureContext
	Attempt    int
	Message    string
	OccurredAt time.Time
	Resolved   bool
}

// EditSession captures one pending human correction for a draft.
// At most one active session exists per draft; a new session replaces it.
type EditSession struct {
	DraftID   string
	UserID    int64
	StartedAt time.Time
	ExpiresAt time.Time
}

// EditPayload is the next unstructured input captured for an EDITING draft.
type EditPayload struct {
	Text     string
	ImageURL string
}

// Empty reports whether the payload carries no usable correction.
func (p EditPayload) Empty() bool {
	return p.Text == "" && p.ImageURL == ""
}

// StoredVector is a persisted semantic fingerprint used for soft-duplicate
// lookups over a bounded recent window.
type StoredVector struct {
	URLHash       string
	NormalizedURL string
	Domain        string
	Vector        []float64
	StoredAt      time.Time
}
