package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// MemoryStore is an in-process implementation of every persistence port.
// It backs tests and DSN-less development runs; production wires Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	drafts   map[string]domain.Draft
	jobs     map[string]domain.ScheduledJob
	failures []domain.PublishFailure
	vectors  map[string]domain.StoredVector
}

var (
	_ ports.DraftStore   = (*MemoryStore)(nil)
	_ ports.JobStore     = (*MemoryStore)(nil)
	_ ports.FailureStore = (*MemoryStore)(nil)
	_ ports.VectorStore  = (*MemoryStore)(nil)
)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:  map[string]domain.Draft{},
		jobs:    map[string]domain.ScheduledJob{},
		vectors: map[string]domain.StoredVector{},
	}
}

// CreateDraft inserts a new draft row.
func (s *MemoryStore) CreateDraft(_ context.Context, draft domain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.drafts[draft.ID]; exists {
		return fmt.Errorf("draft %s already exists", draft.ID)
	}
	s.drafts[draft.ID] = cloneDraft(draft)
	return nil
}

// GetDraft returns the draft or domain.ErrNotFound.
func (s *MemoryStore) GetDraft(_ context.Context, id string) (domain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[id]
	if !ok {
		return domain.Draft{}, fmt.Errorf("draft %s: %w", id, domain.ErrNotFound)
	}
	return cloneDraft(draft), nil
}

// UpdateDraft replaces the row only while its state equals expect.
func (s *MemoryStore) UpdateDraft(_ context.Context, draft domain.Draft, expect domain.DraftState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.drafts[draft.ID]
	if !ok {
		return fmt.Errorf("draft %s: %w", draft.ID, domain.ErrNotFound)
	}
	if current.State != expect {
		return fmt.Errorf("draft %s is %s, expected %s: %w", draft.ID, current.State, expect, domain.ErrStateConflict)
	}
	s.drafts[draft.ID] = cloneDraft(draft)
	return nil
}

// FindDraftByURLHash scans non-archived drafts for a matching hash.
func (s *MemoryStore) FindDraftByURLHash(_ context.Context, hash string) (domain.Draft, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, draft := range s.drafts {
		if draft.State == domain.StateArchive {
			continue
		}
		if draft.Fingerprint.URLHash == hash {
			return cloneDraft(draft), true, nil
		}
	}
	return domain.Draft{}, false, nil
}

// CreateJob inserts a job row keyed by draft id.
func (s *MemoryStore) CreateJob(_ context.Context, job domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.DraftID]; ok && (existing.Status == domain.JobScheduled || existing.Status == domain.JobExecuting) {
		return fmt.Errorf("draft %s already has an active job", job.DraftID)
	}
	s.jobs[job.DraftID] = job
	return nil
}

// GetJob returns the job or domain.ErrJobNotFound.
func (s *MemoryStore) GetJob(_ context.Context, draftID string) (domain.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[draftID]
	if !ok {
		return domain.ScheduledJob{}, fmt.Errorf("draft %s: %w", draftID, domain.ErrJobNotFound)
	}
	return job, nil
}

// UpdateJob replaces the job row.
func (s *MemoryStore) UpdateJob(_ context.Context, job domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.DraftID]; !ok {
		return fmt.Errorf("draft %s: %w", job.DraftID, domain.ErrJobNotFound)
	}
	s.jobs[job.DraftID] = job
	return nil
}

// ListDueJobs returns SCHEDULED jobs due at or before now, oldest first.
func (s *MemoryStore) ListDueJobs(_ context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []domain.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == domain.JobScheduled && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListStuckJobs returns EXECUTING jobs whose attempt started before cutoff.
func (s *MemoryStore) ListStuckJobs(_ context.Context, cutoff time.Time, limit int) ([]domain.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stuck []domain.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == domain.JobExecuting && job.LastAttemptAt.Before(cutoff) {
			stuck = append(stuck, job)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].LastAttemptAt.Before(stuck[j].LastAttemptAt) })
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

// ListFailedJobs returns jobs in the operator-visible FAILED sub-status.
func (s *MemoryStore) ListFailedJobs(_ context.Context) ([]domain.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var failed []domain.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == domain.JobFailed {
			failed = append(failed, job)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].DraftID < failed[j].DraftID })
	return failed, nil
}

// RecordFailure appends an audit row.
func (s *MemoryStore) RecordFailure(_ context.Context, failure domain.PublishFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure)
	return nil
}

// ResolveFailures marks all failures for the draft as resolved.
func (s *MemoryStore) ResolveFailures(_ context.Context, draftID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.failures {
		if s.failures[i].DraftID == draftID {
			s.failures[i].Resolved = true
		}
	}
	return nil
}

// Failures returns a snapshot of recorded failures, newest last.
func (s *MemoryStore) Failures() []domain.PublishFailure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PublishFailure, len(s.failures))
	copy(out, s.failures)
	return out
}

// SaveVector upserts a semantic fingerprint keyed by URL hash.
func (s *MemoryStore) SaveVector(_ context.Context, vec domain.StoredVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[vec.URLHash] = vec
	return nil
}

// RecentVectors returns vectors stored at or after since, newest first.
func (s *MemoryStore) RecentVectors(_ context.Context, since time.Time, limit int) ([]domain.StoredVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var recent []domain.StoredVector
	for _, vec := range s.vectors {
		if !vec.StoredAt.Before(since) {
			recent = append(recent, vec)
		}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].StoredAt.After(recent[j].StoredAt) })
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

func cloneDraft(draft domain.Draft) domain.Draft {
	out := draft
	if draft.Representation != nil {
		rep := *draft.Representation
		out.Representation = &rep
	}
	if draft.PublishedRef != nil {
		ref := *draft.PublishedRef
		out.PublishedRef = &ref
	}
	if draft.Fingerprint.Vector != nil {
		out.Fingerprint.Vector = append([]float64(nil), draft.Fingerprint.Vector...)
	}
	return out
}
