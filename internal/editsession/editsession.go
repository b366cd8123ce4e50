package editsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/lifecycle"
	"NewsCurator/internal/ports"
)

// DefaultTTL bounds how long a session accepts input before it silently
// expires.
const DefaultTTL = 10 * time.Minute

// Manager keeps at most one active edit session per draft in a keyed table.
// Starting a session for a draft that already has one replaces it; the
// superseded session's pending capture is dropped.
type Manager struct {
	drafts    ports.DraftStore
	lifecycle *lifecycle.Manager
	clock     ports.Clock
	ttl       time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]domain.EditSession
}

// New wires the manager. A zero ttl falls back to DefaultTTL.
func New(drafts ports.DraftStore, lc *lifecycle.Manager, clock ports.Clock, ttl time.Duration, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		drafts:    drafts,
		lifecycle: lc,
		clock:     clock,
		ttl:       ttl,
		logger:    logger,
		sessions:  map[string]domain.EditSession{},
	}
}

// Start opens a session for the draft, replacing any existing one.
func (m *Manager) Start(draftID string, userID int64) domain.EditSession {
	now := m.clock.Now()
	session := domain.EditSession{
		DraftID:   draftID,
		UserID:    userID,
		StartedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	if previous, ok := m.sessions[draftID]; ok {
		m.debug("edit session superseded", "draft_id", draftID, "previous_user", previous.UserID)
	}
	m.sessions[draftID] = session
	m.mu.Unlock()
	return session
}

// Cancel removes the draft's session. Cancelling with no active session is
// a no-op, not an error.
func (m *Manager) Cancel(draftID string) {
	m.mu.Lock()
	delete(m.sessions, draftID)
	m.mu.Unlock()
}

// Active reports whether a non-expired session exists for the draft.
func (m *Manager) Active(draftID string) bool {
	_, ok := m.lookup(draftID)
	return ok
}

// CaptureNext applies the next human-supplied correction to the draft and
// triggers submit-edit. The session binds to the draft by context; there is
// no reply-threading requirement. On success the session is destroyed; a
// failed transition keeps it alive so the operator can retry.
func (m *Manager) CaptureNext(ctx context.Context, draftID string, payload domain.EditPayload) (domain.Draft, error) {
	if payload.Empty() {
		return domain.Draft{}, fmt.Errorf("%w: edit payload is empty", domain.ErrValidation)
	}

	session, ok := m.lookup(draftID)
	if !ok {
		return domain.Draft{}, fmt.Errorf("%w: no active edit session for draft %s", domain.ErrValidation, draftID)
	}

	draft, err := m.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft.State != domain.StateEditing {
		m.Cancel(draftID)
		return domain.Draft{}, fmt.Errorf("%w: draft %s is %s, not EDITING", domain.ErrInvalidTransition, draftID, draft.State)
	}

	if payload.Text != "" {
		draft.Content.Body = payload.Text
	}
	if payload.ImageURL != "" {
		draft.Content.ImageURL = payload.ImageURL
	}
	draft.UpdatedAt = m.clock.Now()
	if err := m.drafts.UpdateDraft(ctx, draft, domain.StateEditing); err != nil {
		return domain.Draft{}, fmt.Errorf("capture content for %s: %w", draftID, err)
	}

	updated, err := m.lifecycle.Transition(ctx, draftID, lifecycle.TriggerSubmitEdit, lifecycle.Params{})
	if err != nil {
		return domain.Draft{}, err
	}

	// Destroy only the session the capture was bound to; a replacement
	// started mid-capture stays.
	m.mu.Lock()
	if current, ok := m.sessions[draftID]; ok && current.StartedAt.Equal(session.StartedAt) && current.UserID == session.UserID {
		delete(m.sessions, draftID)
	}
	m.mu.Unlock()
	return updated, nil
}

// lookup returns the draft's session if present and unexpired. Expired
// sessions are dropped on sight.
func (m *Manager) lookup(draftID string) (domain.EditSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[draftID]
	if !ok {
		return domain.EditSession{}, false
	}
	if !session.ExpiresAt.After(m.clock.Now()) {
		delete(m.sessions, draftID)
		return domain.EditSession{}, false
	}
	return session, true
}

func (m *Manager) debug(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
