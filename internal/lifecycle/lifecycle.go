package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// Trigger names a moderation action against a draft.
type Trigger string

const (
	TriggerStartEdit      Trigger = "start-edit"
	TriggerReject         Trigger = "reject"
	TriggerSubmitEdit     Trigger = "submit-edit"
	TriggerCancelEdit     Trigger = "cancel-edit"
	TriggerSchedule       Trigger = "schedule"
	TriggerPublishNow     Trigger = "publish-now"
	TriggerCancelSchedule Trigger = "cancel-schedule"
	TriggerArchive        Trigger = "archive"
	TriggerRepost         Trigger = "repost"
)

// Params carries trigger-specific inputs evaluated by guards.
type Params struct {
	// TargetTime is required for TriggerSchedule.
	TargetTime time.Time
	// SessionActive tells the cancel-edit guard whether an edit session
	// exists for the draft.
	SessionActive bool
}

// transitions is the closed edge set of the state machine. Triggers absent
// for a state are invalid from it; terminal states have no outgoing edges.
var transitions = map[domain.DraftState]map[Trigger]domain.DraftState{
	domain.StateInbox: {
		TriggerStartEdit: domain.StateEditing,
		TriggerReject:    domain.StateRejected,
		TriggerArchive:   domain.StateArchive,
	},
	domain.StateEditing: {
		TriggerSubmitEdit: domain.StateReady,
		TriggerCancelEdit: domain.StateInbox,
		TriggerArchive:    domain.StateArchive,
	},
	domain.StateReady: {
		TriggerSchedule:   domain.StateScheduled,
		TriggerPublishNow: domain.StatePublished,
		TriggerStartEdit:  domain.StateEditing,
		TriggerArchive:    domain.StateArchive,
	},
	domain.StateScheduled: {
		TriggerPublishNow:     domain.StatePublished,
		TriggerCancelSchedule: domain.StateReady,
		TriggerArchive:        domain.StateArchive,
	},
	domain.StatePublished: {
		TriggerRepost:  domain.StatePublished,
		TriggerArchive: domain.StateArchive,
	},
	domain.StateArchive:  {},
	domain.StateRejected: {},
}

// Manager owns the draft state machine and the POST+CARD representation
// invariant: every transition swaps the message pair as one logical unit,
// and a failed render leaves both state and pair untouched.
type Manager struct {
	drafts    ports.DraftStore
	transport ports.TransportAdapter
	clock     ports.Clock
	logger    *slog.Logger

	locks keyedMutex
}

// New wires the manager with its collaborators.
func New(drafts ports.DraftStore, transport ports.TransportAdapter, clock ports.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Manager{drafts: drafts, transport: transport, clock: clock, logger: logger}
}

// Transition applies a trigger to a draft. The sequence is: validate the
// edge and guard, perform the publish side effect when the target is
// PUBLISHED, render the new representation pair, persist state and refs
// under a compare-and-swap on the prior state, then tear down the old pair.
// Any failure before the persist leaves the draft exactly as it was.
func (m *Manager) Transition(ctx context.Context, draftID string, trigger Trigger, params Params) (domain.Draft, error) {
	unlock := m.locks.lock(draftID)
	defer unlock()

	draft, err := m.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("load draft %s: %w", draftID, err)
	}

	target, ok := transitions[draft.State][trigger]
	if !ok {
		return draft, fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, trigger, draft.State)
	}
	if err := guard(draft, trigger, params, m.clock.Now()); err != nil {
		return draft, err
	}

	now := m.clock.Now()
	next := draft
	next.State = target
	next.UpdatedAt = now

	if trigger == TriggerPublishNow || trigger == TriggerRepost {
		// Publish-now after a prior half-completed attempt must not send
		// the channel message twice; repost always sends.
		if next.PublishedRef == nil || trigger == TriggerRepost {
			ref, err := m.transport.Publish(ctx, next)
			if err != nil {
				return draft, fmt.Errorf("publish draft %s: %w", draftID, err)
			}
			next.PublishedRef = &ref
			next.PublishedAt = now
			// Persist the channel ref immediately so a later retry can
			// detect the already-sent message even if the pair swap fails.
			keep := next
			keep.State = draft.State
			if err := m.drafts.UpdateDraft(ctx, keep, draft.State); err != nil {
				return draft, fmt.Errorf("record published ref for %s: %w", draftID, err)
			}
			draft = keep
		}
	}

	return m.swapRepresentation(ctx, draft, next)
}

// Materialize renders a fresh representation pair for the draft's current
// state, replacing the old pair. Used after ingestion and content edits.
func (m *Manager) Materialize(ctx context.Context, draftID string) (domain.Draft, error) {
	unlock := m.locks.lock(draftID)
	defer unlock()

	draft, err := m.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("load draft %s: %w", draftID, err)
	}

	next := draft
	next.UpdatedAt = m.clock.Now()
	return m.swapRepresentation(ctx, draft, next)
}

// swapRepresentation executes steps (c)-(e) of a transition as one logical
// unit: render the new pair, persist, then remove the old pair. The old
// pair is only torn down once the new state is durably recorded, so a
// failure can never leave a card without a post.
func (m *Manager) swapRepresentation(ctx context.Context, prior, next domain.Draft) (domain.Draft, error) {
	rep, err := m.transport.RenderPair(ctx, next)
	if err != nil {
		return prior, fmt.Errorf("%w: draft %s: %v", domain.ErrRepresentationSync, next.ID, err)
	}

	old := prior.Representation
	next.Representation = &rep
	if err := m.drafts.UpdateDraft(ctx, next, prior.State); err != nil {
		if tearErr := m.transport.TeardownPair(ctx, rep); tearErr != nil {
			m.warn("teardown of unrecorded pair failed", "draft_id", next.ID, "error", tearErr)
		}
		return prior, fmt.Errorf("persist draft %s: %w", next.ID, err)
	}

	if old != nil {
		if err := m.transport.TeardownPair(ctx, *old); err != nil {
			// Stale messages are cosmetic; the recorded pair is authoritative.
			m.warn("teardown of old pair failed", "draft_id", next.ID, "error", err)
		}
	}
	return next, nil
}

func guard(draft domain.Draft, trigger Trigger, params Params, now time.Time) error {
	switch trigger {
	case TriggerSubmitEdit:
		if draft.Content.Empty() {
			return fmt.Errorf("%w: content is empty", domain.ErrGuardFailed)
		}
	case TriggerCancelEdit:
		if !params.SessionActive {
			return fmt.Errorf("%w: no active edit session", domain.ErrGuardFailed)
		}
	case TriggerSchedule:
		if !params.TargetTime.After(now) {
			return fmt.Errorf("%w: target time %s is not in the future", domain.ErrGuardFailed, params.TargetTime.Format(time.RFC3339))
		}
	}
	return nil
}

func (m *Manager) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
