package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/infrastructure/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeTransport struct {
	mu         sync.Mutex
	renderErr  error
	publishErr error
	nextID     int64
	rendered   int
	published  int
	tornDown   []domain.Representation
}

func (f *fakeTransport) RenderPair(_ context.Context, _ domain.Draft) (domain.Representation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renderErr != nil {
		return domain.Representation{}, f.renderErr
	}
	f.rendered++
	f.nextID += 2
	return domain.Representation{
		Post: domain.MessageRef{ChatID: 1, MessageID: f.nextID - 1},
		Card: domain.MessageRef{ChatID: 1, MessageID: f.nextID},
	}, nil
}

func (f *fakeTransport) TeardownPair(_ context.Context, rep domain.Representation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = append(f.tornDown, rep)
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, _ domain.Draft) (domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return domain.MessageRef{}, f.publishErr
	}
	f.published++
	f.nextID++
	return domain.MessageRef{ChatID: 99, MessageID: f.nextID}, nil
}

func seedDraft(t *testing.T, store *storage.MemoryStore, state domain.DraftState) domain.Draft {
	t.Helper()
	draft := domain.Draft{
		ID:            "draft-1",
		State:         state,
		SourceURL:     "https://example.com/a",
		NormalizedURL: "https://example.com/a",
		Content:       domain.Content{Title: "Title", Body: "Body"},
		Fingerprint:   domain.Fingerprint{URLHash: "hash-1"},
		Representation: &domain.Representation{
			Post: domain.MessageRef{ChatID: 1, MessageID: 100},
			Card: domain.MessageRef{ChatID: 1, MessageID: 101},
		},
	}
	if err := store.CreateDraft(context.Background(), draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	return draft
}

func TestTransitionSwapsRepresentation(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	transport := &fakeTransport{}
	mgr := New(store, transport, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	seedDraft(t, store, domain.StateInbox)

	got, err := mgr.Transition(context.Background(), "draft-1", TriggerStartEdit, Params{})
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}

	if got.State != domain.StateEditing {
		t.Fatalf("unexpected state: %s", got.State)
	}
	if got.Representation == nil {
		t.Fatal("draft lost its representation")
	}
	if got.Representation.Post.MessageID == 100 {
		t.Fatal("representation was not replaced")
	}
	if len(transport.tornDown) != 1 || transport.tornDown[0].Post.MessageID != 100 {
		t.Fatalf("old pair not torn down: %+v", transport.tornDown)
	}

	persisted, err := store.GetDraft(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("reload draft: %v", err)
	}
	if persisted.State != domain.StateEditing {
		t.Fatalf("persisted state %s", persisted.State)
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	mgr := New(store, &fakeTransport{}, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	seedDraft(t, store, domain.StateInbox)

	if _, err := mgr.Transition(context.Background(), "draft-1", TriggerPublishNow, Params{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransitionGuards(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0).UTC()

	cases := []struct {
		name    string
		state   domain.DraftState
		trigger Trigger
		params  Params
		prep    func(*domain.Draft)
	}{
		{
			name:    "submit-edit requires content",
			state:   domain.StateEditing,
			trigger: TriggerSubmitEdit,
			prep:    func(d *domain.Draft) { d.Content = domain.Content{} },
		},
		{
			name:    "cancel-edit requires active session",
			state:   domain.StateEditing,
			trigger: TriggerCancelEdit,
			params:  Params{SessionActive: false},
		},
		{
			name:    "schedule requires future time",
			state:   domain.StateReady,
			trigger: TriggerSchedule,
			params:  Params{TargetTime: now.Add(-time.Hour)},
		},
	}

	for _, tc := range cases {
		store := storage.NewMemoryStore()
		mgr := New(store, &fakeTransport{}, newFakeClock(now), nil)
		draft := seedDraft(t, store, tc.state)
		if tc.prep != nil {
			tc.prep(&draft)
			if err := store.UpdateDraft(context.Background(), draft, tc.state); err != nil {
				t.Fatalf("%s: update seed: %v", tc.name, err)
			}
		}

		if _, err := mgr.Transition(context.Background(), "draft-1", tc.trigger, tc.params); !errors.Is(err, domain.ErrGuardFailed) {
			t.Fatalf("%s: expected guard failure, got %v", tc.name, err)
		}
	}
}

func TestTransitionRenderFailureRollsBack(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	transport := &fakeTransport{renderErr: fmt.Errorf("telegram down")}
	mgr := New(store, transport, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	seed := seedDraft(t, store, domain.StateInbox)

	_, err := mgr.Transition(context.Background(), "draft-1", TriggerStartEdit, Params{})
	if !errors.Is(err, domain.ErrRepresentationSync) {
		t.Fatalf("expected representation sync error, got %v", err)
	}

	after, err := store.GetDraft(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("reload draft: %v", err)
	}
	if after.State != domain.StateInbox {
		t.Fatalf("state mutated to %s", after.State)
	}
	if after.Representation == nil || *after.Representation != *seed.Representation {
		t.Fatalf("representation mutated: %+v", after.Representation)
	}
	if len(transport.tornDown) != 0 {
		t.Fatal("old pair must survive a failed render")
	}
}

func TestArchiveAllowedFromEveryNonTerminalState(t *testing.T) {
	t.Parallel()

	for _, state := range []domain.DraftState{
		domain.StateInbox, domain.StateEditing, domain.StateReady,
		domain.StateScheduled, domain.StatePublished,
	} {
		store := storage.NewMemoryStore()
		mgr := New(store, &fakeTransport{}, newFakeClock(time.Unix(1000, 0).UTC()), nil)
		seedDraft(t, store, state)

		got, err := mgr.Transition(context.Background(), "draft-1", TriggerArchive, Params{})
		if err != nil {
			t.Fatalf("archive from %s: %v", state, err)
		}
		if got.State != domain.StateArchive {
			t.Fatalf("archive from %s landed on %s", state, got.State)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	t.Parallel()

	for _, state := range []domain.DraftState{domain.StateArchive, domain.StateRejected} {
		store := storage.NewMemoryStore()
		mgr := New(store, &fakeTransport{}, newFakeClock(time.Unix(1000, 0).UTC()), nil)
		seedDraft(t, store, state)

		if _, err := mgr.Transition(context.Background(), "draft-1", TriggerArchive, Params{}); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s: expected invalid transition, got %v", state, err)
		}
	}
}

func TestPublishNowRecordsChannelRef(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	transport := &fakeTransport{}
	mgr := New(store, transport, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	seedDraft(t, store, domain.StateReady)

	got, err := mgr.Transition(context.Background(), "draft-1", TriggerPublishNow, Params{})
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if got.State != domain.StatePublished {
		t.Fatalf("unexpected state: %s", got.State)
	}
	if got.PublishedRef == nil || got.PublishedRef.ChatID != 99 {
		t.Fatalf("published ref not recorded: %+v", got.PublishedRef)
	}
	if transport.published != 1 {
		t.Fatalf("expected 1 publish call, got %d", transport.published)
	}
}

func TestPublishNowFailureLeavesStateIntact(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	transport := &fakeTransport{publishErr: fmt.Errorf("%w: 502", domain.ErrTransportTransient)}
	mgr := New(store, transport, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	seedDraft(t, store, domain.StateReady)

	if _, err := mgr.Transition(context.Background(), "draft-1", TriggerPublishNow, Params{}); !errors.Is(err, domain.ErrTransportTransient) {
		t.Fatalf("expected transient transport error, got %v", err)
	}

	after, err := store.GetDraft(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("reload draft: %v", err)
	}
	if after.State != domain.StateReady {
		t.Fatalf("state mutated to %s", after.State)
	}
	if after.PublishedRef != nil {
		t.Fatal("published ref must not be set on failure")
	}
}

func TestPublishNowSkipsAlreadySentChannelMessage(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	transport := &fakeTransport{}
	mgr := New(store, transport, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	draft := seedDraft(t, store, domain.StateReady)
	draft.PublishedRef = &domain.MessageRef{ChatID: 99, MessageID: 7}
	if err := store.UpdateDraft(context.Background(), draft, domain.StateReady); err != nil {
		t.Fatalf("update seed: %v", err)
	}

	got, err := mgr.Transition(context.Background(), "draft-1", TriggerPublishNow, Params{})
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if transport.published != 0 {
		t.Fatalf("channel message sent twice: %d publish calls", transport.published)
	}
	if got.PublishedRef.MessageID != 7 {
		t.Fatalf("published ref replaced: %+v", got.PublishedRef)
	}
}

func TestMaterializeReplacesPair(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	transport := &fakeTransport{}
	mgr := New(store, transport, newFakeClock(time.Unix(1000, 0).UTC()), nil)
	seedDraft(t, store, domain.StateEditing)

	got, err := mgr.Materialize(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("Materialize error: %v", err)
	}
	if got.State != domain.StateEditing {
		t.Fatalf("state changed to %s", got.State)
	}
	if got.Representation.Post.MessageID == 100 {
		t.Fatal("pair not replaced")
	}
	if len(transport.tornDown) != 1 {
		t.Fatalf("old pair not torn down: %d", len(transport.tornDown))
	}
}
