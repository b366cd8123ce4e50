package editsession

import (
	"context"
	"errors"
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

type stubTransport struct{}

func (stubTransport) RenderPair(_ context.Context, _ domain.Draft) (domain.Representation, error) {
	return domain.Representation{
		Post: domain.MessageRef{ChatID: 1, MessageID: 10},
		Card: domain.MessageRef{ChatID: 1, MessageID: 11},
	}, nil
}

func (stubTransport) TeardownPair(_ context.Context, _ domain.Representation) error { return nil }

func (stubTransport) Publish(_ context.Context, _ domain.Draft) (domain.MessageRef, error) {
	return domain.MessageRef{ChatID: 9, MessageID: 1}, nil
}

func setup(t *testing.T, state domain.DraftState) (*Manager, *storage.MemoryStore, *fakeClock) {
	t.Helper()
	store := storage.NewMemoryStore()
	clock := &fakeClock{now: time.Unix(5000, 0).UTC()}
	lc := lifecycle.New(store, stubTransport{}, clock, nil)
	mgr := New(store, lc, clock, 0, nil)

	draft := domain.Draft{
		ID:      "draft-1",
		State:   state,
		Content: domain.Content{Title: "Original title"},
	}
	if err := store.CreateDraft(context.Background(), draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	return mgr, store, clock
}

func TestCaptureNextAppliesContentAndSubmits(t *testing.T) {
	t.Parallel()

	mgr, _, _ := setup(t, domain.StateEditing)
	mgr.Start("draft-1", 42)

	got, err := mgr.CaptureNext(context.Background(), "draft-1", domain.EditPayload{Text: "Corrected body"})
	if err != nil {
		t.Fatalf("CaptureNext error: %v", err)
	}
	if got.State != domain.StateReady {
		t.Fatalf("expected READY after capture, got %s", got.State)
	}
	if got.Content.Body != "Corrected body" {
		t.Fatalf("content not applied: %q", got.Content.Body)
	}
	if mgr.Active("draft-1") {
		t.Fatal("session must be destroyed after a successful capture")
	}
}

func TestCaptureNextRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	mgr, _, _ := setup(t, domain.StateEditing)
	mgr.Start("draft-1", 42)

	if _, err := mgr.CaptureNext(context.Background(), "draft-1", domain.EditPayload{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !mgr.Active("draft-1") {
		t.Fatal("session must survive a rejected capture")
	}
}

func TestSecondSessionSupersedesFirst(t *testing.T) {
	t.Parallel()

	mgr, _, _ := setup(t, domain.StateEditing)
	first := mgr.Start("draft-1", 1)
	second := mgr.Start("draft-1", 2)

	if first.UserID == second.UserID {
		t.Fatal("sessions must differ")
	}

	got, err := mgr.CaptureNext(context.Background(), "draft-1", domain.EditPayload{Text: "From the second editor"})
	if err != nil {
		t.Fatalf("CaptureNext error: %v", err)
	}
	if got.Content.Body != "From the second editor" {
		t.Fatalf("capture bound to wrong session: %q", got.Content.Body)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	mgr, _, _ := setup(t, domain.StateEditing)
	mgr.Cancel("draft-1")
	mgr.Cancel("draft-1")
	if mgr.Active("draft-1") {
		t.Fatal("no session expected")
	}
}

func TestExpiredSessionIsTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	mgr, _, clock := setup(t, domain.StateEditing)
	mgr.Start("draft-1", 42)
	clock.Advance(DefaultTTL + time.Second)

	if mgr.Active("draft-1") {
		t.Fatal("expired session reported active")
	}
	if _, err := mgr.CaptureNext(context.Background(), "draft-1", domain.EditPayload{Text: "late"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for expired session, got %v", err)
	}
}

func TestCaptureOnNonEditingDraftDropsSession(t *testing.T) {
	t.Parallel()

	mgr, _, _ := setup(t, domain.StateReady)
	mgr.Start("draft-1", 42)

	if _, err := mgr.CaptureNext(context.Background(), "draft-1", domain.EditPayload{Text: "text"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if mgr.Active("draft-1") {
		t.Fatal("session must be dropped when the draft left EDITING")
	}
}
