package opsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/editsession"
	"NewsCurator/internal/fingerprint"
	"NewsCurator/internal/infrastructure/storage"
	"NewsCurator/internal/lifecycle"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/scheduler"
	"NewsCurator/internal/workflow"
)

type stubTransport struct {
	mu     sync.Mutex
	nextID int64
}

func (f *stubTransport) RenderPair(_ context.Context, _ domain.Draft) (domain.Representation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID += 2
	return domain.Representation{
		Post: domain.MessageRef{ChatID: 1, MessageID: f.nextID - 1},
		Card: domain.MessageRef{ChatID: 1, MessageID: f.nextID},
	}, nil
}

func (f *stubTransport) TeardownPair(_ context.Context, _ domain.Representation) error {
	return nil
}

func (f *stubTransport) Publish(_ context.Context, _ domain.Draft) (domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return domain.MessageRef{ChatID: 9, MessageID: f.nextID}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *workflow.Service) {
	t.Helper()

	store := storage.NewMemoryStore()
	clock := ports.SystemClock{}
	lc := lifecycle.New(store, &stubTransport{}, clock, nil)
	sessions := editsession.New(store, lc, clock, editsession.DefaultTTL, nil)
	sched := scheduler.New(scheduler.Config{}, store, store, store, lc, clock, nil)
	service := workflow.New(workflow.Config{}, workflow.Deps{
		Drafts:       store,
		Jobs:         store,
		Vectors:      store,
		Failures:     store,
		Fingerprints: fingerprint.New(fingerprint.Config{}),
		Lifecycle:    lc,
		Sessions:     sessions,
		Scheduler:    sched,
		Clock:        clock,
	})

	srv := New(":0", service, nil, nil)
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return ts, service
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestDraftWorkflowOverHTTP(t *testing.T) {
	t.Parallel()

	ts, service := newTestServer(t)
	result, err := service.Ingest(context.Background(), domain.Candidate{
		URL:   "https://example.com/http-flow",
		Title: "HTTP Flow",
		Text:  "draft body for the http workflow round trip",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	id := result.Draft.ID

	resp := postJSON(t, fmt.Sprintf("%s/api/drafts/%s/edit", ts.URL, id), `{"userId":42}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start edit status %d", resp.StatusCode)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/drafts/%s/content", ts.URL, id), `{"text":"edited over http"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture status %d", resp.StatusCode)
	}
	var payload draftPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.State != string(domain.StateReady) || payload.Body != "edited over http" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	target := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	resp = postJSON(t, fmt.Sprintf("%s/api/drafts/%s/schedule", ts.URL, id), fmt.Sprintf(`{"targetTime":%q}`, target))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule status %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	ts, service := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/drafts/missing")
	if err != nil {
		t.Fatalf("GET draft: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing draft status %d, want 404", resp.StatusCode)
	}

	result, err := service.Ingest(context.Background(), domain.Candidate{
		URL:   "https://example.com/errors",
		Title: "Errors",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	id := result.Draft.ID

	// publish-now is not a legal edge out of INBOX
	resp = postJSON(t, fmt.Sprintf("%s/api/drafts/%s/publish", ts.URL, id), "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("invalid transition status %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/jobs/%s/retry", ts.URL, id), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("retry without job status %d, want 404", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/scan", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("scan without runner status %d, want 503", resp.StatusCode)
	}
}

func TestScheduleGuardMapsToUnprocessable(t *testing.T) {
	t.Parallel()

	ts, service := newTestServer(t)
	ctx := context.Background()

	result, err := service.Ingest(ctx, domain.Candidate{URL: "https://example.com/guard", Title: "Guard", Text: "body"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	id := result.Draft.ID
	if _, err := service.StartEdit(ctx, id, 1); err != nil {
		t.Fatalf("start edit: %v", err)
	}
	if _, err := service.CaptureEdit(ctx, id, domain.EditPayload{Text: "x"}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	resp := postJSON(t, fmt.Sprintf("%s/api/drafts/%s/schedule", ts.URL, id), fmt.Sprintf(`{"targetTime":%q}`, past))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("past schedule status %d, want 422", resp.StatusCode)
	}
}
