package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/workflow"
	"NewsCurator/pkg/logger"
)

// Server exposes the moderation workflow over HTTP for operator tooling.
type Server struct {
	service *workflow.Service
	runner  *workflow.Runner
	logger  *slog.Logger
	http    *http.Server
}

// New builds the server with its routes mounted.
func New(addr string, service *workflow.Service, runner *workflow.Runner, log *slog.Logger) *Server {
	s := &Server{service: service, runner: runner, logger: log}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/drafts/{id}", s.handleGetDraft).Methods(http.MethodGet)
	api.HandleFunc("/drafts/{id}/edit", s.handleStartEdit).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/content", s.handleCaptureEdit).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/cancel-edit", s.draftAction(s.service.CancelEdit)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/reject", s.draftAction(s.service.Reject)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/archive", s.draftAction(s.service.Archive)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/schedule", s.handleSchedule).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/cancel-schedule", s.draftAction(s.service.CancelSchedule)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/publish", s.draftAction(s.service.PublishNow)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/repost", s.draftAction(s.service.Repost)).Methods(http.MethodPost)
	api.HandleFunc("/drafts/{id}/summarize", s.draftAction(s.service.Summarize)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/failed", s.handleFailedJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/retry", s.handleRetryJob).Methods(http.MethodPost)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)

	handler := handlers.RecoveryHandler()(router)
	handler = handlers.CombinedLoggingHandler(logger.Writer("http"), handler)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.info("ops api listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.Draft(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse(draft))
}

func (s *Server) handleStartEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"userId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	draft, err := s.service.StartEdit(r.Context(), mux.Vars(r)["id"], req.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse(draft))
}

func (s *Server) handleCaptureEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		ImageURL string `json:"imageUrl"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	draft, err := s.service.CaptureEdit(r.Context(), mux.Vars(r)["id"], domain.EditPayload{
		Text:     req.Text,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse(draft))
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetTime time.Time `json:"targetTime"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	draft, err := s.service.Schedule(r.Context(), mux.Vars(r)["id"], req.TargetTime)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse(draft))
}

func (s *Server) draftAction(action func(context.Context, string) (domain.Draft, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		draft, err := action(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, draftResponse(draft))
	}
}

func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.service.FailedJobs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]jobPayload, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.RetryPublication(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorPayload{Error: "no sources configured"})
		return
	}
	report := s.runner.Scan(r.Context(), time.Now().UTC())
	writeJSON(w, http.StatusOK, report)
}

type errorPayload struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrGuardFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrStateConflict),
		errors.Is(err, domain.ErrJobAlreadyExecuting):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.warn("request failed", "error", err)
	}
	writeJSON(w, status, errorPayload{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
