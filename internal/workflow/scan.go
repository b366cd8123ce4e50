package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// ScanReport summarizes one ingestion pass over all sources.
type ScanReport struct {
	Fetched    int `json:"fetched"`
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
	SoftFlags  int `json:"softFlags"`
	Errors     int `json:"errors"`
}

// Runner drives ingestion scans: it pulls candidates from every configured
// source and feeds them through Service.Ingest. Duplicate candidates are
// expected on every pass and are counted, not reported as errors.
type Runner struct {
	service *Service
	sources []ports.CandidateSource
	logger  *slog.Logger
}

// NewRunner wires the scan runner.
func NewRunner(service *Service, sources []ports.CandidateSource, logger *slog.Logger) *Runner {
	return &Runner{service: service, sources: sources, logger: logger}
}

// Scan executes one pass for the given day. A failing source does not stop
// the pass; its error is counted and the remaining sources still run.
func (r *Runner) Scan(ctx context.Context, day time.Time) ScanReport {
	var report ScanReport
	for _, source := range r.sources {
		candidates, err := source.FetchLatest(ctx, day)
		if err != nil {
			report.Errors++
			r.warn("source fetch failed", "error", err)
			continue
		}
		report.Fetched += len(candidates)

		for _, cand := range candidates {
			result, err := r.service.Ingest(ctx, cand)
			switch {
			case err == nil:
				report.Ingested++
				report.SoftFlags += len(result.SoftDuplicates)
			case errors.Is(err, domain.ErrDuplicate):
				report.Duplicates++
			default:
				report.Errors++
				r.warn("candidate ingest failed", "url", cand.URL, "error", err)
			}
		}
	}

	r.info("scan pass finished",
		"fetched", report.Fetched,
		"ingested", report.Ingested,
		"duplicates", report.Duplicates,
		"soft_flags", report.SoftFlags,
		"errors", report.Errors,
	)
	return report
}

func (r *Runner) info(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runner) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
