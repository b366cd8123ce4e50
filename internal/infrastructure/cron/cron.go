package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"NewsCurator/internal/ports"
	"NewsCurator/pkg/logger"
)

// ScanScheduler triggers ingestion scans on a cron expression.
type ScanScheduler struct {
	spec       string
	runOnStart bool
	cron       *cron.Cron
}

var _ ports.ScanScheduler = (*ScanScheduler)(nil)

// New builds a scheduler from a standard 5-field cron expression.
func New(spec string, runOnStart bool) *ScanScheduler {
	return &ScanScheduler{spec: spec, runOnStart: runOnStart}
}

// Start registers the job and launches the cron runner. The job receives
// the trigger time; an immediate first run is optional.
func (s *ScanScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if s.cron != nil {
		return nil
	}

	runner := cron.New(cron.WithLogger(cron.PrintfLogger(logger.New("cron"))))
	if _, err := runner.AddFunc(s.spec, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job(time.Now().UTC())
	}); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.spec, err)
	}

	s.cron = runner
	runner.Start()

	if s.runOnStart {
		go job(time.Now().UTC())
	}

	go func() {
		<-ctx.Done()
		runner.Stop()
	}()
	return nil
}

// Stop halts the runner and waits for a running job to finish.
func (s *ScanScheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	s.cron = nil

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
