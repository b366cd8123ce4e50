package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// Site binds one configured site to a scanner strategy.
type Site struct {
	Name     string
	Scanner  string
	Sections []Section
	Options  map[string]string
}

// StrategySource implements ports.CandidateSource via registered scanner
// strategies.
type StrategySource struct {
	registry *Registry
	sites    []Site
	logger   *slog.Logger
}

var _ ports.CandidateSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sites.
func NewStrategySource(reg *Registry, sites []Site, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// FetchLatest iterates over configured sites and executes their scanners.
func (s *StrategySource) FetchLatest(ctx context.Context, day time.Time) ([]domain.Candidate, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.debug("fetch latest", "sites", len(s.sites), "day", day.Format("2006-01-02"))

	var aggregated []domain.Candidate
	for _, site := range s.sites {
		s.debug("process site", "site", site.Name, "scanner", site.Scanner, "sections", len(site.Sections))
		strategy, err := s.registry.Resolve(site.Scanner)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}

		req := Request{
			Day:      day,
			SiteName: site.Name,
			Sections: site.Sections,
			Options:  site.Options,
		}

		results, err := strategy.Scan(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("scan site %s: %w", site.Name, err)
		}

		for i := range results {
			if results[i].Source == "" {
				results[i].Source = site.Name
			}
		}
		s.debug("site produced candidates", "site", site.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	s.debug("strategy source done", "total_candidates", len(aggregated))
	return aggregated, nil
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
