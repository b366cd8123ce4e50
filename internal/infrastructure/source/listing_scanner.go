package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsCurator/internal/domain"
)

// Selector option keys understood by the listing scanner. Each site
// overrides them through its Options map; the defaults match common
// news-site markup.
const (
	optItem       = "item"
	optLink       = "link"
	optTitle      = "title"
	optSummary    = "summary"
	optImage      = "image"
	optTime       = "time"
	optTimeFormat = "time_format"
)

var defaultSelectors = map[string]string{
	optItem:       "article",
	optLink:       "a",
	optTitle:      "h2",
	optSummary:    "p",
	optImage:      "img",
	optTime:       "time",
	optTimeFormat: time.RFC3339,
}

// ListingScanner crawls HTML listing pages and extracts candidates via
// configurable CSS selectors. Items carrying a date are filtered to the
// requested day; undated items are kept and left to fingerprint dedup.
type ListingScanner struct {
	client *http.Client
}

// NewListingScanner wires an HTTP client.
func NewListingScanner(client *http.Client) *ListingScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ListingScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (s *ListingScanner) Name() string {
	return "listing"
}

// Scan walks every section URL and returns the candidates published on the
// requested day.
func (s *ListingScanner) Scan(ctx context.Context, req Request) ([]domain.Candidate, error) {
	if len(req.Sections) == 0 {
		return nil, fmt.Errorf("no sections provided for site %s", req.SiteName)
	}

	targetDay := req.Day.UTC().Truncate(24 * time.Hour)
	results := make([]domain.Candidate, 0)
	seen := map[string]struct{}{}

	for _, section := range req.Sections {
		doc, base, err := s.fetchDocument(ctx, section.URL)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", section.Name, err)
		}

		sourceName := req.SiteName
		if section.Name != "" {
			sourceName = fmt.Sprintf("%s/%s", req.SiteName, section.Name)
		}

		for _, cand := range extractCandidates(doc, base, req.Options, targetDay, sourceName) {
			if _, ok := seen[cand.URL]; ok {
				continue
			}
			seen[cand.URL] = struct{}{}
			results = append(results, cand)
		}
	}

	return results, nil
}

func (s *ListingScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid section url %s: %w", pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsCurator/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("listing returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, base, nil
}

func extractCandidates(doc *goquery.Document, base *url.URL, options map[string]string, targetDay time.Time, sourceName string) []domain.Candidate {
	var collected []domain.Candidate

	doc.Find(selector(options, optItem)).Each(func(_ int, item *goquery.Selection) {
		cand, publishedAt, ok := parseItem(item, base, options, sourceName)
		if !ok {
			return
		}
		if !publishedAt.IsZero() && !publishedAt.UTC().Truncate(24*time.Hour).Equal(targetDay) {
			return
		}
		collected = append(collected, cand)
	})

	return collected
}

func parseItem(item *goquery.Selection, base *url.URL, options map[string]string, sourceName string) (domain.Candidate, time.Time, bool) {
	link := item.Find(selector(options, optLink)).First()
	href, exists := link.Attr("href")
	if !exists || strings.TrimSpace(href) == "" {
		return domain.Candidate{}, time.Time{}, false
	}

	title := strings.TrimSpace(item.Find(selector(options, optTitle)).First().Text())
	if title == "" {
		title = strings.TrimSpace(link.Text())
	}
	if title == "" {
		return domain.Candidate{}, time.Time{}, false
	}

	summary := strings.TrimSpace(item.Find(selector(options, optSummary)).First().Text())

	imageURL := ""
	if src, ok := item.Find(selector(options, optImage)).First().Attr("src"); ok {
		imageURL = absolute(base, src)
	}

	publishedAt := parseItemTime(item, options)

	return domain.Candidate{
		URL:         absolute(base, href),
		Title:       title,
		Text:        summary,
		ImageURL:    imageURL,
		Source:      sourceName,
		PublishedAt: publishedAt,
	}, publishedAt, true
}

func parseItemTime(item *goquery.Selection, options map[string]string) time.Time {
	node := item.Find(selector(options, optTime)).First()
	raw, ok := node.Attr("datetime")
	if !ok {
		raw = strings.TrimSpace(node.Text())
	}
	if raw == "" {
		return time.Time{}
	}

	format := selector(options, optTimeFormat)
	if parsed, err := time.Parse(format, raw); err == nil {
		return parsed
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed
	}
	return time.Time{}
}

func selector(options map[string]string, key string) string {
	if options != nil {
		if value, ok := options[key]; ok && value != "" {
			return value
		}
	}
	return defaultSelectors[key]
}

func absolute(base *url.URL, href string) string {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}
