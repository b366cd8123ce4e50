package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"NewsCurator/internal/domain"
)

// trackingParams are stripped during URL normalization so the same article
// shared through different channels hashes identically.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_name":     {},
	"utm_id":       {},
	"utm_reader":   {},
	"utm_referrer": {},
	"gclid":        {},
	"fbclid":       {},
	"ref":          {},
	"ref_src":      {},
	"source":       {},
	"rss":          {},
	"mc_cid":       {},
	"mc_eid":       {},
}

var (
	spaceExpr = regexp.MustCompile(`\s+`)
	tokenExpr = regexp.MustCompile(`[^a-z0-9]+`)
)

// Config tunes the semantic half of the engine.
type Config struct {
	// Dimensions of the hashed-token embedding.
	Dimensions int
	// SimilarityThreshold above which a cosine match counts as a soft duplicate.
	SimilarityThreshold float64
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{Dimensions: 64, SimilarityThreshold: 0.9}
}

// Engine computes deterministic identities for ingested candidates.
// Compute is pure: same inputs always yield the same fingerprint.
type Engine struct {
	cfg Config
}

// New builds an engine, falling back to defaults for zero values.
func New(cfg Config) *Engine {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultConfig().Dimensions
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	return &Engine{cfg: cfg}
}

// Compute returns the fingerprint for a raw URL and its cleaned text.
// The hash is always derived from the URL alone; the semantic vector is
// omitted when the text produces no tokens.
func (e *Engine) Compute(rawURL, rawText string) (domain.Fingerprint, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return domain.Fingerprint{}, err
	}

	sum := sha256.Sum256([]byte(normalized))
	fp := domain.Fingerprint{URLHash: hex.EncodeToString(sum[:])}
	fp.Vector = e.embed(rawText)
	return fp, nil
}

// Match is a soft duplicate candidate: review it, do not auto-reject.
type Match struct {
	URLHash    string
	Similarity float64
}

// SoftDuplicates compares the fingerprint's vector against a recent window
// of stored vectors and returns matches above the similarity threshold,
// best first. Blocking on a match is the caller's policy, not the engine's.
func (e *Engine) SoftDuplicates(fp domain.Fingerprint, window []domain.StoredVector) []Match {
	if len(fp.Vector) == 0 {
		return nil
	}

	var matches []Match
	for _, candidate := range window {
		if candidate.URLHash == fp.URLHash {
			continue
		}
		score := cosine(fp.Vector, candidate.Vector)
		if score >= e.cfg.SimilarityThreshold {
			matches = append(matches, Match{URLHash: candidate.URLHash, Similarity: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches
}

// NormalizeURL canonicalizes a raw URL: lower-case scheme and host, default
// ports and fragments stripped, tracking parameters removed, remaining query
// sorted, trailing slash trimmed.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty url", domain.ErrValidation)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", domain.ErrValidation, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	host := strings.ToLower(parsed.Host)
	if scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	} else if scheme == "https" {
		host = strings.TrimSuffix(host, ":443")
	}
	if host == "" {
		return "", fmt.Errorf("%w: url has no host", domain.ErrValidation)
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	kept := url.Values{}
	for key, values := range parsed.Query() {
		if _, tracked := trackingParams[key]; tracked {
			continue
		}
		for _, value := range values {
			if value == "" {
				continue
			}
			kept.Add(key, value)
		}
	}

	normalized := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: kept.Encode(), // Encode sorts by key
	}
	return normalized.String(), nil
}

// Domain extracts the registrable host part used to scope soft-dup lookups.
func Domain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// embed builds a fixed-width hashed-token vector from cleaned text. Each
// token adds a signed unit at an index derived from its digest; the result
// is L2-normalized so cosine similarity reduces to a dot product.
func (e *Engine) embed(rawText string) []float64 {
	compact := spaceExpr.ReplaceAllString(strings.ToLower(strings.TrimSpace(rawText)), " ")
	if compact == "" {
		return nil
	}

	vector := make([]float64, e.cfg.Dimensions)
	found := false
	for _, token := range tokenExpr.Split(compact, -1) {
		if len(token) < 3 {
			continue
		}
		found = true
		digest := sha256.Sum256([]byte(token))
		idx := int(uint32(digest[0])<<24|uint32(digest[1])<<16|uint32(digest[2])<<8|uint32(digest[3])) % e.cfg.Dimensions
		sign := 1.0
		if digest[4]&1 == 1 {
			sign = -1.0
		}
		vector[idx] += sign
	}
	if !found {
		return nil
	}

	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}

func cosine(left, right []float64) float64 {
	if len(left) == 0 || len(left) != len(right) {
		return 0
	}
	var dot float64
	for i := range left {
		dot += left[i] * right[i]
	}
	return dot
}
