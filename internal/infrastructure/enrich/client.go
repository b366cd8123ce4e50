package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// Client talks to an external summarization service. A nil or endpoint-less
// client degrades to echoing the input so the workflow keeps functioning
// without the service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.ContentEnrichment = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Summarize requests condensed content for a draft under edit.
func (c *Client) Summarize(ctx context.Context, title, text string) (domain.Content, error) {
	if c.endpoint == "" || c.http == nil {
		return domain.Content{Title: title, Body: text}, nil
	}

	payload := map[string]any{
		"title": title,
		"text":  text,
	}

	var resp struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := c.post(ctx, "/summarize", payload, &resp); err != nil {
		return domain.Content{}, err
	}

	return domain.Content{Title: resp.Title, Body: resp.Summary}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
