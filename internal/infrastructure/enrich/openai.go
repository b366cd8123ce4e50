package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
)

// OpenAIClient implements ports.ContentEnrichment backed by OpenAI-compatible
// chat completion APIs. It is the alternative to the dedicated summarization
// service for deployments that only have an LLM endpoint.
type OpenAIClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.ContentEnrichment = (*OpenAIClient)(nil)

// OpenAIConfig configures the chat completion backend.
type OpenAIConfig struct {
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
}

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Summarize asks the model for a condensed body; the title is kept as is.
func (c *OpenAIClient) Summarize(ctx context.Context, title, text string) (domain.Content, error) {
	if c == nil || c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Content{}, fmt.Errorf("openai client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": fmt.Sprintf("Title: %s\n\n%s", title, text)},
		},
	})
	if err != nil {
		return domain.Content{}, fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Content{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Content{}, fmt.Errorf("request completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Content{}, fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return domain.Content{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return domain.Content{}, fmt.Errorf("completion has no choices")
	}

	return domain.Content{Title: title, Body: strings.TrimSpace(completion.Choices[0].Message.Content)}, nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "Rewrite the article as a short news post for a Telegram channel. Keep facts, drop fluff."
	}
	return prompt
}
