// Package rerank scores (query, candidate) pairs with a hosted cross-encoder.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Client calls the text-classification pipeline of a cross-encoder model.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	model      string
	timeout    time.Duration
}

// Config holds reranker client configuration.
type Config struct {
	BaseURL  string
	Model    string // Default: cross-encoder/ms-marco-MiniLM-L-6-v2
	APIToken string
	Timeout  time.Duration
}

// NewClient creates a new reranker client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://router.huggingface.co/hf-inference"
	}
	if cfg.Model == "" {
		cfg.Model = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
	}
}

// Pair formats the cross-encoder input for one candidate.
func Pair(query, name string) string {
	return query + " [SEP] " + name
}

type label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Score returns one relevance score per name in a single batch call.
// Entries the service did not score are NaN.
func (c *Client) Score(ctx context.Context, query string, names []string) ([]float64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	inputs := make([]string, len(names))
	for i, name := range names {
		inputs[i] = Pair(query, name)
	}

	jsonBody, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wait-For-Model", "true")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return parseScores(raw, len(names)), nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// parseScores accepts both response layouts of the pipeline: a list of label
// lists (one per input) or a flat list of top labels.
func parseScores(raw []json.RawMessage, n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = math.NaN()
	}

	for i, item := range raw {
		if i >= n {
			break
		}

		var labels []label
		if err := json.Unmarshal(item, &labels); err == nil {
			if len(labels) > 0 {
				scores[i] = topScore(labels)
			}
			continue
		}

		var single label
		if err := json.Unmarshal(item, &single); err == nil && single.Label != "" {
			scores[i] = single.Score
		}
	}

	return scores
}

func topScore(labels []label) float64 {
	best := labels[0].Score
	for _, l := range labels[1:] {
		if l.Score > best {
			best = l.Score
		}
	}
	return best
}
