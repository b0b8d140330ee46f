// Package embedding provides text embedding generation over the Hugging Face
// inference router.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoEmbeddings is returned when the service answered but produced no usable vectors.
var ErrNoEmbeddings = errors.New("no embeddings returned")

// Embedder defines the interface for embedding generation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Client calls the feature-extraction pipeline of a hosted sentence-transformer.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	model      string
	timeout    time.Duration
}

// Config holds embedding client configuration.
type Config struct {
	BaseURL  string // Default: https://router.huggingface.co/hf-inference
	Model    string // Default: sentence-transformers/all-mpnet-base-v2
	APIToken string
	Timeout  time.Duration
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://router.huggingface.co/hf-inference"
	}
	if cfg.Model == "" {
		cfg.Model = "sentence-transformers/all-mpnet-base-v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
	}
}

type featureRequest struct {
	Inputs []string `json:"inputs"`
}

type apiError struct {
	Error string `json:"error"`
}

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonBody, err := json.Marshal(featureRequest{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/pipeline/feature-extraction", c.baseURL, c.model)
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
		var errResp apiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error: %s (status %d)", errResp.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	vectors := flattenVectors(raw)
	if len(vectors) == 0 {
		return nil, ErrNoEmbeddings
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors))
	}

	return vectors, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// ChunkFunc is called after each chunk with the half-open range it covered
// and the error of that chunk, if any.
type ChunkFunc func(from, to int, err error)

// EmbedBatch embeds texts in chunks of batchSize. A failed chunk leaves nil
// vectors at its positions so the result stays parallel to texts, and the
// chunk errors are joined into the returned error. Cancelling ctx stops the
// loop and returns ctx.Err() alone.
func EmbedBatch(ctx context.Context, e Embedder, texts []string, batchSize int, onChunk ChunkFunc) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 32
	}

	out := make([][]float32, len(texts))
	var errs []error

	for i := 0; i < len(texts); i += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+batchSize, len(texts))

		vecs, err := e.Embed(ctx, texts[i:end])
		if err == nil && len(vecs) != end-i {
			err = fmt.Errorf("got %d vectors for %d inputs", len(vecs), end-i)
		}
		if err != nil {
			err = fmt.Errorf("batch %d-%d: %w", i, end, err)
			errs = append(errs, err)
		} else {
			copy(out[i:end], vecs)
		}

		if onChunk != nil {
			onChunk(i, end, err)
		}
	}

	return out, errors.Join(errs...)
}

// flattenVectors coerces the feature-extraction response into one flat vector
// per input. The service answers [f...] for a lone input, [[f...]...] for a
// batch, and sometimes [[[f...]]...] with an extra nesting level per item.
func flattenVectors(raw any) [][]float32 {
	top, ok := raw.([]any)
	if !ok || len(top) == 0 {
		return nil
	}

	if _, isNum := top[0].(float64); isNum {
		if v := toVector(top); v != nil {
			return [][]float32{v}
		}
		return nil
	}

	out := make([][]float32, 0, len(top))
	for _, item := range top {
		cur := item
		for {
			list, ok := cur.([]any)
			if !ok || len(list) == 0 {
				break
			}
			if _, nested := list[0].([]any); !nested {
				break
			}
			cur = list[0]
		}
		list, _ := cur.([]any)
		out = append(out, toVector(list))
	}
	return out
}

func toVector(list []any) []float32 {
	v := make([]float32, 0, len(list))
	for _, x := range list {
		f, ok := x.(float64)
		if !ok {
			return nil
		}
		v = append(v, float32(f))
	}
	return v
}

var _ Embedder = (*Client)(nil)
