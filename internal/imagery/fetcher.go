// Package imagery finds an illustrative picture for a groundwater concept.
package imagery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// Config holds image fetcher settings.
type Config struct {
	SearchURL  string // JSON image search endpoint, optional
	SearchKey  string
	SummaryURL string // Wikipedia REST page summary base
	Timeout    time.Duration
}

// Finder returns an image URL or nil.
type Finder interface {
	Find(ctx context.Context, topic string) *string
}

// Fetcher queries the search provider first and Wikipedia second.
type Fetcher struct {
	logger     *observability.Logger
	httpClient *http.Client
	config     Config
}

// NewFetcher creates an image fetcher.
func NewFetcher(logger *observability.Logger, cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 4 * time.Second
	}
	return &Fetcher{
		logger:     logger.WithOperation("imagery"),
		httpClient: &http.Client{},
		config:     cfg,
	}
}

type searchResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
}

type summaryResponse struct {
	Thumbnail *struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	OriginalImage *struct {
		Source string `json:"source"`
	} `json:"originalimage"`
}

// Find looks up an image for topic. Failures are logged and yield nil.
func (f *Fetcher) Find(ctx context.Context, topic string) *string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil
	}

	if f.config.SearchURL != "" && f.config.SearchKey != "" {
		link, err := f.search(ctx, topic)
		if err == nil && link != "" {
			return &link
		}
		if err != nil {
			f.logger.Debug().Err(err).Str("topic", topic).Msg("image search failed")
		}
	}

	if f.config.SummaryURL != "" {
		link, err := f.summary(ctx, topic)
		if err == nil && link != "" {
			return &link
		}
		if err != nil {
			f.logger.Debug().Err(err).Str("topic", topic).Msg("wikipedia summary failed")
		}
	}
	return nil
}

func (f *Fetcher) search(ctx context.Context, topic string) (string, error) {
	u, err := url.Parse(f.config.SearchURL)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}
	q := u.Query()
	q.Set("q", topic+" groundwater")
	q.Set("key", f.config.SearchKey)
	q.Set("searchType", "image")
	q.Set("num", "1")
	u.RawQuery = q.Encode()

	var resp searchResponse
	if err := f.getJSON(ctx, u.String(), &resp); err != nil {
		return "", err
	}
	for _, it := range resp.Items {
		if it.Link != "" {
			return it.Link, nil
		}
	}
	for _, it := range resp.Results {
		if it.URL != "" {
			return it.URL, nil
		}
	}
	return "", nil
}

func (f *Fetcher) summary(ctx context.Context, topic string) (string, error) {
	endpoint := strings.TrimRight(f.config.SummaryURL, "/") + "/" + url.PathEscape(wikiTitle(topic))

	var resp summaryResponse
	if err := f.getJSON(ctx, endpoint, &resp); err != nil {
		return "", err
	}
	if resp.Thumbnail != nil && resp.Thumbnail.Source != "" {
		return resp.Thumbnail.Source, nil
	}
	if resp.OriginalImage != nil {
		return resp.OriginalImage.Source, nil
	}
	return "", nil
}

func (f *Fetcher) getJSON(ctx context.Context, endpoint string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ingres-assistant/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// wikiTitle turns a topic into a page title. Wikipedia only normalizes the
// first letter, so the rest keeps its case.
func wikiTitle(topic string) string {
	title := strings.ReplaceAll(strings.TrimSpace(topic), " ", "_")
	r, size := utf8.DecodeRuneInString(title)
	if r == utf8.RuneError {
		return title
	}
	return string(unicode.ToUpper(r)) + title[size:]
}
