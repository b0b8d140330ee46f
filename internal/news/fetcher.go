// Package news fetches the latest groundwater headlines from an RSS feed.
package news

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ingres-ai/ingres-assistant/internal/cache"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// DigestSize is the number of headlines shown when no answer was found.
const DigestSize = 3

// DefaultHeadlines are served when the feed cannot be reached.
var DefaultHeadlines = []string{
	"CGWB releases the 2022 Dynamic Ground Water Resources Assessment of India",
	"Jal Shakti Abhiyan: Catch the Rain campaign extended to all districts",
	"Atal Bhujal Yojana reports rising water levels in participating gram panchayats",
}

// Config holds fetcher configuration.
type Config struct {
	FeedURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Fetcher reads headlines and remembers the last good result.
type Fetcher struct {
	logger     *observability.Logger
	httpClient *http.Client
	cache      cache.Client
	config     Config
	group      singleflight.Group
}

// NewFetcher creates a fetcher. c may be nil to disable caching.
func NewFetcher(logger *observability.Logger, c cache.Client, cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &Fetcher{
		logger:     logger.WithOperation("news"),
		httpClient: &http.Client{},
		cache:      c,
		config:     cfg,
	}
}

type rssDoc struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Latest returns up to DigestSize headlines. It never fails: on any error
// the default headlines are returned.
func (f *Fetcher) Latest(ctx context.Context) []string {
	if f.config.FeedURL == "" {
		return clone(DefaultHeadlines)
	}

	key := cache.NewsKey(f.config.FeedURL)
	if f.cache != nil {
		var cached []string
		if err := cache.GetJSON(ctx, f.cache, key, &cached); err == nil && len(cached) > 0 {
			return cached
		}
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("feed", f.config.FeedURL).Msg("news fetch failed, serving defaults")
		return clone(DefaultHeadlines)
	}

	headlines := v.([]string)
	if f.cache != nil {
		if err := cache.SetJSON(ctx, f.cache, key, headlines, f.config.CacheTTL); err != nil {
			f.logger.Debug().Err(err).Msg("news cache write failed")
		}
	}
	return clone(headlines)
}

// Digest returns exactly DigestSize headlines, padding with defaults.
func (f *Fetcher) Digest(ctx context.Context) []string {
	out := f.Latest(ctx)
	for _, h := range DefaultHeadlines {
		if len(out) >= DigestSize {
			break
		}
		if !contains(out, h) {
			out = append(out, h)
		}
	}
	return out[:DigestSize]
}

func (f *Fetcher) fetch(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ingres-assistant/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}

	var doc rssDoc
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	var out []string
	for _, it := range doc.Channel.Items {
		if t := strings.TrimSpace(it.Title); t != "" {
			out = append(out, t)
		}
		if len(out) == DigestSize {
			break
		}
	}
	if len(out) == 0 {
		return nil, errors.New("feed has no items")
	}
	return out, nil
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
