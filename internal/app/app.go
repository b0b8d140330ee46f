// Package app wires configuration into the running assistant. The API server
// and the CLI share it so both see the same object graph.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ingres-ai/ingres-assistant/internal/assistant"
	"github.com/ingres-ai/ingres-assistant/internal/cache"
	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/embedding"
	"github.com/ingres-ai/ingres-assistant/internal/imagery"
	"github.com/ingres-ai/ingres-assistant/internal/index"
	"github.com/ingres-ai/ingres-assistant/internal/knowledge"
	"github.com/ingres-ai/ingres-assistant/internal/news"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
	"github.com/ingres-ai/ingres-assistant/internal/query"
	"github.com/ingres-ai/ingres-assistant/internal/rerank"
	"github.com/ingres-ai/ingres-assistant/internal/retrieval"
	"github.com/ingres-ai/ingres-assistant/internal/storage"
)

// Options tune startup.
type Options struct {
	// ForceRebuild re-embeds every index even when the snapshot is current.
	ForceRebuild bool
	// Progress receives index build progress.
	Progress index.ProgressFunc
}

// App holds the long-lived services.
type App struct {
	Config    *config.Config
	Logger    *observability.Logger
	Knowledge *knowledge.Base
	Dataset   *storage.Dataset
	Cache     cache.Client
	Embedder  embedding.Embedder
	Store     *index.Store
	Router    *retrieval.Router
	News      *news.Fetcher
	Assistant *assistant.Service

	// Rebuilt reports whether startup had to embed the indices.
	Rebuilt bool
}

// New opens the dataset and cache, loads or builds the indices and assembles
// the assistant.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*App, error) {
	kb, err := LoadKnowledge(cfg.Knowledge)
	if err != nil {
		return nil, err
	}

	ds, err := storage.Open(ctx, logger, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Knowledge: kb,
		Dataset:   ds,
		Cache:     c,
		Embedder:  NewEmbedder(cfg.Embedding),
	}

	a.Store = index.NewStore(logger, a.Embedder, index.Config{
		SnapshotPath: cfg.Index.SnapshotPath,
		BatchSize:    cfg.Embedding.BatchSize,
	})
	if opts.Progress != nil {
		a.Store.OnProgress(opts.Progress)
	}

	src, err := a.Sources(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Rebuilt, err = a.Store.EnsureLoaded(ctx, src, opts.ForceRebuild || cfg.Index.RebuildOnStart)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load indices: %w", err)
	}

	searcher := retrieval.NewSearcher(logger, a.Embedder, a.Store, retrieval.SearcherConfig{
		SemanticWeight: cfg.Retrieval.SemanticWeight,
		KeywordWeight:  cfg.Retrieval.KeywordWeight,
		TopK:           cfg.Retrieval.TopK,
	})
	a.Router = retrieval.NewRouter(
		logger,
		query.NewPolicy(cfg.Retrieval.Thresholds),
		searcher,
		NewReranker(logger, cfg),
		retrieval.NewResolver(cfg.Retrieval.SoftFallbackRatio),
		retrieval.RouterConfig{TopK: cfg.Retrieval.TopK},
	)

	a.News = news.NewFetcher(logger, c, news.Config{
		FeedURL:  cfg.News.FeedURL,
		Timeout:  cfg.News.Timeout,
		CacheTTL: cfg.News.CacheTTL,
	})

	a.Assistant = assistant.NewService(logger, assistant.Deps{
		Router:    a.Router,
		Indices:   a.Store,
		Knowledge: kb,
		Dataset:   ds,
		News:      a.News,
		Images: imagery.NewFetcher(logger, imagery.Config{
			SearchURL:  cfg.Image.SearchURL,
			SearchKey:  cfg.Image.SearchKey,
			SummaryURL: cfg.Image.SummaryURL,
			Timeout:    cfg.Image.Timeout,
		}),
		Pending: assistant.NewPendingCharts(c, cfg.Cache.TTL),
	})

	logger.Info().
		Str("model", a.Store.Model()).
		Bool("rebuilt", a.Rebuilt).
		Str("cache", cfg.Cache.Driver).
		Str("database", cfg.Database.Driver).
		Msg("Assistant ready")

	return a, nil
}

// Sources collects the entity universe from the dataset and knowledge tables.
func (a *App) Sources(ctx context.Context) (index.Sources, error) {
	locations, err := a.Dataset.DistinctLocations(ctx)
	if err != nil {
		return index.Sources{}, fmt.Errorf("list locations: %w", err)
	}
	return index.SourcesFrom(a.Knowledge, locations), nil
}

// Close releases the dataset and cache.
func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.Dataset != nil {
		errs = append(errs, a.Dataset.Close())
	}
	return errors.Join(errs...)
}

// LoadKnowledge returns the override tables when a path is configured and the
// embedded ones otherwise.
func LoadKnowledge(cfg config.KnowledgeConfig) (*knowledge.Base, error) {
	if cfg.Path == "" {
		return knowledge.Default()
	}
	kb, err := knowledge.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load knowledge %s: %w", cfg.Path, err)
	}
	return kb, nil
}

// NewEmbedder returns the configured embedding provider.
func NewEmbedder(cfg config.EmbeddingConfig) embedding.Embedder {
	if cfg.Provider == "mock" {
		return embedding.NewMockClient(384).WithModel("mock:" + cfg.Model)
	}
	return embedding.NewClient(embedding.Config{
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		APIToken: cfg.APIToken,
		Timeout:  cfg.Timeout,
	})
}

// NewReranker returns the cross-encoder reranker, or nil when reranking is
// disabled so the router copies blended scores.
func NewReranker(logger *observability.Logger, cfg *config.Config) retrieval.Reranker {
	if !cfg.Rerank.Enabled {
		return nil
	}
	return retrieval.NewCrossEncoderReranker(logger, rerank.NewClient(rerank.Config{
		BaseURL:  cfg.Rerank.BaseURL,
		Model:    cfg.Rerank.Model,
		APIToken: cfg.Embedding.APIToken,
		Timeout:  cfg.Rerank.Timeout,
	}))
}
