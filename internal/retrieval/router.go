package retrieval

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ingres-ai/ingres-assistant/internal/observability"
	"github.com/ingres-ai/ingres-assistant/internal/query"
)

// Result is everything the router learned about one question.
type Result struct {
	Query      QueryContext
	Candidates []Candidate
	Resolution Resolution
	Latency    time.Duration
}

// RouterConfig holds router configuration.
type RouterConfig struct {
	TopK int
}

// RouterMetrics counts routing outcomes.
type RouterMetrics struct {
	Accepted  atomic.Int64
	Uncertain atomic.Int64
	Fallbacks atomic.Int64
}

// RouterStats is a point-in-time copy of RouterMetrics.
type RouterStats struct {
	Accepted  int64 `json:"accepted"`
	Uncertain int64 `json:"uncertain"`
	Fallbacks int64 `json:"fallbacks"`
}

// Router runs normalize, classify, search, rerank and resolve in order.
type Router struct {
	logger     *observability.Logger
	normalizer *query.Normalizer
	classifier *query.IntentClassifier
	policy     *query.Policy
	searcher   *Searcher
	reranker   Reranker
	resolver   *Resolver
	config     RouterConfig
	metrics    RouterMetrics
}

// NewRouter creates a new retrieval router.
func NewRouter(
	logger *observability.Logger,
	policy *query.Policy,
	searcher *Searcher,
	reranker Reranker,
	resolver *Resolver,
	cfg RouterConfig,
) *Router {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if reranker == nil {
		reranker = PassThroughReranker{}
	}
	if policy == nil {
		policy = query.DefaultPolicy()
	}
	return &Router{
		logger:     logger.WithOperation("router"),
		normalizer: query.NewNormalizer(),
		classifier: query.NewIntentClassifier(),
		policy:     policy,
		searcher:   searcher,
		reranker:   reranker,
		resolver:   resolver,
		config:     cfg,
	}
}

// Prepare normalizes and classifies raw without searching.
func (r *Router) Prepare(raw string) QueryContext {
	normalized := r.normalizer.Normalize(raw)
	intent := r.classifier.Classify(normalized)
	route := r.policy.Route(intent)

	return QueryContext{
		Raw:        raw,
		Normalized: normalized,
		Expanded:   r.normalizer.Expand(normalized),
		Intent:     intent,
		Indices:    route.Indices,
		Threshold:  route.Threshold,
	}
}

// Route answers which entity, if any, the question is about.
func (r *Router) Route(ctx context.Context, raw string) Result {
	start := time.Now()
	qc := r.Prepare(raw)

	logger := r.logger.WithContext(ctx)
	logger.Debug().
		Str("normalized", qc.Normalized).
		Str("intent", string(qc.Intent)).
		Float64("threshold", qc.Threshold).
		Msg("Processing query")

	res := Result{Query: qc}
	if qc.Normalized == "" {
		res.Resolution = r.resolver.Resolve(nil, qc.Threshold)
		r.count(res.Resolution.Decision)
		return res
	}

	cands := r.searcher.Search(ctx, qc.Expanded, qc.Indices, r.config.TopK, r.resolver.SoftBound(qc.Threshold))
	cands = r.reranker.Rerank(ctx, qc.Normalized, cands)

	res.Candidates = cands
	res.Resolution = r.resolver.Resolve(cands, qc.Threshold)
	res.Latency = time.Since(start)
	r.count(res.Resolution.Decision)

	evt := logger.Info().
		Str("intent", string(qc.Intent)).
		Str("decision", string(res.Resolution.Decision)).
		Int("candidates", len(cands)).
		Dur("latency", res.Latency)
	if top := res.Resolution.Top; top != nil {
		evt = evt.Str("top", top.Name).Str("index", string(top.Index)).Float64("score", top.RerankScore)
	}
	evt.Msg("Query routed")

	return res
}

func (r *Router) count(d Decision) {
	switch d {
	case DecisionAccept:
		r.metrics.Accepted.Add(1)
	case DecisionUncertain:
		r.metrics.Uncertain.Add(1)
	default:
		r.metrics.Fallbacks.Add(1)
	}
}

// Stats returns the routing counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Accepted:  r.metrics.Accepted.Load(),
		Uncertain: r.metrics.Uncertain.Load(),
		Fallbacks: r.metrics.Fallbacks.Load(),
	}
}
