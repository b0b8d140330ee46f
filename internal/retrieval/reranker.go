package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// Reranker rescores candidates and re-sorts them by RerankScore.
type Reranker interface {
	Rerank(ctx context.Context, query string, cands []Candidate) []Candidate
}

// PairScorer scores (query, name) pairs in one call. NaN marks a missing score.
type PairScorer interface {
	Score(ctx context.Context, query string, names []string) ([]float64, error)
}

// CrossEncoderReranker rescales candidates with a cross-encoder service.
type CrossEncoderReranker struct {
	logger *observability.Logger
	scorer PairScorer
}

// NewCrossEncoderReranker creates a reranker backed by scorer.
func NewCrossEncoderReranker(logger *observability.Logger, scorer PairScorer) *CrossEncoderReranker {
	return &CrossEncoderReranker{logger: logger.WithOperation("rerank"), scorer: scorer}
}

// Rerank scores all candidates in one batch. Candidates the service could not
// score keep their blended score.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, cands []Candidate) []Candidate {
	if len(cands) == 0 {
		return cands
	}

	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name
	}

	scores, err := r.scorer.Score(ctx, query, names)
	if err != nil {
		r.logger.Warn().Err(err).Int("candidates", len(cands)).Msg("rerank failed, keeping blended scores")
	}

	out := make([]Candidate, len(cands))
	copy(out, cands)
	for i := range out {
		if err == nil && i < len(scores) && !math.IsNaN(scores[i]) {
			out[i].RerankScore = scores[i]
			out[i].Reranked = true
			continue
		}
		out[i].RerankScore = out[i].BlendedScore
		out[i].Reranked = false
	}

	sortByRerank(out)
	return out
}

// PassThroughReranker copies blended scores. Used without a reranking service.
type PassThroughReranker struct{}

func (PassThroughReranker) Rerank(_ context.Context, _ string, cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	for i := range out {
		out[i].RerankScore = out[i].BlendedScore
	}
	sortByRerank(out)
	return out
}

func sortByRerank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].RerankScore > cands[j].RerankScore
	})
}

var (
	_ Reranker = (*CrossEncoderReranker)(nil)
	_ Reranker = PassThroughReranker{}
)
