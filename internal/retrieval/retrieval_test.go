package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingres-ai/ingres-assistant/internal/index"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
	"github.com/ingres-ai/ingres-assistant/internal/query"
)

// staticIndices is an in-memory IndexSource.
type staticIndices map[index.Category]*index.Index

func (s staticIndices) Index(cat index.Category) *index.Index { return s[cat] }

// lookupEmbedder returns a fixed vector per text, [1, 0] by default.
type lookupEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *lookupEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0}
		}
	}
	return out, nil
}

func (e *lookupEmbedder) Model() string { return "lookup" }

type fakeScorer struct {
	scores []float64
	err    error
	calls  int
}

func (f *fakeScorer) Score(_ context.Context, _ string, names []string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func testIndices() staticIndices {
	return staticIndices{
		index.Locations: {
			Entities:   []string{"bihar", "kerala", "punjab"},
			Embeddings: [][]float32{{0, 1}, nil, {1, 0}},
		},
		index.Causes: {
			Entities:   []string{"Paddy and wheat.", "punjab"},
			Embeddings: [][]float32{{0, 1}, {1, 0}},
		},
	}
}

func newTestSearcher(e *lookupEmbedder) *Searcher {
	return NewSearcher(observability.NopLogger(), e, testIndices(), SearcherConfig{})
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestKeywordOverlap(t *testing.T) {
	q := Words("Why is Punjab, stressed?")
	assert.Len(t, q, 4)
	assert.InDelta(t, 0.25, KeywordOverlap(q, Words("punjab")), 1e-9)
	assert.Equal(t, 0.0, KeywordOverlap(Words("  "), Words("punjab")))
	assert.InDelta(t, 1.0, KeywordOverlap(Words("over-exploited"), Words("an over-exploited region")), 1e-9)
}

func TestWords_Possessive(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"punjab's", true},
		{"Punjab\u2019s", true},
		{"(punjab's)", true},
		{"punjabs", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, ok := Words(tt.in)["punjab"]
			assert.Equal(t, tt.want, ok)
		})
	}

	q := Words("Why is Punjab's usage so high")
	assert.InDelta(t, 1.0/6, KeywordOverlap(q, Words("punjab")), 1e-9)
}

func TestSearch_BlendsAndSorts(t *testing.T) {
	s := newTestSearcher(&lookupEmbedder{})

	got := s.Search(context.Background(), "punjab", []index.Category{index.Locations}, 5, 0)
	require.Len(t, got, 3)

	assert.Equal(t, "punjab", got[0].Name)
	assert.InDelta(t, 1.0, got[0].SemanticScore, 1e-9)
	assert.InDelta(t, 1.0, got[0].KeywordScore, 1e-9)
	assert.InDelta(t, 1.0, got[0].BlendedScore, 1e-9)

	// Equal zero scores keep entity order; the missing vector scores 0.
	assert.Equal(t, "bihar", got[1].Name)
	assert.Equal(t, "kerala", got[2].Name)
	assert.Equal(t, 0.0, got[2].SemanticScore)
}

func TestSearch_FiltersAndTruncates(t *testing.T) {
	s := newTestSearcher(&lookupEmbedder{})
	ctx := context.Background()

	got := s.Search(ctx, "punjab", []index.Category{index.Locations}, 5, 0.5)
	require.Len(t, got, 1)
	for _, c := range got {
		assert.GreaterOrEqual(t, c.BlendedScore, 0.5)
	}

	got = s.Search(ctx, "punjab", []index.Category{index.Locations, index.Causes}, 1, 0)
	assert.Len(t, got, 1)
}

func TestSearch_TiesKeepCategoryOrder(t *testing.T) {
	s := newTestSearcher(&lookupEmbedder{})

	got := s.Search(context.Background(), "why punjab", []index.Category{index.Causes, index.Locations}, 5, 0.5)
	require.Len(t, got, 2)
	assert.Equal(t, index.Causes, got[0].Index)
	assert.Equal(t, index.Locations, got[1].Index)
	assert.InDelta(t, 0.85, got[0].BlendedScore, 1e-9)
	assert.Equal(t, got[0].BlendedScore, got[1].BlendedScore)
}

func TestSearch_KeywordOnlyWhenEmbeddingFails(t *testing.T) {
	s := newTestSearcher(&lookupEmbedder{err: errors.New("service down")})

	got := s.Search(context.Background(), "punjab wheat", []index.Category{index.Locations, index.Causes}, 5, 0.9)
	require.NotEmpty(t, got)
	for _, c := range got {
		assert.Greater(t, c.KeywordScore, 0.0)
		assert.Equal(t, 0.0, c.SemanticScore)
		assert.Equal(t, c.KeywordScore, c.BlendedScore)
	}
	names := []string{}
	for _, c := range got {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"punjab", "Paddy and wheat.", "punjab"}, names)
}

func TestSearch_MissingCategory(t *testing.T) {
	s := newTestSearcher(&lookupEmbedder{})
	assert.Empty(t, s.Search(context.Background(), "tips", []index.Category{index.Tips}, 5, 0))
}

func TestCrossEncoderReranker(t *testing.T) {
	cands := []Candidate{
		{Name: "a", BlendedScore: 0.9},
		{Name: "b", BlendedScore: 0.8},
		{Name: "c", BlendedScore: 0.7},
	}

	t.Run("applies scores", func(t *testing.T) {
		r := NewCrossEncoderReranker(observability.NopLogger(), &fakeScorer{scores: []float64{0.1, 0.95, math.NaN()}})
		got := r.Rerank(context.Background(), "q", cands)

		require.Len(t, got, 3)
		assert.Equal(t, "b", got[0].Name)
		assert.True(t, got[0].Reranked)
		assert.Equal(t, "c", got[1].Name)
		assert.False(t, got[1].Reranked)
		assert.Equal(t, 0.7, got[1].RerankScore)
		assert.Equal(t, "a", got[2].Name)

		// Input is untouched.
		assert.Equal(t, 0.0, cands[0].RerankScore)
	})

	t.Run("falls back on error", func(t *testing.T) {
		r := NewCrossEncoderReranker(observability.NopLogger(), &fakeScorer{err: errors.New("503")})
		got := r.Rerank(context.Background(), "q", cands)

		for i, c := range got {
			assert.Equal(t, cands[i].Name, c.Name)
			assert.Equal(t, c.BlendedScore, c.RerankScore)
			assert.False(t, c.Reranked)
		}
	})

	t.Run("empty input skips the call", func(t *testing.T) {
		scorer := &fakeScorer{}
		r := NewCrossEncoderReranker(observability.NopLogger(), scorer)
		assert.Empty(t, r.Rerank(context.Background(), "q", nil))
		assert.Equal(t, 0, scorer.calls)
	})
}

func TestPassThroughReranker(t *testing.T) {
	got := PassThroughReranker{}.Rerank(context.Background(), "q", []Candidate{
		{Name: "low", BlendedScore: 0.2},
		{Name: "high", BlendedScore: 0.6},
	})
	assert.Equal(t, "high", got[0].Name)
	assert.Equal(t, 0.6, got[0].RerankScore)
}

func TestResolver(t *testing.T) {
	r := NewResolver(0.7)

	tests := []struct {
		name  string
		score float64
		want  Decision
	}{
		{"above threshold", 0.61, DecisionAccept},
		{"at threshold", 0.6, DecisionAccept},
		{"soft band", 0.45, DecisionUncertain},
		{"at soft bound", 0.7 * 0.6, DecisionUncertain},
		{"below soft bound", 0.41, DecisionFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve([]Candidate{{Name: "x", Index: index.Concepts, RerankScore: tt.score}}, 0.6)
			assert.Equal(t, tt.want, res.Decision)
			if tt.want == DecisionFallback {
				assert.Nil(t, res.Top)
			} else {
				require.NotNil(t, res.Top)
				assert.Equal(t, "x", res.Top.Name)
			}
		})
	}

	assert.Equal(t, DecisionFallback, r.Resolve(nil, 0.6).Decision)
}

func TestResolver_RetainsLocations(t *testing.T) {
	r := NewResolver(0.7)
	cands := []Candidate{
		{Name: "punjab", Index: index.Locations, RerankScore: 0.9},
		{Name: "aquifer", Index: index.Concepts, RerankScore: 0.85},
		{Name: "bihar", Index: index.Locations, RerankScore: 0.7},
		{Name: "kerala", Index: index.Locations, RerankScore: 0.3},
	}

	res := r.Resolve(cands, 0.6)
	assert.True(t, res.Comparison())
	assert.Len(t, res.Locations, 2)
	assert.Equal(t, "bihar", res.Locations[1].Name)

	// Uncertain acceptance retains down to the soft bound.
	res = r.Resolve(cands[2:], 0.9)
	assert.Equal(t, DecisionUncertain, res.Decision)
	assert.False(t, res.Comparison())
	assert.Len(t, res.Locations, 1)

	concept := r.Resolve(cands[1:], 0.6)
	assert.Equal(t, index.Concepts, concept.Top.Index)
	assert.Empty(t, concept.Locations)
}

func TestResolver_ThresholdMonotonic(t *testing.T) {
	r := NewResolver(0.7)
	rank := map[Decision]int{DecisionFallback: 0, DecisionUncertain: 1, DecisionAccept: 2}

	for score := 0.0; score <= 1.0; score += 0.05 {
		cands := []Candidate{{Name: "x", Index: index.Tips, RerankScore: score}}
		prev := 3
		for threshold := 0.1; threshold <= 1.0; threshold += 0.05 {
			d := rank[r.Resolve(cands, threshold).Decision]
			assert.LessOrEqual(t, d, prev, "score %.2f threshold %.2f", score, threshold)
			prev = d
		}
	}
}

func TestRouter_Route(t *testing.T) {
	searcher := newTestSearcher(&lookupEmbedder{})
	router := NewRouter(observability.NopLogger(), query.DefaultPolicy(), searcher, nil, NewResolver(0.7), RouterConfig{})

	res := router.Route(context.Background(), "Why Punjab")
	assert.Equal(t, query.IntentWhy, res.Query.Intent)
	assert.Equal(t, "why punjab", res.Query.Normalized)
	assert.Equal(t, []index.Category{index.Causes, index.Locations}, res.Query.Indices)
	assert.Equal(t, DecisionAccept, res.Resolution.Decision)
	require.NotNil(t, res.Resolution.Top)
	assert.Equal(t, index.Causes, res.Resolution.Top.Index)
	assert.Equal(t, "punjab", res.Resolution.Top.Name)

	empty := router.Route(context.Background(), "   ")
	assert.Equal(t, DecisionFallback, empty.Resolution.Decision)

	stats := router.Stats()
	assert.Equal(t, int64(1), stats.Accepted)
	assert.Equal(t, int64(1), stats.Fallbacks)
}

func TestRouter_Prepare(t *testing.T) {
	router := NewRouter(observability.NopLogger(), nil, newTestSearcher(&lookupEmbedder{}), nil, NewResolver(0.7), RouterConfig{})

	qc := router.Prepare("Tips for FARMING")
	assert.Equal(t, query.IntentTips, qc.Intent)
	assert.Equal(t, "tips for farming irrigation paddy sugarcane millets", qc.Expanded)
	assert.Equal(t, 0.5, qc.Threshold)
}
