package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ingres-ai/ingres-assistant/internal/embedding"
	"github.com/ingres-ai/ingres-assistant/internal/index"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

// IndexSource exposes built indices by category.
type IndexSource interface {
	Index(cat index.Category) *index.Index
}

// SearcherConfig holds hybrid scoring configuration.
type SearcherConfig struct {
	SemanticWeight float64
	KeywordWeight  float64
	TopK           int
}

// Searcher blends cosine similarity with keyword overlap.
type Searcher struct {
	logger   *observability.Logger
	embedder embedding.Embedder
	indices  IndexSource
	config   SearcherConfig
}

// NewSearcher creates a new hybrid searcher.
func NewSearcher(logger *observability.Logger, embedder embedding.Embedder, indices IndexSource, cfg SearcherConfig) *Searcher {
	if cfg.SemanticWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.SemanticWeight, cfg.KeywordWeight = 0.7, 0.3
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Searcher{
		logger:   logger.WithOperation("search"),
		embedder: embedder,
		indices:  indices,
		config:   cfg,
	}
}

// Search scores every entity of the requested categories against q and
// returns at most k candidates scoring at least minScore, best first.
// Ties keep category order, then entity order.
//
// When the query cannot be embedded the blend collapses to keyword overlap
// alone and every entity sharing a word with the query is returned.
func (s *Searcher) Search(ctx context.Context, q string, cats []index.Category, k int, minScore float64) []Candidate {
	if k <= 0 {
		k = s.config.TopK
	}

	var qvec []float32
	vecs, err := s.embedder.Embed(ctx, []string{q})
	switch {
	case err != nil:
		s.logger.Warn().Err(err).Msg("query embedding failed, using keyword scores only")
	case len(vecs) == 0 || len(vecs[0]) == 0:
		s.logger.Warn().Msg("query embedding empty, using keyword scores only")
	default:
		qvec = vecs[0]
	}
	keywordOnly := qvec == nil

	qwords := Words(q)

	var results []Candidate
	for _, cat := range cats {
		ix := s.indices.Index(cat)
		if ix == nil {
			continue
		}

		for i, entity := range ix.Entities {
			kw := KeywordOverlap(qwords, Words(entity))

			c := Candidate{Name: entity, Index: cat, KeywordScore: kw}
			if keywordOnly {
				if kw == 0 {
					continue
				}
				c.BlendedScore = kw
			} else {
				if i < len(ix.Embeddings) {
					c.SemanticScore = Cosine(qvec, ix.Embeddings[i])
				}
				c.BlendedScore = s.config.SemanticWeight*c.SemanticScore + s.config.KeywordWeight*kw
				if c.BlendedScore < minScore {
					continue
				}
			}
			results = append(results, c)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].BlendedScore > results[j].BlendedScore
	})
	if len(results) > k {
		results = results[:k]
	}

	s.logger.Debug().
		Int("candidates", len(results)).
		Bool("keyword_only", keywordOnly).
		Msg("search complete")

	return results
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, they differ in length, or either has zero magnitude.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Words returns the distinct lowercase whitespace-separated words of s with
// surrounding punctuation and a possessive 's trimmed.
func Words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		w := trimPunct(f)
		for _, suffix := range possessives {
			if stem, ok := strings.CutSuffix(w, suffix); ok {
				w = trimPunct(stem)
				break
			}
		}
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

var possessives = []string{"'s", "\u2019s"}

func trimPunct(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

// KeywordOverlap is the share of query words present in the entity words.
func KeywordOverlap(qwords, ewords map[string]struct{}) float64 {
	if len(qwords) == 0 {
		return 0
	}
	hits := 0
	for w := range qwords {
		if _, ok := ewords[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(qwords))
}
