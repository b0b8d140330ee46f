// Package retrieval implements hybrid semantic/keyword search over the
// multi-index store, cross-encoder reranking and the confidence policy that
// turns ranked candidates into a routing decision.
package retrieval

import (
	"github.com/ingres-ai/ingres-assistant/internal/index"
	"github.com/ingres-ai/ingres-assistant/internal/query"
)

// Candidate is one scored entity from one index.
type Candidate struct {
	Name          string         `json:"name"`
	Index         index.Category `json:"index"`
	SemanticScore float64        `json:"semantic"`
	KeywordScore  float64        `json:"keyword"`
	BlendedScore  float64        `json:"score"`
	RerankScore   float64        `json:"rerankScore"`
	// Reranked is false when RerankScore was copied from BlendedScore.
	Reranked bool `json:"reranked"`
}

// QueryContext is the per-request view of the question.
type QueryContext struct {
	Raw        string
	Normalized string
	Expanded   string
	Intent     query.Intent
	Indices    []index.Category
	Threshold  float64
}
