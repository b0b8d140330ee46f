package retrieval

import "github.com/ingres-ai/ingres-assistant/internal/index"

// Decision is the outcome of the confidence policy.
type Decision string

const (
	DecisionAccept    Decision = "accept"
	DecisionUncertain Decision = "uncertain"
	DecisionFallback  Decision = "fallback"
)

// Resolution is what the resolver decided for one ranked list.
type Resolution struct {
	Decision  Decision
	Top       *Candidate
	Threshold float64
	SoftBound float64
	// Locations holds every location candidate scoring at the bound the top
	// candidate cleared, best first. Set only when Top is a location.
	Locations []Candidate
}

// Comparison reports whether more than one location was retained.
func (r Resolution) Comparison() bool {
	return r.Top != nil && r.Top.Index == index.Locations && len(r.Locations) > 1
}

// Resolver applies the accept / uncertain / fallback thresholds.
type Resolver struct {
	softRatio float64
}

// NewResolver creates a resolver. softRatio scales the intent threshold down
// to the uncertain acceptance bound.
func NewResolver(softRatio float64) *Resolver {
	if softRatio <= 0 || softRatio > 1 {
		softRatio = 0.7
	}
	return &Resolver{softRatio: softRatio}
}

// SoftBound returns the uncertain acceptance bound for threshold.
func (r *Resolver) SoftBound(threshold float64) float64 {
	return r.softRatio * threshold
}

// Resolve decides on reranked candidates, which must be sorted by RerankScore.
func (r *Resolver) Resolve(cands []Candidate, threshold float64) Resolution {
	res := Resolution{
		Decision:  DecisionFallback,
		Threshold: threshold,
		SoftBound: r.SoftBound(threshold),
	}
	if len(cands) == 0 {
		return res
	}

	top := cands[0]
	var bound float64
	switch {
	case top.RerankScore >= threshold:
		res.Decision = DecisionAccept
		bound = threshold
	case top.RerankScore >= res.SoftBound:
		res.Decision = DecisionUncertain
		bound = res.SoftBound
	default:
		return res
	}
	res.Top = &top

	if top.Index == index.Locations {
		for _, c := range cands {
			if c.Index == index.Locations && c.RerankScore >= bound {
				res.Locations = append(res.Locations, c)
			}
		}
	}

	return res
}
