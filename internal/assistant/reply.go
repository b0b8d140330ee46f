package assistant

// AskRequest is one user turn.
type AskRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// ChartPoint is one bar of a comparison chart.
type ChartPoint struct {
	Name       string  `json:"name"`
	Extraction float64 `json:"extraction"`
}

// Reply is the assistant's answer to one turn.
type Reply struct {
	Text        string       `json:"text"`
	ChartData   []ChartPoint `json:"chartData"`
	Suggestions []string     `json:"suggestions"`
	ImageURL    *string      `json:"imageUrl"`
	VisualType  *string      `json:"visualType"`
	VisualData  any          `json:"visualData"`
	SessionID   string       `json:"sessionId"`
}

// Visual types understood by the chat frontend.
const (
	VisualStatusCard     = "status_card"
	VisualComparisonBars = "comparison_bars"
	VisualRiskAlert      = "risk_alert"
	VisualTrendLine      = "trend_line"
)

// StatusCard summarizes a single place.
type StatusCard struct {
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Extraction        float64 `json:"extraction"`
	Trend             string  `json:"trend"`
	MainCause         string  `json:"mainCause"`
	TopRisk           string  `json:"topRisk"`
	RecommendedAction string  `json:"recommendedAction"`
}

// ComparisonBar is one row of the comparison visual.
type ComparisonBar struct {
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Extraction float64 `json:"extraction"`
}

// RiskAlert is the water quality visual.
type RiskAlert struct {
	Name                string   `json:"name"`
	ContaminantList     []string `json:"contaminantList"`
	HealthRisk          string   `json:"healthRisk"`
	SuggestedMitigation string   `json:"suggestedMitigation"`
}

func (r *Reply) setVisual(kind string, data any) {
	r.VisualType = &kind
	r.VisualData = data
}

func (r *Reply) suggest(items ...string) {
	for _, s := range items {
		if len(r.Suggestions) == maxSuggestions {
			return
		}
		if s != "" {
			r.Suggestions = append(r.Suggestions, s)
		}
	}
}

const maxSuggestions = 3
