package query

import (
	"regexp"

	"github.com/ingres-ai/ingres-assistant/internal/index"
)

// Intent is the classified purpose of a question.
type Intent string

const (
	IntentWhy            Intent = "WHY"
	IntentComparison     Intent = "COMPARISON"
	IntentDefinition     Intent = "DEFINITION"
	IntentTips           Intent = "TIPS"
	IntentVisualization  Intent = "VISUALIZATION"
	IntentLocationLookup Intent = "LOCATION_LOOKUP"
)

type intentFamily struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// IntentClassifier assigns exactly one intent by ordered pattern families.
type IntentClassifier struct {
	families []intentFamily
}

// NewIntentClassifier creates a classifier. Families are checked in priority
// order; the first family with any matching pattern wins.
func NewIntentClassifier() *IntentClassifier {
	build := func(intent Intent, patterns ...string) intentFamily {
		f := intentFamily{intent: intent}
		for _, p := range patterns {
			f.patterns = append(f.patterns, regexp.MustCompile(p))
		}
		return f
	}

	return &IntentClassifier{
		families: []intentFamily{
			build(IntentWhy, `\bwhy\b`, `\bcause\b`, `\breason\b`, `\bhow come\b`),
			build(IntentComparison, `\bcompare\b`, `\bvs\b`, `\bversus\b`, `\bdifference between\b`, `\bbetter than\b`),
			build(IntentDefinition, `\bwhat is\b`, `\bwhat are\b`, `\bdefine\b`, `\bmeaning of\b`, `\bexplain\b`),
			build(IntentTips, `\btips?\b`, `\bhow to\b`, `\bways? to\b`, `\bconservation\b`, `\bconserve\b`, `\bhelp\b`),
			build(IntentVisualization, `\bchart\b`, `\bgraph\b`, `\bplot\b`, `\bmap\b`, `\bshow\b`, `\btrend\b`),
		},
	}
}

// Classify returns the intent of a normalized query. Anything that matches no
// family is a location lookup.
func (c *IntentClassifier) Classify(normalized string) Intent {
	for _, f := range c.families {
		for _, p := range f.patterns {
			if p.MatchString(normalized) {
				return f.intent
			}
		}
	}
	return IntentLocationLookup
}

// Route is the search plan for one intent.
type Route struct {
	Indices   []index.Category
	Threshold float64
}

// Policy maps intents to search plans.
type Policy struct {
	routes   map[Intent]Route
	fallback Route
}

// DefaultPolicy returns the stock intent table.
func DefaultPolicy() *Policy {
	return &Policy{
		routes: map[Intent]Route{
			IntentWhy:            {Indices: []index.Category{index.Causes, index.Locations}, Threshold: 0.55},
			IntentComparison:     {Indices: []index.Category{index.Locations}, Threshold: 0.6},
			IntentDefinition:     {Indices: []index.Category{index.Concepts}, Threshold: 0.6},
			IntentTips:           {Indices: []index.Category{index.Tips}, Threshold: 0.5},
			IntentVisualization:  {Indices: []index.Category{index.Locations, index.Concepts}, Threshold: 0.55},
			IntentLocationLookup: {Indices: []index.Category{index.Locations}, Threshold: 0.65},
		},
		fallback: Route{Indices: []index.Category{index.Concepts, index.Locations}, Threshold: 0.6},
	}
}

// NewPolicy returns the stock table with thresholds replaced from overrides,
// keyed by intent name.
func NewPolicy(overrides map[string]float64) *Policy {
	p := DefaultPolicy()
	for name, t := range overrides {
		intent := Intent(name)
		if r, ok := p.routes[intent]; ok {
			r.Threshold = t
			p.routes[intent] = r
		}
	}
	return p
}

// Route returns the search plan for intent, or the general plan for an
// unknown intent.
func (p *Policy) Route(intent Intent) Route {
	if r, ok := p.routes[intent]; ok {
		return r
	}
	return p.fallback
}
