package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ingres-ai/ingres-assistant/internal/retrieval"
	"github.com/ingres-ai/ingres-assistant/internal/storage"
)

// Each render method fills reply and reports false when it had to replace
// the answer with the digest or an error message.

func (s *Service) renderLocation(ctx context.Context, qc retrieval.QueryContext, name string, reply *Reply) bool {
	rec, err := s.deps.Dataset.Locate(ctx, name)
	if err != nil {
		s.lookupFailed(ctx, name, err, reply)
		return false
	}

	display := title(rec.Name)
	category := categoryOf(rec)
	kb := s.deps.Knowledge
	contaminants := kb.ContaminantsFor(rec.Name)
	cause, hasCause := kb.Cause(rec.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** has a groundwater extraction of **%s%%** and is classified as **%s**.",
		display, pct(rec.Extraction), category)
	if rec.Level != storage.LevelBlock && rec.Rows > 1 {
		fmt.Fprintf(&b, " This is the average of %d assessment units.", rec.Rows)
	}

	trend := s.trend(ctx, rec)

	switch {
	case isQualityQuestion(qc) && len(contaminants) > 0:
		fmt.Fprintf(&b, "\n\nKnown contaminants: %s.", strings.Join(contaminants, ", "))
		reply.setVisual(VisualRiskAlert, s.riskAlert(display, contaminants))
	case isTrendQuestion(qc) && trend != nil:
		fmt.Fprintf(&b, "\n\nExtraction moved from %s%% in %s to %s%% in %s, so the trend is %s.",
			pct(trend.Values[0]), trend.Labels[0],
			pct(trend.Values[len(trend.Values)-1]), trend.Labels[len(trend.Labels)-1],
			trend.Diagnostic)
		tl := *trend
		tl.Name = display
		reply.setVisual(VisualTrendLine, tl)
	default:
		card := StatusCard{
			Name:              display,
			Category:          category,
			Extraction:        rec.Extraction,
			Trend:             "Not available",
			MainCause:         "No regional cause on record.",
			TopRisk:           riskFor(category),
			RecommendedAction: actionFor(category),
		}
		if trend != nil {
			card.Trend = title(trend.Diagnostic)
		}
		if hasCause {
			card.MainCause = cause
		}
		if len(contaminants) > 0 {
			card.TopRisk = contaminants[0] + " contamination"
		}
		reply.setVisual(VisualStatusCard, card)
	}

	reply.Text = b.String()
	if hasCause {
		reply.suggest(fmt.Sprintf("Why is %s stressed?", display))
	}
	if !isQualityQuestion(qc) {
		reply.suggest(fmt.Sprintf("Check water quality in %s", display))
	}
	if trend != nil && !isTrendQuestion(qc) {
		reply.suggest(fmt.Sprintf("Show %s trend", display))
	}
	reply.suggest("Tips for conservation")

	s.offerChart(ctx, []ChartPoint{{Name: display, Extraction: rec.Extraction}}, reply)
	return true
}

// trend returns the state series for rec, or nil.
func (s *Service) trend(ctx context.Context, rec *storage.Record) *storage.Trend {
	if rec.Level != storage.LevelState {
		return nil
	}
	t, err := s.deps.Dataset.Trend(ctx, rec.Name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.WithContext(ctx).Warn().Err(err).Str("state", rec.Name).Msg("trend lookup failed")
		}
		return nil
	}
	return t
}

func (s *Service) riskAlert(name string, contaminants []string) RiskAlert {
	alert := RiskAlert{Name: name, ContaminantList: contaminants}

	var risks, mitigations []string
	for _, c := range contaminants {
		if h, ok := s.deps.Knowledge.Hazard(c); ok {
			risks = append(risks, h.HealthRisk)
			mitigations = append(mitigations, h.Mitigation)
		}
	}
	alert.HealthRisk = strings.Join(risks, " ")
	alert.SuggestedMitigation = strings.Join(mitigations, " ")
	if alert.HealthRisk == "" {
		alert.HealthRisk = "Long-term exposure to these contaminants can harm health."
	}
	if alert.SuggestedMitigation == "" {
		alert.SuggestedMitigation = "Test water regularly and treat it before drinking."
	}
	return alert
}

func (s *Service) renderComparison(ctx context.Context, locations []retrieval.Candidate, reply *Reply) bool {
	var (
		bars   []ComparisonBar
		points []ChartPoint
	)
	for _, c := range locations {
		rec, err := s.deps.Dataset.Locate(ctx, c.Name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.lookupFailed(ctx, c.Name, err, reply)
			return false
		}
		name := title(rec.Name)
		bars = append(bars, ComparisonBar{Name: name, Category: categoryOf(rec), Extraction: rec.Extraction})
		points = append(points, ChartPoint{Name: name, Extraction: rec.Extraction})
	}
	if len(bars) == 0 {
		s.fallback(ctx, reply)
		return false
	}

	names := make([]string, len(bars))
	for i, bar := range bars {
		names[i] = bar.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Comparing groundwater extraction for %s:", joinNames(names))
	for _, bar := range bars {
		fmt.Fprintf(&b, "\n- **%s**: %s%% (%s)", bar.Name, pct(bar.Extraction), bar.Category)
	}
	reply.Text = b.String()
	reply.setVisual(VisualComparisonBars, bars)

	reply.suggest(
		fmt.Sprintf("Why is %s stressed?", names[0]),
		"What does over-exploited mean?",
		"Tips for conservation",
	)

	s.offerChart(ctx, points, reply)
	return true
}

func (s *Service) renderCause(ctx context.Context, key string, reply *Reply) bool {
	cause, ok := s.deps.Knowledge.Cause(key)
	if !ok {
		s.fallback(ctx, reply)
		return false
	}

	display := title(key)
	var b strings.Builder
	fmt.Fprintf(&b, "**Why is %s stressed?**\n\n%s", display, cause)
	if cs := s.deps.Knowledge.ContaminantsFor(key); len(cs) > 0 {
		fmt.Fprintf(&b, "\n\nKnown contaminants: %s.", strings.Join(cs, ", "))
	}
	reply.Text = b.String()

	reply.suggest(
		fmt.Sprintf("Check water quality in %s", display),
		fmt.Sprintf("Show %s trend", display),
		"Tips for farming",
	)
	return true
}

func (s *Service) renderConcept(ctx context.Context, key string, reply *Reply) bool {
	frags, ok := s.deps.Knowledge.Concept(key)
	if !ok {
		s.fallback(ctx, reply)
		return false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n\n%s", title(key), strings.Join(frags, " "))
	if layer, ok := s.deps.Knowledge.Layer(key); ok {
		for _, part := range []struct{ label, text string }{
			{"Why it matters", layer.Why},
			{"Impact", layer.Impact},
			{"What you can do", layer.Tip},
		} {
			if part.text != "" {
				fmt.Fprintf(&b, "\n\n**%s:** %s", part.label, part.text)
			}
		}
	}
	reply.Text = b.String()

	if s.deps.Images != nil {
		reply.ImageURL = s.deps.Images.Find(ctx, key)
	}

	for _, k := range neighbours(s.deps.Knowledge.ConceptKeys(), key, 2) {
		reply.suggest(fmt.Sprintf("What is %s?", k))
	}
	reply.suggest("Tips for conservation")
	return true
}

func (s *Service) renderTip(ctx context.Context, key string, reply *Reply) bool {
	tip, ok := s.deps.Knowledge.Tip(key)
	if !ok {
		s.fallback(ctx, reply)
		return false
	}
	reply.Text = tip

	for _, k := range neighbours(s.deps.Knowledge.TipKeys(), key, 2) {
		reply.suggest(fmt.Sprintf("Tips for %s", k))
	}
	reply.suggest("Compare Punjab and Bihar")
	return true
}

func categoryOf(rec *storage.Record) string {
	if rec.Category != "" {
		return rec.Category
	}
	return storage.CategoryFor(rec.Extraction)
}

func riskFor(category string) string {
	switch category {
	case "Over-Exploited":
		return "Aquifer depletion"
	case "Critical":
		return "Falling water table"
	case "Semi-Critical":
		return "Seasonal shortages"
	default:
		return "Low"
	}
}

func actionFor(category string) string {
	switch category {
	case "Over-Exploited":
		return "Regulate new borewells and shift to less water-intensive crops."
	case "Critical":
		return "Expand artificial recharge and adopt drip irrigation."
	case "Semi-Critical":
		return "Monitor extraction and promote rainwater harvesting."
	default:
		return "Maintain recharge structures and keep monitoring water quality."
	}
}

func pct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

// neighbours returns up to n keys following key in the sorted list, wrapping
// around and skipping key itself.
func neighbours(keys []string, key string, n int) []string {
	if len(keys) < 2 {
		return nil
	}
	i := sort.SearchStrings(keys, strings.ToLower(key))
	var out []string
	for step := 1; step < len(keys) && len(out) < n; step++ {
		k := keys[(i+step)%len(keys)]
		if k != strings.ToLower(key) {
			out = append(out, k)
		}
	}
	return out
}
