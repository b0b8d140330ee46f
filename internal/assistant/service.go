// Package assistant turns routed questions into chat replies: dataset
// lookups, canned knowledge, visuals, suggestions and the per-session chart
// offered after a data answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ingres-ai/ingres-assistant/internal/imagery"
	"github.com/ingres-ai/ingres-assistant/internal/index"
	"github.com/ingres-ai/ingres-assistant/internal/knowledge"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
	"github.com/ingres-ai/ingres-assistant/internal/query"
	"github.com/ingres-ai/ingres-assistant/internal/retrieval"
	"github.com/ingres-ai/ingres-assistant/internal/storage"
)

// Dataset answers extraction questions about places.
type Dataset interface {
	Locate(ctx context.Context, name string) (*storage.Record, error)
	Trend(ctx context.Context, state string) (*storage.Trend, error)
}

// Headlines supplies the news digest.
type Headlines interface {
	Latest(ctx context.Context) []string
	Digest(ctx context.Context) []string
}

// Router resolves a question to an entity.
type Router interface {
	Route(ctx context.Context, raw string) retrieval.Result
	Stats() retrieval.RouterStats
}

// Indices exposes the index store to the assistant.
type Indices interface {
	Owner(cat index.Category, entity string) string
	Stats() map[index.Category]index.Stats
	Ready() bool
	Model() string
}

// Deps are the collaborators of a Service. Images may be nil.
type Deps struct {
	Router    Router
	Indices   Indices
	Knowledge *knowledge.Base
	Dataset   Dataset
	News      Headlines
	Images    imagery.Finder
	Pending   *PendingCharts
}

// Service answers chat turns.
type Service struct {
	logger *observability.Logger
	deps   Deps
}

// NewService creates a new assistant service.
func NewService(logger *observability.Logger, deps Deps) *Service {
	return &Service{
		logger: logger.WithOperation("assistant"),
		deps:   deps,
	}
}

// Health is the readiness summary served by the health endpoints.
type Health struct {
	Status  string                         `json:"status"`
	Model   string                         `json:"model"`
	Indices map[index.Category]index.Stats `json:"indices"`
	Routing retrieval.RouterStats          `json:"routing"`
}

// Health reports index state and routing counters.
func (s *Service) Health() Health {
	h := Health{
		Status:  "ok",
		Model:   s.deps.Indices.Model(),
		Indices: s.deps.Indices.Stats(),
		Routing: s.deps.Router.Stats(),
	}
	if !s.deps.Indices.Ready() {
		h.Status = "degraded"
	}
	return h
}

// News returns up to three headlines.
func (s *Service) News(ctx context.Context) []string {
	return s.deps.News.Latest(ctx)
}

// Ask answers one chat turn. It never fails; problems become reply text.
func (s *Service) Ask(ctx context.Context, req AskRequest) Reply {
	session := strings.TrimSpace(req.SessionID)
	if session == "" {
		session = uuid.NewString()
	}
	ctx = observability.ContextWithSessionID(ctx, session)

	reply := Reply{
		SessionID:   session,
		ChartData:   []ChartPoint{},
		Suggestions: []string{},
	}

	msg := clean(req.Message)
	switch {
	case msg == "":
		reply.Text = capabilityText
		reply.suggest("Compare Punjab and Bihar", "Why is Rajasthan stressed?", "Check water quality in Rajasthan")
	case containsAny(msg, identityTriggers):
		reply.Text = identityText
		reply.suggest("How can you help?", "Compare Punjab and Bihar", "What is groundwater?")
	case containsAny(msg, capabilityTriggers):
		reply.Text = capabilityText
		reply.suggest("Compare Punjab and Bihar", "Why is Rajasthan stressed?", "Tips for conservation")
	case affirmatives[msg]:
		s.chartFollowUp(ctx, &reply)
	case negatives[msg]:
		if err := s.deps.Pending.Clear(ctx, session); err != nil {
			s.logger.WithContext(ctx).Warn().Err(err).Msg("clear pending chart failed")
		}
		reply.Text = declinedText
		reply.suggest("Compare Punjab and Bihar", "What is an aquifer?")
	default:
		s.answer(ctx, req.Message, &reply)
	}

	return reply
}

func (s *Service) chartFollowUp(ctx context.Context, reply *Reply) {
	points, err := s.deps.Pending.Take(ctx, reply.SessionID)
	if err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("read pending chart failed")
	}
	if len(points) == 0 {
		reply.Text = noPendingText
		reply.suggest("Compare Punjab and Bihar", "Show Punjab trend")
		return
	}
	reply.Text = chartReadyText
	reply.ChartData = points
}

func (s *Service) answer(ctx context.Context, message string, reply *Reply) {
	res := s.deps.Router.Route(ctx, message)
	resolution := res.Resolution

	if resolution.Decision == retrieval.DecisionFallback || resolution.Top == nil {
		s.fallback(ctx, reply)
		return
	}

	top := *resolution.Top
	var ok bool
	switch top.Index {
	case index.Locations:
		if resolution.Comparison() {
			ok = s.renderComparison(ctx, resolution.Locations, reply)
		} else {
			ok = s.renderLocation(ctx, res.Query, top.Name, reply)
		}
	case index.Causes:
		ok = s.renderCause(ctx, s.deps.Indices.Owner(index.Causes, top.Name), reply)
	case index.Concepts:
		ok = s.renderConcept(ctx, s.deps.Indices.Owner(index.Concepts, top.Name), reply)
	case index.Tips:
		ok = s.renderTip(ctx, s.deps.Indices.Owner(index.Tips, top.Name), reply)
	}
	if !ok {
		return
	}

	if resolution.Decision == retrieval.DecisionUncertain {
		reply.Text = uncertainPrefix + "\n\n" + reply.Text
	}
}

// fallback replaces the reply with the news digest.
func (s *Service) fallback(ctx context.Context, reply *Reply) {
	headlines := s.deps.News.Digest(ctx)

	var b strings.Builder
	b.WriteString(fallbackHeading)
	for _, h := range headlines {
		b.WriteString("\n- ")
		b.WriteString(h)
	}

	reply.Text = b.String()
	reply.ChartData = []ChartPoint{}
	reply.VisualType, reply.VisualData = nil, nil
	reply.Suggestions = reply.Suggestions[:0]
	reply.suggest("What is INGRES?", "Compare Punjab and Haryana", "Tips for conservation")
}

// lookupFailed turns a dataset error into the digest or the database error
// text.
func (s *Service) lookupFailed(ctx context.Context, name string, err error, reply *Reply) {
	if errors.Is(err, storage.ErrNotFound) {
		s.fallback(ctx, reply)
		return
	}
	s.logger.WithContext(ctx).Error().Err(err).Str("location", name).Msg("dataset lookup failed")
	reply.Text = fmt.Sprintf("Database error: %v", err)
	reply.ChartData = []ChartPoint{}
}

func (s *Service) offerChart(ctx context.Context, points []ChartPoint, reply *Reply) {
	if err := s.deps.Pending.Put(ctx, reply.SessionID, points); err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).Msg("store pending chart failed")
		return
	}
	reply.Text += "\n\n" + chartOffer
}

func isQualityQuestion(qc retrieval.QueryContext) bool {
	return containsAny(qc.Normalized, qualityTerms)
}

func isTrendQuestion(qc retrieval.QueryContext) bool {
	return qc.Intent == query.IntentVisualization
}

// title capitalizes each word. Casers are not safe for concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(strings.TrimSpace(s))
}
