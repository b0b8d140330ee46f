package assistant

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingres-ai/ingres-assistant/internal/cache"
	"github.com/ingres-ai/ingres-assistant/internal/config"
	"github.com/ingres-ai/ingres-assistant/internal/index"
	"github.com/ingres-ai/ingres-assistant/internal/knowledge"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
	"github.com/ingres-ai/ingres-assistant/internal/query"
	"github.com/ingres-ai/ingres-assistant/internal/retrieval"
	"github.com/ingres-ai/ingres-assistant/internal/storage"
)

const testKnowledge = `
concepts:
  aquifer:
    - "An aquifer is an underground layer of water-bearing rock."
  recharge:
    - "Recharge is the process by which rainfall replenishes aquifers."
causes:
  punjab: "Paddy and wheat cultivation drive over-pumping."
  kerala: "Laterite soil has low storage."
tips:
  harvesting: "Collect rainwater from rooftops."
contaminants:
  punjab: ["Nitrate", "Arsenic"]
layers:
  aquifer:
    why: "Natural underground reservoir."
    impact: "Over-extraction causes subsidence."
    tip: "Protect recharge zones."
hazards:
  nitrate:
    health_risk: "Blue baby syndrome."
    mitigation: "Cut fertilizer use."
`

const testAssessments = `state,district,block,extraction,category
Punjab,Ludhiana,Doraha,160.5,Over-Exploited
Punjab,Amritsar,Ajnala,140.5,Over-Exploited
Bihar,Patna,Bihta,40,Safe
Kerala,Idukki,Adimali,,Safe
`

const testTrends = `State,2017,2020,2022
Punjab,165.9,164.4,157.7
`

// vocabEmbedder puts a 1 in the dimension of every vocabulary word present.
// Text without vocabulary words gets a zero vector.
type vocabEmbedder struct {
	vocab []string
}

func (e vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		words := retrieval.Words(t)
		v := make([]float32, len(e.vocab))
		for d, w := range e.vocab {
			if _, ok := words[w]; ok {
				v[d] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func (vocabEmbedder) Model() string { return "vocab-test" }

// fixedScorer returns the listed scores and NaN for anything else.
type fixedScorer map[string]float64

func (f fixedScorer) Score(_ context.Context, _ string, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, n := range names {
		s, ok := f[n]
		if !ok {
			s = math.NaN()
		}
		out[i] = s
	}
	return out, nil
}

type fakeNews struct{}

func (fakeNews) Latest(context.Context) []string { return []string{"first", "second"} }
func (fakeNews) Digest(context.Context) []string { return []string{"first", "second", "third"} }

type fakeImages map[string]string

func (f fakeImages) Find(_ context.Context, topic string) *string {
	if u, ok := f[topic]; ok {
		return &u
	}
	return nil
}

type brokenDataset struct{}

func (brokenDataset) Locate(context.Context, string) (*storage.Record, error) {
	return nil, errors.New("connection refused")
}

func (brokenDataset) Trend(context.Context, string) (*storage.Trend, error) {
	return nil, storage.ErrNotFound
}

type fixture struct {
	service *Service
	deps    Deps
}

func newFixture(t *testing.T, reranker retrieval.Reranker) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := observability.NopLogger()

	kb, err := knowledge.Parse([]byte(testKnowledge))
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = storage.ImportAssessments(ctx, db, strings.NewReader(testAssessments), storage.ImportOptions{})
	require.NoError(t, err)
	_, err = storage.ImportTrends(ctx, db, strings.NewReader(testTrends), storage.ImportOptions{})
	require.NoError(t, err)

	ds, err := storage.NewDataset(ctx, logger, db, config.DatabaseConfig{})
	require.NoError(t, err)
	locations, err := ds.DistinctLocations(ctx)
	require.NoError(t, err)

	emb := vocabEmbedder{vocab: []string{"punjab", "bihar", "kerala", "ludhiana", "aquifer", "recharge", "rainwater"}}
	store := index.NewStore(logger, emb, index.Config{SnapshotPath: filepath.Join(t.TempDir(), "indices.json")})
	require.NoError(t, store.Build(ctx, index.SourcesFrom(kb, locations)))

	searcher := retrieval.NewSearcher(logger, emb, store, retrieval.SearcherConfig{})
	router := retrieval.NewRouter(logger, query.DefaultPolicy(), searcher, reranker, retrieval.NewResolver(0.7), retrieval.RouterConfig{TopK: 5})

	mem := cache.NewMemoryClient(100)
	t.Cleanup(func() { mem.Close() })

	deps := Deps{
		Router:    router,
		Indices:   store,
		Knowledge: kb,
		Dataset:   ds,
		News:      fakeNews{},
		Images:    fakeImages{"aquifer": "https://img.test/aquifer.png"},
		Pending:   NewPendingCharts(mem, 0),
	}
	return &fixture{service: NewService(logger, deps), deps: deps}
}

func crossEncoder() retrieval.Reranker {
	return retrieval.NewCrossEncoderReranker(observability.NopLogger(), fixedScorer{
		"punjab": 0.95,
		"Punjab": 0.9,
		"Bihar":  0.9,
	})
}

func ask(f *fixture, session, msg string) Reply {
	return f.service.Ask(context.Background(), AskRequest{SessionID: session, Message: msg})
}

func TestAsk_WhyPunjab(t *testing.T) {
	f := newFixture(t, crossEncoder())

	qc := f.deps.Router.(*retrieval.Router).Prepare("why Punjab")
	assert.Equal(t, query.IntentWhy, qc.Intent)
	assert.Equal(t, []index.Category{index.Causes, index.Locations}, qc.Indices)

	res := f.deps.Router.Route(context.Background(), "why Punjab")
	require.NotNil(t, res.Resolution.Top)
	assert.Equal(t, "punjab", res.Resolution.Top.Name)
	assert.Equal(t, index.Causes, res.Resolution.Top.Index)

	reply := ask(f, "s1", "why Punjab")
	assert.Contains(t, reply.Text, "**Why is Punjab stressed?**")
	assert.Contains(t, reply.Text, "Paddy and wheat cultivation drive over-pumping.")
	assert.Contains(t, reply.Text, "Known contaminants: Nitrate, Arsenic.")
	assert.Empty(t, reply.ChartData)
	assert.Nil(t, reply.VisualType)
	assert.LessOrEqual(t, len(reply.Suggestions), 3)
}

func TestAsk_DefinitionAquifer(t *testing.T) {
	f := newFixture(t, crossEncoder())

	qc := f.deps.Router.(*retrieval.Router).Prepare("what is an aquifer")
	assert.Equal(t, query.IntentDefinition, qc.Intent)
	assert.Equal(t, []index.Category{index.Concepts}, qc.Indices)

	reply := ask(f, "s1", "what is an aquifer")
	assert.True(t, strings.HasPrefix(reply.Text, "**Aquifer**"))
	assert.Contains(t, reply.Text, "An aquifer is an underground layer of water-bearing rock.")
	assert.Contains(t, reply.Text, "**Why it matters:** Natural underground reservoir.")
	assert.Contains(t, reply.Text, "**What you can do:** Protect recharge zones.")
	require.NotNil(t, reply.ImageURL)
	assert.Equal(t, "https://img.test/aquifer.png", *reply.ImageURL)
	assert.Contains(t, reply.Suggestions, "What is recharge?")
}

func TestAsk_CompareThenChart(t *testing.T) {
	f := newFixture(t, crossEncoder())

	qc := f.deps.Router.(*retrieval.Router).Prepare("compare Punjab and Bihar")
	assert.Equal(t, query.IntentComparison, qc.Intent)
	assert.Equal(t, []index.Category{index.Locations}, qc.Indices)

	reply := ask(f, "s1", "compare Punjab and Bihar")
	assert.Contains(t, reply.Text, "Comparing groundwater extraction for Bihar and Punjab:")
	assert.Contains(t, reply.Text, "**Punjab**: 150.5% (Over-Exploited)")
	assert.Contains(t, reply.Text, "**Bihar**: 40% (Safe)")
	assert.True(t, strings.HasSuffix(reply.Text, "Would you like a chart?"))
	require.NotNil(t, reply.VisualType)
	assert.Equal(t, VisualComparisonBars, *reply.VisualType)
	assert.Len(t, reply.VisualData, 2)
	assert.Empty(t, reply.ChartData)

	chart := ask(f, "s1", "Yes!")
	assert.Equal(t, []ChartPoint{
		{Name: "Bihar", Extraction: 40},
		{Name: "Punjab", Extraction: 150.5},
	}, chart.ChartData)

	again := ask(f, "s1", "yes")
	assert.Empty(t, again.ChartData)
	assert.Equal(t, noPendingText, again.Text)
}

func TestAsk_UnrelatedFallsBackToNews(t *testing.T) {
	f := newFixture(t, crossEncoder())

	reply := ask(f, "s1", "Who won the world cup?")
	assert.Equal(t, fallbackHeading+"\n- first\n- second\n- third", reply.Text)
	assert.Empty(t, reply.ChartData)
	assert.Nil(t, reply.VisualType)
}

func TestAsk_YesWithoutPendingChart(t *testing.T) {
	f := newFixture(t, crossEncoder())

	reply := ask(f, "fresh", "yes")
	assert.Equal(t, noPendingText, reply.Text)
	assert.NotNil(t, reply.ChartData)
	assert.Empty(t, reply.ChartData)
}

func TestAsk_SingleLocation(t *testing.T) {
	f := newFixture(t, crossEncoder())

	tests := []struct {
		name   string
		msg    string
		visual string
		check  func(t *testing.T, r Reply)
	}{
		{
			name:   "status card",
			msg:    "Punjab",
			visual: VisualStatusCard,
			check: func(t *testing.T, r Reply) {
				assert.Contains(t, r.Text, "**Punjab** has a groundwater extraction of **150.5%** and is classified as **Over-Exploited**.")
				assert.Contains(t, r.Text, "average of 2 assessment units")
				card := r.VisualData.(StatusCard)
				assert.Equal(t, "Improving", card.Trend)
				assert.Equal(t, "Paddy and wheat cultivation drive over-pumping.", card.MainCause)
				assert.Equal(t, "Nitrate contamination", card.TopRisk)
				assert.Equal(t, actionFor("Over-Exploited"), card.RecommendedAction)
				assert.Equal(t, []string{"Why is Punjab stressed?", "Check water quality in Punjab", "Show Punjab trend"}, r.Suggestions)
			},
		},
		{
			name:   "water quality",
			msg:    "pollution in Punjab",
			visual: VisualRiskAlert,
			check: func(t *testing.T, r Reply) {
				alert := r.VisualData.(RiskAlert)
				assert.Equal(t, []string{"Nitrate", "Arsenic"}, alert.ContaminantList)
				assert.Equal(t, "Blue baby syndrome.", alert.HealthRisk)
				assert.Equal(t, "Cut fertilizer use.", alert.SuggestedMitigation)
			},
		},
		{
			name:   "trend",
			msg:    "show Punjab trend",
			visual: VisualTrendLine,
			check: func(t *testing.T, r Reply) {
				trend := r.VisualData.(storage.Trend)
				assert.Equal(t, "Punjab", trend.Name)
				assert.Equal(t, []string{"2017", "2020", "2022"}, trend.Labels)
				assert.Equal(t, "improving", trend.Diagnostic)
			},
		},
		{
			name:   "district",
			msg:    "Ludhiana",
			visual: VisualStatusCard,
			check: func(t *testing.T, r Reply) {
				card := r.VisualData.(StatusCard)
				assert.Equal(t, "Ludhiana", card.Name)
				assert.Equal(t, 160.5, card.Extraction)
				assert.Equal(t, "Not available", card.Trend)
				assert.Equal(t, "Aquifer depletion", card.TopRisk)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ask(f, tt.name, tt.msg)
			require.NotNil(t, r.VisualType)
			assert.Equal(t, tt.visual, *r.VisualType)
			assert.True(t, strings.HasSuffix(r.Text, chartOffer))
			tt.check(t, r)

			chart := ask(f, tt.name, "ok")
			require.Len(t, chart.ChartData, 1)
		})
	}
}

func TestAsk_Tip(t *testing.T) {
	f := newFixture(t, crossEncoder())

	reply := ask(f, "s1", "tips for rainwater harvesting")
	assert.Equal(t, "Collect rainwater from rooftops.", reply.Text)
}

func TestAsk_LocationWithoutDataFallsBack(t *testing.T) {
	f := newFixture(t, crossEncoder())

	reply := ask(f, "s1", "kerala")
	assert.True(t, strings.HasPrefix(reply.Text, fallbackHeading))
	assert.False(t, strings.Contains(reply.Text, uncertainPrefix))
}

func TestAsk_UncertainComparison(t *testing.T) {
	f := newFixture(t, nil)

	reply := ask(f, "s1", "compare Punjab and Bihar")
	assert.True(t, strings.HasPrefix(reply.Text, uncertainPrefix+"\n\nComparing"))
	require.NotNil(t, reply.VisualType)
	assert.Equal(t, VisualComparisonBars, *reply.VisualType)
}

func TestAsk_DatabaseError(t *testing.T) {
	f := newFixture(t, crossEncoder())
	f.deps.Dataset = brokenDataset{}
	svc := NewService(observability.NopLogger(), f.deps)

	reply := svc.Ask(context.Background(), AskRequest{SessionID: "s1", Message: "Punjab"})
	assert.Equal(t, "Database error: connection refused", reply.Text)
	assert.Empty(t, reply.ChartData)
}

func TestAsk_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t, crossEncoder())

	ask(f, "alice", "Punjab")

	bob := ask(f, "bob", "yes")
	assert.Equal(t, noPendingText, bob.Text)

	alice := ask(f, "alice", "yes")
	assert.Equal(t, []ChartPoint{{Name: "Punjab", Extraction: 150.5}}, alice.ChartData)
}

func TestAsk_DeclineClearsPending(t *testing.T) {
	f := newFixture(t, crossEncoder())

	ask(f, "s1", "Bihar")
	declined := ask(f, "s1", "No thanks")
	assert.Equal(t, declinedText, declined.Text)

	reply := ask(f, "s1", "yes")
	assert.Empty(t, reply.ChartData)
}

func TestAsk_FixedTexts(t *testing.T) {
	f := newFixture(t, crossEncoder())

	tests := []struct {
		msg  string
		want string
	}{
		{"What is INGRES?", identityText},
		{"who are you", identityText},
		{"How can you help?", capabilityText},
		{"what are your capabilities", capabilityText},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ask(f, "s1", tt.msg).Text)
		})
	}
}

func TestAsk_GeneratesSessionID(t *testing.T) {
	f := newFixture(t, crossEncoder())

	reply := ask(f, "", "who are you")
	_, err := uuid.Parse(reply.SessionID)
	assert.NoError(t, err)

	reply = ask(f, "given", "who are you")
	assert.Equal(t, "given", reply.SessionID)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, crossEncoder())
	ask(f, "s1", "Who won the world cup?")

	h := f.service.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "vocab-test", h.Model)
	assert.Equal(t, 2, h.Indices[index.Tips].Entities)
	assert.Equal(t, int64(1), h.Routing.Fallbacks)
	assert.Equal(t, []string{"first", "second"}, f.service.News(context.Background()))
}

func TestNeighbours(t *testing.T) {
	keys := []string{"aquifer", "recharge", "salinity"}
	assert.Equal(t, []string{"salinity", "aquifer"}, neighbours(keys, "recharge", 2))
	assert.Equal(t, []string{"recharge"}, neighbours(keys, "aquifer", 1))
	assert.Nil(t, neighbours([]string{"only"}, "only", 2))
}
