package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Embed(t *testing.T) {
	var gotPath, gotAuth, gotWait string
	var gotInputs []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotWait = r.Header.Get("X-Wait-For-Model")

		var req featureRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInputs = req.Inputs

		_, _ = w.Write([]byte(`[[0.1, 0.2], [0.3, 0.4]]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "org/model", APIToken: "hf_x"})
	vecs, err := c.Embed(context.Background(), []string{"punjab", "bihar"})
	require.NoError(t, err)

	assert.Equal(t, "/models/org/model/pipeline/feature-extraction", gotPath)
	assert.Equal(t, "Bearer hf_x", gotAuth)
	assert.Equal(t, "true", gotWait)
	assert.Equal(t, []string{"punjab", "bihar"}, gotInputs)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vecs)
}

func TestClient_Embed_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is loading"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	vecs, err := c.Embed(context.Background(), []string{"x"})
	assert.Nil(t, vecs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Model is loading")
}

func TestClient_Embed_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestFlattenVectors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want [][]float32
	}{
		{"flat single", `[0.5, 1.5]`, [][]float32{{0.5, 1.5}}},
		{"batch", `[[1, 2], [3, 4]]`, [][]float32{{1, 2}, {3, 4}}},
		{"extra nesting", `[[[1, 2]], [[3, 4]]]`, [][]float32{{1, 2}, {3, 4}}},
		{"empty", `[]`, nil},
		{"object", `{"error":"x"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			require.NoError(t, json.Unmarshal([]byte(tt.body), &raw))
			assert.Equal(t, tt.want, flattenVectors(raw))
		})
	}
}

type countingEmbedder struct {
	calls  int
	failOn int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls == e.failOn {
		return nil, errors.New("boom")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(e.calls)}
	}
	return out, nil
}

func (e *countingEmbedder) Model() string { return "counting" }

func TestEmbedBatch_KeepsPositionsOnFailure(t *testing.T) {
	e := &countingEmbedder{failOn: 2}
	texts := []string{"a", "b", "c", "d", "e"}

	type chunk struct {
		from, to int
		failed   bool
	}
	var chunks []chunk
	vecs, err := EmbedBatch(context.Background(), e, texts, 2, func(from, to int, err error) {
		chunks = append(chunks, chunk{from, to, err != nil})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch 2-4")

	require.Len(t, vecs, 5)
	assert.Equal(t, []float32{1}, vecs[0])
	assert.Equal(t, []float32{1}, vecs[1])
	assert.Nil(t, vecs[2])
	assert.Nil(t, vecs[3])
	assert.Equal(t, []float32{3}, vecs[4])
	assert.Equal(t, 3, e.calls)
	assert.Equal(t, []chunk{{0, 2, false}, {2, 4, true}, {4, 5, false}}, chunks)
}

func TestEmbedBatch_StopsOnCancel(t *testing.T) {
	e := &countingEmbedder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vecs, err := EmbedBatch(ctx, e, []string{"a", "b"}, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, vecs)
	assert.Zero(t, e.calls)
}

func TestEmbedBatch_RejectsShortResponse(t *testing.T) {
	short := NewMockClient(4)
	vecs, err := EmbedBatch(context.Background(), shortEmbedder{short}, []string{"a", "b"}, 2, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 vectors for 2 inputs")
	assert.Equal(t, [][]float32{nil, nil}, vecs)
}

// shortEmbedder drops the last vector of every batch.
type shortEmbedder struct{ inner *MockClient }

func (s shortEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.inner.Embed(ctx, texts)
	if err != nil || len(vecs) == 0 {
		return vecs, err
	}
	return vecs[:len(vecs)-1], nil
}

func (s shortEmbedder) Model() string { return s.inner.Model() }

func TestMockClient_Deterministic(t *testing.T) {
	m := NewMockClient(64)
	a, err := m.Embed(context.Background(), []string{"Punjab groundwater", "punjab groundwater"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])

	_, err = NewMockClient(8).FailWith(errors.New("down")).Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}
