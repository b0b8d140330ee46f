package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockClient produces deterministic bag-of-words vectors. Texts sharing words
// get positive cosine similarity, which is enough for offline runs and tests.
type MockClient struct {
	dimension int
	model     string
	fail      error
}

// NewMockClient creates a mock client of the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 384
	}
	return &MockClient{dimension: dimension, model: "mock-embedding-model"}
}

// WithModel overrides the reported model id.
func (c *MockClient) WithModel(model string) *MockClient {
	c.model = model
	return c
}

// FailWith makes every Embed call return err.
func (c *MockClient) FailWith(err error) *MockClient {
	c.fail = err
	return c
}

func (c *MockClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = c.vector(text)
	}
	return out, nil
}

func (c *MockClient) Model() string {
	return c.model
}

func (c *MockClient) vector(text string) []float32 {
	v := make([]float32, c.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(c.dimension)]++
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

var _ Embedder = (*MockClient)(nil)
