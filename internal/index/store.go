// Package index builds, persists and serves the four semantic indices the
// retriever searches: locations, concepts, causes and tips.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ingres-ai/ingres-assistant/internal/embedding"
	"github.com/ingres-ai/ingres-assistant/internal/knowledge"
	"github.com/ingres-ai/ingres-assistant/internal/observability"
)

var (
	// ErrNoSnapshot means no persisted store exists at the configured path.
	ErrNoSnapshot = errors.New("index snapshot not found")
	// ErrModelMismatch means the snapshot was embedded with a different model.
	ErrModelMismatch = errors.New("index snapshot built with a different embedding model")
	// ErrCorruptSnapshot means the snapshot could not be decoded or is inconsistent.
	ErrCorruptSnapshot = errors.New("index snapshot is corrupt")
)

// Category names one independent index namespace.
type Category string

const (
	Locations Category = "locations"
	Concepts  Category = "concepts"
	Causes    Category = "causes"
	Tips      Category = "tips"
)

// Categories lists every category in a fixed order.
var Categories = []Category{Locations, Concepts, Causes, Tips}

// Index holds parallel entity and embedding slices. Entities are unique.
// A nil embedding means the entity could not be embedded.
type Index struct {
	Entities   []string    `json:"entities"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Len returns the number of entities.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.Entities)
}

// Sources is the raw material for a build.
type Sources struct {
	Locations []string
	Concepts  map[string][]string
	Causes    map[string]string
	Tips      map[string]string
}

// SourcesFrom combines dataset place names with the knowledge tables.
func SourcesFrom(kb *knowledge.Base, locations []string) Sources {
	return Sources{
		Locations: locations,
		Concepts:  kb.Concepts,
		Causes:    kb.Causes,
		Tips:      kb.Tips,
	}
}

// Stats summarizes one index.
type Stats struct {
	Entities int `json:"entities"`
	Embedded int `json:"embedded"`
}

// ProgressFunc is told how many entities of a category have been embedded.
type ProgressFunc func(cat Category, done, total int)

// Config holds store configuration.
type Config struct {
	SnapshotPath string
	BatchSize    int
}

// Store owns the four indices and the fragment-to-key owner map.
type Store struct {
	logger    *observability.Logger
	embedder  embedding.Embedder
	path      string
	batchSize int
	progress  ProgressFunc

	mu      sync.RWMutex
	indices map[Category]*Index
	owners  map[Category]map[string]string
	model   string
	builtAt time.Time
}

// NewStore creates an empty store.
func NewStore(logger *observability.Logger, embedder embedding.Embedder, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Store{
		logger:    logger.WithOperation("index"),
		embedder:  embedder,
		path:      cfg.SnapshotPath,
		batchSize: cfg.BatchSize,
		indices:   make(map[Category]*Index),
		owners:    make(map[Category]map[string]string),
	}
}

// OnProgress registers a build progress callback.
func (s *Store) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// Build embeds every category from src and persists the result.
func (s *Store) Build(ctx context.Context, src Sources) error {
	entities, owners := collect(src)

	indices := make(map[Category]*Index, len(Categories))
	for _, cat := range Categories {
		ix, err := s.embedCategory(ctx, cat, entities[cat])
		if err != nil {
			return err
		}
		indices[cat] = ix
	}

	s.mu.Lock()
	s.indices = indices
	s.owners = owners
	s.model = s.embedder.Model()
	s.builtAt = time.Now().UTC()
	s.mu.Unlock()

	return s.Save()
}

func (s *Store) embedCategory(ctx context.Context, cat Category, entities []string) (*Index, error) {
	start := time.Now()

	// Chunk failures are logged by the callback; only cancellation aborts.
	vectors, _ := embedding.EmbedBatch(ctx, s.embedder, entities, s.batchSize, func(from, to int, err error) {
		if err != nil {
			s.logger.Warn().Err(err).Str("category", string(cat)).Int("from", from).Int("to", to).
				Msg("embedding batch failed, entities kept without vectors")
		}
		if s.progress != nil {
			s.progress(cat, to, len(entities))
		}
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("build %s: %w", cat, ctxErr)
	}
	if vectors == nil {
		vectors = make([][]float32, len(entities))
	}

	dropMismatchedDims(vectors)

	ix := &Index{Entities: entities, Embeddings: vectors}
	s.logger.Info().
		Str("category", string(cat)).
		Int("entities", len(entities)).
		Int("embedded", countEmbedded(ix)).
		Dur("elapsed", time.Since(start)).
		Msg("index built")

	return ix, nil
}

// collect gathers the deduplicated, sorted entity universe of each category
// and records which key each text fragment belongs to.
func collect(src Sources) (map[Category][]string, map[Category]map[string]string) {
	entities := make(map[Category][]string, len(Categories))
	owners := make(map[Category]map[string]string, len(Categories))

	entities[Locations] = uniqueSorted(src.Locations)

	conceptOwners := make(map[string]string)
	var concepts []string
	for k, frags := range src.Concepts {
		concepts = append(concepts, k)
		claim(conceptOwners, k, k)
		for _, f := range frags {
			concepts = append(concepts, f)
			claim(conceptOwners, f, k)
		}
	}
	entities[Concepts] = uniqueSorted(concepts)
	owners[Concepts] = conceptOwners

	entities[Causes], owners[Causes] = keyedText(src.Causes)
	entities[Tips], owners[Tips] = keyedText(src.Tips)

	return entities, owners
}

func keyedText(m map[string]string) ([]string, map[string]string) {
	owners := make(map[string]string, 2*len(m))
	items := make([]string, 0, 2*len(m))
	for k, v := range m {
		items = append(items, k, v)
		claim(owners, k, k)
		claim(owners, v, k)
	}
	return uniqueSorted(items), owners
}

// claim records the owner of text. A key always owns itself; when two keys
// share a fragment the alphabetically first keeps it so builds are stable.
func claim(owners map[string]string, text, key string) {
	text = strings.TrimSpace(text)
	if text != key {
		if prev, ok := owners[text]; ok && (prev == text || prev < key) {
			return
		}
	}
	owners[text] = key
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// dropMismatchedDims clears vectors whose length differs from the first
// non-empty vector.
func dropMismatchedDims(vectors [][]float32) {
	dim := 0
	for _, v := range vectors {
		if len(v) > 0 {
			dim = len(v)
			break
		}
	}
	for i, v := range vectors {
		if len(v) != 0 && len(v) != dim {
			vectors[i] = nil
		}
	}
}

func countEmbedded(ix *Index) int {
	n := 0
	for _, v := range ix.Embeddings {
		if len(v) > 0 {
			n++
		}
	}
	return n
}

// Index returns the index for cat, or nil when it was never built.
// The returned index must not be modified.
func (s *Store) Index(cat Category) *Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indices[cat]
}

// Owner maps an entity to the knowledge key it came from. Keys and location
// names map to themselves.
func (s *Store) Owner(cat Category, entity string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.owners[cat][entity]; ok {
		return key
	}
	return entity
}

// Model returns the embedding model id the indices were built with.
func (s *Store) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// BuiltAt returns when the indices were built.
func (s *Store) BuiltAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builtAt
}

// Stats returns per-category counts.
func (s *Store) Stats() map[Category]Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Category]Stats, len(Categories))
	for _, cat := range Categories {
		ix := s.indices[cat]
		if ix == nil {
			out[cat] = Stats{}
			continue
		}
		out[cat] = Stats{Entities: ix.Len(), Embedded: countEmbedded(ix)}
	}
	return out
}

// Ready reports whether at least one category holds entities.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ix := range s.indices {
		if ix.Len() > 0 {
			return true
		}
	}
	return false
}

type snapshot struct {
	Model   string                         `json:"model"`
	BuiltAt time.Time                      `json:"built_at"`
	Indices map[Category]*Index            `json:"indices"`
	Owners  map[Category]map[string]string `json:"owners,omitempty"`
}

// Save writes the store to the snapshot path atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	snap := snapshot{Model: s.model, BuiltAt: s.builtAt, Indices: s.indices, Owners: s.owners}
	data, err := json.Marshal(snap)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("bytes", len(data)).Msg("snapshot saved")
	return nil
}

// Load reads the snapshot. It fails with ErrModelMismatch when the snapshot
// was embedded with a model other than the configured one.
func (s *Store) Load() error {
	if s.path == "" {
		return ErrNoSnapshot
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoSnapshot
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if snap.Model != s.embedder.Model() {
		return fmt.Errorf("%w: snapshot %q, configured %q", ErrModelMismatch, snap.Model, s.embedder.Model())
	}

	for cat, ix := range snap.Indices {
		if ix == nil {
			delete(snap.Indices, cat)
			continue
		}
		if len(ix.Entities) != len(ix.Embeddings) {
			return fmt.Errorf("%w: %s has %d entities and %d embeddings",
				ErrCorruptSnapshot, cat, len(ix.Entities), len(ix.Embeddings))
		}
	}
	if snap.Owners == nil {
		snap.Owners = make(map[Category]map[string]string)
	}

	s.mu.Lock()
	s.indices = snap.Indices
	s.owners = snap.Owners
	s.model = snap.Model
	s.builtAt = snap.BuiltAt
	s.mu.Unlock()

	s.logger.Info().Str("path", s.path).Str("model", snap.Model).Msg("snapshot loaded")
	return nil
}

// EnsureLoaded loads the snapshot and rebuilds from src when it is missing,
// stale or unreadable, or when force is set. It reports whether a build ran.
func (s *Store) EnsureLoaded(ctx context.Context, src Sources, force bool) (bool, error) {
	if !force {
		err := s.Load()
		if err == nil {
			return false, nil
		}
		s.logger.Info().Err(err).Msg("rebuilding indices")
	}

	if err := s.Build(ctx, src); err != nil {
		return true, err
	}
	return true, nil
}
