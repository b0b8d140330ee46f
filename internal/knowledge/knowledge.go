// Package knowledge holds the static groundwater tables: concept definitions,
// regional stress causes, conservation tips, contaminant records and the
// layered why/impact/tip notes shown with some concepts.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/knowledge.yaml
var defaultTables []byte

// Layer is the extra context attached to a handful of core concepts.
type Layer struct {
	Why    string `yaml:"why" json:"why"`
	Impact string `yaml:"impact" json:"impact"`
	Tip    string `yaml:"tip" json:"tip"`
}

// Hazard describes what a contaminant does and how to mitigate it.
type Hazard struct {
	HealthRisk string `yaml:"health_risk" json:"healthRisk"`
	Mitigation string `yaml:"mitigation" json:"mitigation"`
}

// Base is the parsed, read-only knowledge store.
type Base struct {
	Concepts     map[string][]string `yaml:"concepts"`
	Causes       map[string]string   `yaml:"causes"`
	Tips         map[string]string   `yaml:"tips"`
	Contaminants map[string][]string `yaml:"contaminants"`
	Layers       map[string]Layer    `yaml:"layers"`
	Hazards      map[string]Hazard   `yaml:"hazards"`
}

// Default returns the tables compiled into the binary.
func Default() (*Base, error) {
	return Parse(defaultTables)
}

// Load reads tables from path, or the embedded defaults when path is empty.
func Load(path string) (*Base, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML tables and lowercases every key.
func Parse(data []byte) (*Base, error) {
	var b Base
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse knowledge tables: %w", err)
	}

	b.Concepts = lowerKeys(b.Concepts)
	b.Causes = lowerKeys(b.Causes)
	b.Tips = lowerKeys(b.Tips)
	b.Contaminants = lowerKeys(b.Contaminants)
	b.Layers = lowerKeys(b.Layers)
	b.Hazards = lowerKeys(b.Hazards)

	if len(b.Concepts) == 0 {
		return nil, fmt.Errorf("parse knowledge tables: no concepts defined")
	}
	return &b, nil
}

func lowerKeys[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Concept returns the definition fragments stored for term.
func (b *Base) Concept(term string) ([]string, bool) {
	v, ok := b.Concepts[key(term)]
	return v, ok
}

// Cause returns the stress explanation for a region.
func (b *Base) Cause(region string) (string, bool) {
	v, ok := b.Causes[key(region)]
	return v, ok
}

// Tip returns the tip text for a topic.
func (b *Base) Tip(topic string) (string, bool) {
	v, ok := b.Tips[key(topic)]
	return v, ok
}

// ContaminantsFor returns the known contaminants for a region.
func (b *Base) ContaminantsFor(region string) []string {
	return b.Contaminants[key(region)]
}

// Layer returns layered notes for a concept.
func (b *Base) Layer(term string) (Layer, bool) {
	v, ok := b.Layers[key(term)]
	return v, ok
}

// Hazard returns the health profile of a contaminant.
func (b *Base) Hazard(contaminant string) (Hazard, bool) {
	v, ok := b.Hazards[key(contaminant)]
	return v, ok
}

// ConceptKeys returns concept keys in sorted order.
func (b *Base) ConceptKeys() []string { return sortedKeys(b.Concepts) }

// CauseKeys returns cause keys in sorted order.
func (b *Base) CauseKeys() []string { return sortedKeys(b.Causes) }

// TipKeys returns tip keys in sorted order.
func (b *Base) TipKeys() []string { return sortedKeys(b.Tips) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
