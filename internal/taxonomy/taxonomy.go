// Package taxonomy loads the versioned reasoning-node to metric document and
// exposes it as an immutable many-to-many adjacency.
package taxonomy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	contextutils "skillmodel/internal/utils"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.schema.json
var schemaJSON []byte

var documentSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("taxonomy: invalid embedded schema: %v", err))
	}
	documentSchema = schema
}

// Document is the on-disk taxonomy format. YAML and JSON are both accepted.
type Document struct {
	Version     string           `json:"version" yaml:"version"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Metrics     []MetricDocument `json:"metrics" yaml:"metrics"`
}

// MetricDocument is one metric and the reasoning nodes that back it
type MetricDocument struct {
	ID    string   `json:"id" yaml:"id"`
	Name  string   `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []string `json:"nodes" yaml:"nodes"`
}

// Metric is a named skill category
type Metric struct {
	ID   string
	Name string
}

// Map is the immutable node<->metric adjacency. Safe for concurrent reads.
type Map struct {
	version       string
	metrics       []Metric
	nodeToMetrics map[string][]string
	metricToNodes map[string][]string
}

// Load reads, validates and builds a taxonomy from path
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contextutils.NewAppErrorWithCause(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, fmt.Sprintf("failed to read taxonomy %s", path), err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to load taxonomy %s", path)
	}
	return m, nil
}

// Parse validates raw YAML or JSON against the taxonomy schema and builds the Map
func Parse(data []byte) (*Map, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, contextutils.NewAppErrorWithCause(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, "document is not valid YAML or JSON", err)
	}

	// Round-trip through JSON so the schema sees plain JSON types
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, contextutils.NewAppErrorWithCause(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, "document cannot be represented as JSON", err)
	}

	if err := Validate(jsonData); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, contextutils.NewAppErrorWithCause(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, "document does not match the taxonomy layout", err)
	}

	return New(doc)
}

// Validate checks JSON taxonomy bytes against the embedded schema
func Validate(jsonData []byte) error {
	result, err := documentSchema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return contextutils.NewAppErrorWithCause(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, "schema validation error", err)
	}

	if !result.Valid() {
		var validationErrors []string
		for _, validationErr := range result.Errors() {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: %s", validationErr.Field(), validationErr.Description()))
		}
		return contextutils.NewAppError(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, strings.Join(validationErrors, "; "))
	}

	return nil
}

// New builds a Map from an already decoded document. Duplicate metric ids are rejected;
// duplicate nodes within a metric are collapsed.
func New(doc Document) (*Map, error) {
	if strings.TrimSpace(doc.Version) == "" {
		return nil, contextutils.NewAppError(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
			contextutils.ErrTaxonomyInvalid.Message, "version is required")
	}

	m := &Map{
		version:       doc.Version,
		metrics:       make([]Metric, 0, len(doc.Metrics)),
		nodeToMetrics: make(map[string][]string),
		metricToNodes: make(map[string][]string, len(doc.Metrics)),
	}

	for _, md := range doc.Metrics {
		if _, dup := m.metricToNodes[md.ID]; dup {
			return nil, contextutils.NewAppError(contextutils.ErrorCodeTaxonomyInvalid, contextutils.SeverityError,
				contextutils.ErrTaxonomyInvalid.Message, fmt.Sprintf("duplicate metric id %q", md.ID))
		}

		name := md.Name
		if name == "" {
			name = md.ID
		}
		m.metrics = append(m.metrics, Metric{ID: md.ID, Name: name})

		nodes := dedupeSorted(md.Nodes)
		m.metricToNodes[md.ID] = nodes
		for _, node := range nodes {
			m.nodeToMetrics[node] = append(m.nodeToMetrics[node], md.ID)
		}
	}

	for node, metrics := range m.nodeToMetrics {
		sort.Strings(metrics)
		m.nodeToMetrics[node] = metrics
	}
	sort.Slice(m.metrics, func(i, j int) bool { return m.metrics[i].ID < m.metrics[j].ID })

	return m, nil
}

// Version returns the document version the map was built from
func (m *Map) Version() string {
	if m == nil {
		return ""
	}
	return m.version
}

// MetricsForNode returns the sorted metric ids backed by node. The slice must not be modified.
func (m *Map) MetricsForNode(node string) []string {
	if m == nil {
		return nil
	}
	return m.nodeToMetrics[node]
}

// NodesForMetric returns a copy of the sorted node ids backing metric
func (m *Map) NodesForMetric(metric string) []string {
	if m == nil {
		return nil
	}
	nodes := m.metricToNodes[metric]
	out := make([]string, len(nodes))
	copy(out, nodes)
	return out
}

// Metrics returns a copy of all metrics ordered by id
func (m *Map) Metrics() []Metric {
	if m == nil {
		return nil
	}
	out := make([]Metric, len(m.metrics))
	copy(out, m.metrics)
	return out
}

// NodeCount returns the number of distinct reasoning nodes mapped to at least one metric
func (m *Map) NodeCount() int {
	if m == nil {
		return 0
	}
	return len(m.nodeToMetrics)
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
