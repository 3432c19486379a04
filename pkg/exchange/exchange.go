// Package exchange reads and writes flows in the editor's portable
// document format, as JSON or YAML.
package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/nurture/pkg/models"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported exchange format")
	ErrInvalidDocument   = errors.New("invalid exchange document")
)

// Document is the portable form of a flow graph.
type Document struct {
	Name  string        `json:"name"  yaml:"name"`
	Nodes []models.Node `json:"nodes" yaml:"nodes"`
	Edges []models.Edge `json:"edges" yaml:"edges"`
}

const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "nodes", "edges"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["trigger", "email", "delay", "condition"]},
					"config": {"type": ["object", "null"]}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["source", "target"],
				"properties": {
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1},
					"handle": {"type": "string", "enum": ["", "yes", "no"]}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ParseFormat maps a query value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// DetectFormat guesses the encoding of data.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}

	return FormatYAML
}

// FromDefinition exports a published flow version.
func FromDefinition(def *models.FlowDefinition) *Document {
	g := def.Graph.Clone()

	return &Document{Name: def.Name, Nodes: g.Nodes, Edges: g.Edges}
}

// FromDraft exports a draft under the given name.
func FromDraft(name string, draft *models.Draft) *Document {
	g := draft.Graph.Clone()

	return &Document{Name: name, Nodes: g.Nodes, Edges: g.Edges}
}

// Graph returns the document's graph.
func (d *Document) Graph() models.Graph {
	return models.Graph{Nodes: d.Nodes, Edges: d.Edges}
}

// Encode writes doc in the given format.
func Encode(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}

		return data, nil
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}

		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Decode parses and schema-checks a document. Graph rules are not checked
// here; callers run graph validation on the result.
func Decode(data []byte, format Format) (*Document, error) {
	var raw any

	switch format {
	case FormatJSON:
		err := json.Unmarshal(data, &raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
	case FormatYAML:
		err := yaml.Unmarshal(data, &raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	err := validateSchema(raw)
	if err != nil {
		return nil, err
	}

	// Re-encode the checked tree so both formats share one decoder.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	var doc Document

	err = json.Unmarshal(normalized, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &doc, nil
}

func validateSchema(raw any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
	}

	return nil
}

// RegenerateIDs gives every node a fresh id and rewires the edges. Edges
// pointing at unknown nodes keep their ids so validation still reports them.
func RegenerateIDs(doc *Document) *Document {
	ids := make(map[string]string, len(doc.Nodes))
	out := &Document{
		Name:  doc.Name,
		Nodes: make([]models.Node, len(doc.Nodes)),
		Edges: make([]models.Edge, len(doc.Edges)),
	}

	for i, n := range doc.Nodes {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}

		if _, seen := ids[n.ID]; !seen {
			ids[n.ID] = id.String()
		}

		out.Nodes[i] = models.Node{ID: id.String(), Type: n.Type, Config: n.Config}
	}

	for i, e := range doc.Edges {
		out.Edges[i] = models.Edge{Source: remap(ids, e.Source), Target: remap(ids, e.Target), Handle: e.Handle}
	}

	return out
}

func remap(ids map[string]string, id string) string {
	if mapped, ok := ids[id]; ok {
		return mapped
	}

	return id
}
