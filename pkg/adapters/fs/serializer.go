package fs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lignum/dpp/pkg/core"
)

// Serializer defines how to read and write a specific file format.
type Serializer interface {
	// Parse decodes a passport document.
	Parse(data []byte) (core.Document, error)
	// Serialize encodes a passport document.
	Serialize(doc core.Document) ([]byte, error)
}

// DefaultSerializers returns the standard set of serializers keyed by file
// extension.
func DefaultSerializers() map[string]Serializer {
	return map[string]Serializer{
		".jsonld": JSONSerializer{},
		".json":   JSONSerializer{},
		".yaml":   YAMLSerializer{},
		".yml":    YAMLSerializer{},
	}
}

// --- JSON Serializer ---

// JSONSerializer handles JSON and JSON-LD files. Numbers are kept as
// json.Number.
type JSONSerializer struct{}

func (JSONSerializer) Parse(data []byte) (core.Document, error) {
	return core.ParseDocument(data)
}

func (JSONSerializer) Serialize(doc core.Document) ([]byte, error) {
	data, err := doc.MarshalIndented()
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// --- YAML Serializer ---

// YAMLSerializer handles YAML files. Parsed values are normalized through
// JSON so a YAML passport looks exactly like its JSON-LD counterpart.
type YAMLSerializer struct{}

func (YAMLSerializer) Parse(data []byte) (core.Document, error) {
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid yaml: %v", core.ErrInvalidDocument, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: empty yaml document", core.ErrInvalidDocument)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: yaml is not representable as json: %v", core.ErrInvalidDocument, err)
	}
	return core.ParseDocument(raw)
}

func (YAMLSerializer) Serialize(doc core.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yamlValue(map[string]any(doc))); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// yamlValue rewrites json.Number leaves as numeric YAML scalars; encoding
// them as plain strings would quote them and change their type on re-read.
func yamlValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, item := range v {
			m[k] = yamlValue(item)
		}
		return m
	case []any:
		l := make([]any, len(v))
		for i, item := range v {
			l[i] = yamlValue(item)
		}
		return l
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(v.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: v.String()}
	default:
		return v
	}
}
