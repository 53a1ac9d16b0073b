// Package core holds the Digital Product Passport domain: the document tree,
// its change records, identifier normalization and merge-patch semantics.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// JSON-LD terms used by the store. Everything else in a document is opaque.
const (
	KeyID                 = "id"
	KeyContext            = "@context"
	KeyStatus             = "dpp:status"
	KeyProductIdentifiers = "dpp:productIdentifiers"
	KeyScheme             = "dpp:scheme"
	KeyValue              = "dpp:value"
	KeyEconomicOperator   = "dpp:economicOperator"
	KeyEconomicOperatorID = "dpp:economicOperatorId"
	KeyCreated            = "dcterms:created"
	KeyModified           = "dcterms:modified"
	KeyChangeLog          = "dpp:changeLog"
	KeyRegistry           = "dpp:registry"
	KeyCollections        = "dpp:dataElementCollections"
	KeyElements           = "dpp:elements"

	// Unprefixed spellings accepted on read.
	keyPlainProductIdentifiers = "productIdentifiers"
	keyPlainScheme             = "scheme"
	keyPlainValue              = "value"
	keyPlainEconomicOperatorID = "economicOperatorId"
)

// Lifecycle values for dpp:status.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

// Document is a DPP JSON-LD tree. Values are string, json.Number, bool, nil,
// map[string]any or []any. Member order is not significant in JSON-LD and is
// not kept; serialization writes keys sorted.
type Document map[string]any

// ProductIdentifier is one {scheme, value} pair of dpp:productIdentifiers.
type ProductIdentifier struct {
	Scheme string `json:"dpp:scheme" validate:"required"`
	Value  string `json:"dpp:value" validate:"required"`
}

// UnmarshalJSON accepts both the dpp: prefixed and the plain member names.
func (p *ProductIdentifier) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Scheme = firstString(raw, KeyScheme, keyPlainScheme)
	p.Value = firstString(raw, KeyValue, keyPlainValue)
	return nil
}

// EventType represents the type of change in the store.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventModify EventType = "MODIFY"
	EventDelete EventType = "DELETE"
	EventReload EventType = "RELOAD"
)

// Event represents a change in the store.
type Event struct {
	Type      EventType
	ID        string
	Timestamp int64 // Unix timestamp
}

// String implements fmt.Stringer.
func (e Event) String() string {
	if e.ID == "" {
		return string(e.Type)
	}
	return fmt.Sprintf("%s %s", e.Type, e.ID)
}

// ParseDocument decodes a JSON object into a Document, keeping numbers as
// json.Number so that values round-trip without precision loss.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrInvalidDocument, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after json object", ErrInvalidDocument)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document must be a json object", ErrInvalidDocument)
	}
	return Document(obj), nil
}

// MarshalIndented serializes the document as indented JSON-LD text.
func (d Document) MarshalIndented() ([]byte, error) {
	return json.MarshalIndent(map[string]any(d), "", "  ")
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

// ID returns the document id or "" when absent or not a string.
func (d Document) ID() string {
	id, _ := d[KeyID].(string)
	return id
}

// Status returns dpp:status.
func (d Document) Status() string {
	s, _ := d[KeyStatus].(string)
	return s
}

// Created returns dcterms:created, or the zero time when missing or malformed.
func (d Document) Created() time.Time {
	return d.timeField(KeyCreated)
}

// Modified returns dcterms:modified.
func (d Document) Modified() time.Time {
	return d.timeField(KeyModified)
}

func (d Document) timeField(key string) time.Time {
	s, _ := d[key].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// EconomicOperatorID returns the id of the responsible organization.
func (d Document) EconomicOperatorID() string {
	if op, ok := d[KeyEconomicOperator].(map[string]any); ok {
		if id, ok := op[KeyID].(string); ok && id != "" {
			return id
		}
	}
	for _, key := range []string{KeyEconomicOperatorID, keyPlainEconomicOperatorID} {
		if id, ok := d[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

// ProductIdentifiers returns the identifiers in document order. Entries that
// are not objects or lack a scheme or value are skipped.
func (d Document) ProductIdentifiers() []ProductIdentifier {
	raw, ok := d[KeyProductIdentifiers].([]any)
	if !ok {
		raw, _ = d[keyPlainProductIdentifiers].([]any)
	}
	var ids []ProductIdentifier
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		scheme := firstString(obj, KeyScheme, keyPlainScheme)
		value := firstString(obj, KeyValue, keyPlainValue)
		if scheme == "" || value == "" {
			continue
		}
		ids = append(ids, ProductIdentifier{Scheme: scheme, Value: value})
	}
	return ids
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ChangeLog returns the decoded change records in append order.
func (d Document) ChangeLog() []ChangeRecord {
	raw, _ := d[KeyChangeLog].([]any)
	records := make([]ChangeRecord, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		records = append(records, changeRecordFromNode(obj))
	}
	return records
}

// TopLevelKeys returns the document's keys sorted.
func (d Document) TopLevelKeys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the structurally required fields.
func (d Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	id, ok := d[KeyID]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrInvalidDocument, KeyID)
	}
	if s, ok := id.(string); !ok || s == "" {
		return fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidDocument, KeyID)
	}
	if err := d.validateShape(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

// validateShape checks the typed fields that may be present on any version.
func (d Document) validateShape() error {
	if v, ok := d[KeyStatus]; ok {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%q must be a string", KeyStatus)
		}
	}
	for _, key := range []string{KeyProductIdentifiers, keyPlainProductIdentifiers} {
		v, ok := d[key]
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%q must be an array", key)
		}
		for i, item := range items {
			if _, ok := item.(map[string]any); !ok {
				return fmt.Errorf("%q[%d] must be an object", key, i)
			}
		}
	}
	if v, ok := d[KeyChangeLog]; ok {
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("%q must be an array", KeyChangeLog)
		}
	}
	return nil
}
