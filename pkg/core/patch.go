package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"
)

// Keys owned by the store; a merge patch may not touch them.
var managedKeys = map[string]bool{
	KeyChangeLog: true,
	KeyCreated:   true,
}

// ParsePatch decodes an RFC 7396 merge patch document. The patch must be a
// JSON object.
func ParsePatch(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPatch)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: patch must be a json object", ErrInvalidPatch)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var patch map[string]any
	if err := dec.Decode(&patch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after json object", ErrInvalidPatch)
	}
	return patch, nil
}

// MergePatch applies an RFC 7396 merge patch to target and returns the new
// document together with the top-level keys the patch touched, sorted.
// target is never modified; the merge runs on a serialized copy.
func MergePatch(target Document, patch []byte) (Document, []string, error) {
	obj, err := ParsePatch(patch)
	if err != nil {
		return nil, nil, err
	}
	merged, err := mergeObject(map[string]any(target), patch)
	if err != nil {
		return nil, nil, err
	}
	return Document(merged), sortedKeys(obj), nil
}

// MergeDocumentPatch is MergePatch for a passport: it rejects patches that
// change the id or touch store-managed keys, and validates the result.
func MergeDocumentPatch(target Document, patch []byte) (Document, []string, error) {
	obj, err := ParsePatch(patch)
	if err != nil {
		return nil, nil, err
	}
	for key, val := range obj {
		if managedKeys[key] {
			return nil, nil, fmt.Errorf("%w: %q is managed by the store", ErrInvalidPatch, key)
		}
		if key == KeyID {
			if s, ok := val.(string); !ok || s != target.ID() {
				return nil, nil, fmt.Errorf("%w: %q is immutable", ErrInvalidPatch, KeyID)
			}
		}
	}
	next, changed, err := MergePatch(target, patch)
	if err != nil {
		return nil, nil, err
	}
	if err := next.validateShape(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return next, changed, nil
}

func mergeObject(target map[string]any, patch []byte) (map[string]any, error) {
	base, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("failed to encode target: %w", err)
	}
	out, err := jsonpatch.MergePatch(base, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	doc, err := ParseDocument(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return doc, nil
}

// ReversePatch computes the RFC 6902 patch that turns after back into before.
func ReversePatch(after, before Document) ([]byte, error) {
	a, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(before)
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to diff versions: %w", err)
	}
	return json.Marshal(patch)
}

// ApplyJSONPatch applies an RFC 6902 patch to doc and returns the result.
func ApplyJSONPatch(doc Document, patch []byte) (Document, error) {
	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to decode json patch: %w", err)
	}
	base, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out, err := decoded.Apply(base)
	if err != nil {
		return nil, fmt.Errorf("failed to apply json patch: %w", err)
	}
	return ParseDocument(out)
}

// FindCollection returns the index and value of the data element collection
// with the given id. A leading '#' is optional on both sides.
func (d Document) FindCollection(collectionID string) (int, map[string]any, error) {
	want := trimFragment(collectionID)
	collections, _ := d[KeyCollections].([]any)
	for i, item := range collections {
		coll, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := coll[KeyID].(string); trimFragment(id) == want {
			return i, coll, nil
		}
	}
	return -1, nil, fmt.Errorf("%w: collection %q", ErrNotFound, collectionID)
}

// FindElement returns a data element inside a collection.
func (d Document) FindElement(collectionID, elementID string) (map[string]any, error) {
	_, coll, err := d.FindCollection(collectionID)
	if err != nil {
		return nil, err
	}
	want := trimFragment(elementID)
	elements, _ := coll[KeyElements].([]any)
	for _, item := range elements {
		el, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, _ := el[KeyID].(string); trimFragment(id) == want {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: element %q in collection %q", ErrNotFound, elementID, collectionID)
}

// MergeCollectionPatch merge-patches a single data element collection and
// returns the new document and the touched keys of the collection.
func MergeCollectionPatch(target Document, collectionID string, patch []byte) (Document, []string, error) {
	idx, coll, err := target.FindCollection(collectionID)
	if err != nil {
		return nil, nil, err
	}
	obj, err := ParsePatch(patch)
	if err != nil {
		return nil, nil, err
	}
	merged, err := mergeObject(coll, patch)
	if err != nil {
		return nil, nil, err
	}
	next := target.Clone()
	collections := next[KeyCollections].([]any)
	collections[idx] = merged
	return next, sortedKeys(obj), nil
}

func trimFragment(id string) string {
	if len(id) > 0 && id[0] == '#' {
		return id[1:]
	}
	return id
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
