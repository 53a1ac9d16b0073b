package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Document {
	t.Helper()
	doc, err := ParseDocument([]byte(s))
	require.NoError(t, err)
	return doc
}

func TestMergePatch(t *testing.T) {
	base := mustParse(t, `{"id":"urn:a","a":{"b":1,"c":2},"list":[1,2,3],"big":12345678901234567890}`)

	t.Run("Merges Nested Objects And Removes Nulls", func(t *testing.T) {
		next, changed, err := MergePatch(base, []byte(`{"a":{"c":null,"d":4},"e":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"b": json.Number("1"), "d": json.Number("4")}, next["a"])
		assert.Equal(t, "x", next["e"])
		assert.Equal(t, []string{"a", "e"}, changed)
	})

	t.Run("Replaces Arrays Wholesale", func(t *testing.T) {
		next, _, err := MergePatch(base, []byte(`{"list":[9]}`))
		require.NoError(t, err)
		assert.Equal(t, []any{json.Number("9")}, next["list"])
	})

	t.Run("Keeps Number Precision", func(t *testing.T) {
		next, _, err := MergePatch(base, []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, json.Number("12345678901234567890"), next["big"])
	})

	t.Run("Does Not Modify Target", func(t *testing.T) {
		_, _, err := MergePatch(base, []byte(`{"a":null}`))
		require.NoError(t, err)
		assert.Contains(t, base, "a")
	})

	t.Run("Rejects Non-Object Patches", func(t *testing.T) {
		for _, p := range []string{``, `[]`, `"x"`, `{"a":`, `{} {}`} {
			_, _, err := MergePatch(base, []byte(p))
			assert.ErrorIs(t, err, ErrInvalidPatch, p)
		}
	})
}

func TestMergeDocumentPatch(t *testing.T) {
	base := mustParse(t, `{"id":"urn:a","dpp:status":"active","dpp:changeLog":[]}`)

	cases := []struct {
		name  string
		patch string
		ok    bool
	}{
		{"plain update", `{"dpp:status":"inactive"}`, true},
		{"same id", `{"id":"urn:a"}`, true},
		{"changed id", `{"id":"urn:b"}`, false},
		{"removed id", `{"id":null}`, false},
		{"change log", `{"dpp:changeLog":null}`, false},
		{"created", `{"dcterms:created":"2020-01-01T00:00:00Z"}`, false},
		{"status not a string", `{"dpp:status":3}`, false},
		{"identifiers not an array", `{"dpp:productIdentifiers":{}}`, false},
		{"identifier not an object", `{"dpp:productIdentifiers":["x"]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := MergeDocumentPatch(base, []byte(tc.patch))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPatch)
			}
		})
	}
}

func TestReversePatch(t *testing.T) {
	before := mustParse(t, `{"id":"urn:a","x":1,"nested":{"k":"v"}}`)
	after, _, err := MergePatch(before, []byte(`{"x":2,"nested":{"k":null},"y":true}`))
	require.NoError(t, err)

	reverse, err := ReversePatch(after, before)
	require.NoError(t, err)
	restored, err := ApplyJSONPatch(after, reverse)
	require.NoError(t, err)
	assert.Equal(t, before, restored)
}

func TestCollections(t *testing.T) {
	doc := mustParse(t, `{
		"id": "urn:a",
		"dpp:dataElementCollections": [
			{"id": "#carrier", "dpp:elements": [{"id": "#qr", "format": "QR"}]},
			{"id": "materials", "dpp:elements": []}
		]
	}`)

	idx, coll, err := doc.FindCollection("materials")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "materials", coll["id"])

	_, _, err = doc.FindCollection("#carrier")
	assert.NoError(t, err)
	_, _, err = doc.FindCollection("none")
	assert.ErrorIs(t, err, ErrNotFound)

	el, err := doc.FindElement("carrier", "qr")
	require.NoError(t, err)
	assert.Equal(t, "QR", el["format"])
	_, err = doc.FindElement("carrier", "nfc")
	assert.ErrorIs(t, err, ErrNotFound)

	next, changed, err := MergeCollectionPatch(doc, "carrier", []byte(`{"location":"lid"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"location"}, changed)
	_, coll, _ = next.FindCollection("carrier")
	assert.Equal(t, "lid", coll["location"])
	_, coll, _ = doc.FindCollection("carrier")
	assert.NotContains(t, coll, "location")

	_, _, err = MergeCollectionPatch(doc, "none", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergePatchProperties(t *testing.T) {
	base := mustParse(t, `{"a":1,"b":{"x":1,"y":2}}`)
	patch := []byte(`{"a":null,"b":{"x":5}}`)

	once, _, err := MergePatch(base, patch)
	require.NoError(t, err)
	assert.Equal(t, mustParse(t, `{"b":{"x":5,"y":2}}`), once)

	twice, _, err := MergePatch(once, patch)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}
