package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"id":"urn:a","n":1.50,"deep":{"list":[{"x":null}]}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("1.50"), doc["n"])

	out, err := doc.MarshalIndented()
	require.NoError(t, err)
	again, err := ParseDocument(out)
	require.NoError(t, err)
	assert.Equal(t, doc, again)

	for _, bad := range []string{`[]`, `"x"`, `{`, `{}{}`} {
		_, err := ParseDocument([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidDocument, bad)
	}
}

func TestClone(t *testing.T) {
	doc := mustParse(t, `{"id":"urn:a","nested":{"list":[{"k":"v"}]}}`)
	c := doc.Clone()
	c["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", doc["nested"].(map[string]any)["list"].([]any)[0].(map[string]any)["k"])
}

func TestAccessors(t *testing.T) {
	doc := mustParse(t, `{
		"id": "urn:a",
		"dpp:status": "active",
		"dcterms:created": "2025-03-01T12:00:00Z",
		"dpp:economicOperator": {"id": "did:web:acme.example"},
		"productIdentifiers": [{"scheme": "gtin", "value": "1"}, "junk", {"scheme": "x"}]
	}`)
	assert.Equal(t, "urn:a", doc.ID())
	assert.Equal(t, "active", doc.Status())
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), doc.Created())
	assert.True(t, doc.Modified().IsZero())
	assert.Equal(t, "did:web:acme.example", doc.EconomicOperatorID())
	assert.Equal(t, []ProductIdentifier{{Scheme: "gtin", Value: "1"}}, doc.ProductIdentifiers())

	assert.Equal(t, "op", Document{"economicOperatorId": "op"}.EconomicOperatorID())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Document{"id": "urn:a"}.Validate())
	assert.ErrorIs(t, Document{}.Validate(), ErrInvalidDocument)
	assert.ErrorIs(t, Document{"id": 7}.Validate(), ErrInvalidDocument)
	assert.ErrorIs(t, Document{"id": "urn:a", "dpp:changeLog": "x"}.Validate(), ErrInvalidDocument)
}

func TestProductIdentifierUnmarshal(t *testing.T) {
	var ids []ProductIdentifier
	require.NoError(t, json.Unmarshal([]byte(`[{"dpp:scheme":"gtin","dpp:value":"1"},{"scheme":"serial","value":"2"}]`), &ids))
	assert.Equal(t, []ProductIdentifier{{"gtin", "1"}, {"serial", "2"}}, ids)
}

func TestChangeLog(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := Document{"id": "urn:a"}
	first := AppendChange(doc, ChangeCreate, "", nil, ActorFrom(context.Background()), at)
	snapshot := doc.Clone()
	AppendChange(doc, ChangeUpdate, CollectionChangeObject("carrier"), []string{"x"}, "Inspector", at.Add(time.Hour))

	assert.Len(t, snapshot.ChangeLog(), 1)
	log := doc.ChangeLog()
	require.Len(t, log, 2)
	assert.Equal(t, first, log[0])
	assert.Equal(t, DefaultActor, log[0].Actor)
	assert.Equal(t, ChangeObjectPassport, log[0].ChangeObject)
	assert.Empty(t, log[0].ChangedProperties)
	assert.Equal(t, "dpp:DataElementCollection#carrier", log[1].ChangeObject)
	assert.Equal(t, "Inspector", log[1].Actor)
	assert.NotEqual(t, log[0].ChangeID, log[1].ChangeID)

	assert.Equal(t, "Inspector", ActorFrom(WithActor(context.Background(), "Inspector")))
}
