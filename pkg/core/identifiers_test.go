package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	cases := []struct {
		scheme, value string
		want          ProductKey
	}{
		{"gtin", "4006381333931", ProductKey{"gtin", "04006381333931"}},
		{"GTIN", " 04006381333931 ", ProductKey{"gtin", "04006381333931"}},
		{"01", "12345670", ProductKey{"gtin", "00000012345670"}},
		{"dpp:gtin", "036000291452", ProductKey{"gtin", "00036000291452"}},
		{"21", "SN-1", ProductKey{"serial", "SN-1"}},
		{"lot", "B7", ProductKey{"batch", "B7"}},
		{"gtin", "ABC", ProductKey{"gtin", "ABC"}},
		{"uuid", "x", ProductKey{"uuid", "x"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KeyFor(tc.scheme, tc.value), "%s/%s", tc.scheme, tc.value)
	}
}

func TestValidGTIN(t *testing.T) {
	assert.True(t, ValidGTIN("4006381333931"))
	assert.True(t, ValidGTIN("04006381333931"))
	assert.True(t, ValidGTIN("12345670"))
	assert.False(t, ValidGTIN("4006381333932"))
	assert.False(t, ValidGTIN("123"))
	assert.False(t, ValidGTIN("40063813339x1"))
}

func TestHasValue(t *testing.T) {
	doc := Document{
		KeyProductIdentifiers: []any{
			map[string]any{KeyScheme: "gtin", KeyValue: "04006381333931"},
			map[string]any{"scheme": "serial", "value": "SN-1"},
		},
	}
	assert.True(t, doc.HasValue("SN-1"))
	assert.True(t, doc.HasValue("4006381333931"))
	assert.False(t, doc.HasValue("SN-2"))
	assert.True(t, doc.HasKey(KeyFor("serial", "SN-1")))

	serial := Document{
		KeyProductIdentifiers: []any{
			map[string]any{KeyScheme: "serial", KeyValue: "00000012345678"},
		},
	}
	assert.False(t, serial.HasValue("12345678"))
	assert.True(t, serial.HasValue("00000012345678"))
}

func TestParseDigitalLink(t *testing.T) {
	cases := []struct {
		path string
		want DigitalLink
	}{
		{"/id/01/04006381333931", DigitalLink{GTIN: "04006381333931"}},
		{"/01/4006381333931/", DigitalLink{GTIN: "4006381333931"}},
		{"/id/01/04006381333931/21/SN-1", DigitalLink{"04006381333931", SchemeSerial, "SN-1"}},
		{"01/04006381333931/10/B7", DigitalLink{"04006381333931", SchemeBatch, "B7"}},
	}
	for _, tc := range cases {
		got, err := ParseDigitalLink(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}

	for _, bad := range []string{"", "/id", "/id/02/123", "/id/01/123/22/x", "/id/01/123/21", "/id/01/1/21/a/b"} {
		_, err := ParseDigitalLink(bad)
		assert.ErrorIs(t, err, ErrNotFound, bad)
	}

	assert.Equal(t, "/01/04006381333931/21/SN-1", DigitalLink{"4006381333931", SchemeSerial, "SN-1"}.Path())
}

func TestNewDocumentID(t *testing.T) {
	id := NewDocumentID("example.org")
	assert.True(t, strings.HasPrefix(id, "did:web:example.org:dpp:"))
	assert.NotEqual(t, id, NewDocumentID("example.org"))
}
