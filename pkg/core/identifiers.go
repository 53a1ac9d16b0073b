package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifier schemes understood by the resolver.
const (
	SchemeGTIN   = "gtin"
	SchemeSerial = "serial"
	SchemeBatch  = "batch"
)

// GS1 application identifiers used in Digital Link paths.
const (
	AIGTIN   = "01"
	AISerial = "21"
	AIBatch  = "10"
)

// ProductKey is the normalized (scheme, value) lookup key.
type ProductKey struct {
	Scheme string
	Value  string
}

// String renders the key as scheme:value.
func (k ProductKey) String() string {
	return k.Scheme + ":" + k.Value
}

// NormalizeScheme maps scheme spellings and GS1 application identifiers to a
// canonical lower-case scheme name.
func NormalizeScheme(scheme string) string {
	s := strings.ToLower(strings.TrimSpace(scheme))
	s = strings.TrimPrefix(s, "dpp:")
	switch s {
	case AIGTIN, "gtin-14", "gtin14", "gtin13", "gtin-13", "ean":
		return SchemeGTIN
	case AISerial, "sgtin", "serialnumber", "serial_number":
		return SchemeSerial
	case AIBatch, "lot", "batchnumber", "batch_number":
		return SchemeBatch
	}
	return s
}

// NormalizeValue trims the value and, for GTINs, left-pads GTIN-8/12/13 to
// the 14 digits used by GS1 Digital Link.
func NormalizeValue(scheme, value string) string {
	v := strings.TrimSpace(value)
	if NormalizeScheme(scheme) == SchemeGTIN && isDigits(v) {
		switch len(v) {
		case 8, 12, 13:
			v = strings.Repeat("0", 14-len(v)) + v
		}
	}
	return v
}

// KeyFor builds the normalized lookup key for a scheme/value pair.
func KeyFor(scheme, value string) ProductKey {
	return ProductKey{Scheme: NormalizeScheme(scheme), Value: NormalizeValue(scheme, value)}
}

// Keys returns the normalized keys of all product identifiers of a document.
func (d Document) Keys() []ProductKey {
	ids := d.ProductIdentifiers()
	keys := make([]ProductKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, KeyFor(id.Scheme, id.Value))
	}
	return keys
}

// HasKey reports whether the document carries the given normalized key.
func (d Document) HasKey(key ProductKey) bool {
	for _, k := range d.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// HasValue reports whether any identifier of the document has the value,
// whatever its scheme. GTINs also match in their zero-padded form.
func (d Document) HasValue(value string) bool {
	v := strings.TrimSpace(value)
	for _, id := range d.ProductIdentifiers() {
		if strings.TrimSpace(id.Value) == v {
			return true
		}
		if NormalizeScheme(id.Scheme) == SchemeGTIN && NormalizeValue(SchemeGTIN, id.Value) == NormalizeValue(SchemeGTIN, v) {
			return true
		}
	}
	return false
}

// NewDocumentID generates a did:web identifier under the given domain.
func NewDocumentID(domain string) string {
	return fmt.Sprintf("did:web:%s:dpp:%s", domain, uuid.NewString())
}

// ValidGTIN verifies the GS1 mod-10 check digit of a GTIN-8/12/13/14.
func ValidGTIN(value string) bool {
	v := strings.TrimSpace(value)
	if !isDigits(v) {
		return false
	}
	switch len(v) {
	case 8, 12, 13, 14:
	default:
		return false
	}
	sum := 0
	// Weights alternate 3,1 starting from the digit left of the check digit.
	for i := len(v) - 2; i >= 0; i-- {
		d := int(v[i] - '0')
		if (len(v)-2-i)%2 == 0 {
			d *= 3
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return check == int(v[len(v)-1]-'0')
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DigitalLink is a parsed GS1 Digital Link path.
type DigitalLink struct {
	GTIN           string
	QualifierType  string // SchemeSerial, SchemeBatch or ""
	QualifierValue string
}

// ParseDigitalLink parses paths of the form /id/01/{gtin}[/21/{serial}|/10/{batch}].
// The /id prefix is optional.
func ParseDigitalLink(path string) (DigitalLink, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) > 0 && segments[0] == "id" {
		segments = segments[1:]
	}
	if len(segments) != 2 && len(segments) != 4 {
		return DigitalLink{}, fmt.Errorf("%w: malformed digital link path %q", ErrNotFound, path)
	}
	if segments[0] != AIGTIN || segments[1] == "" {
		return DigitalLink{}, fmt.Errorf("%w: digital link must start with AI %s", ErrNotFound, AIGTIN)
	}
	link := DigitalLink{GTIN: segments[1]}
	if len(segments) == 4 {
		switch segments[2] {
		case AISerial:
			link.QualifierType = SchemeSerial
		case AIBatch:
			link.QualifierType = SchemeBatch
		default:
			return DigitalLink{}, fmt.Errorf("%w: unsupported application identifier %q", ErrNotFound, segments[2])
		}
		if segments[3] == "" {
			return DigitalLink{}, fmt.Errorf("%w: empty qualifier value", ErrNotFound)
		}
		link.QualifierValue = segments[3]
	}
	return link, nil
}

// Path renders the link in canonical /01/{gtin}[/{ai}/{value}] form.
func (l DigitalLink) Path() string {
	p := "/" + AIGTIN + "/" + NormalizeValue(SchemeGTIN, l.GTIN)
	switch l.QualifierType {
	case SchemeSerial:
		p += "/" + AISerial + "/" + l.QualifierValue
	case SchemeBatch:
		p += "/" + AIBatch + "/" + l.QualifierValue
	}
	return p
}
