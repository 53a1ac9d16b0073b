package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/lignum/dpp/pkg/core"
)

// Resolver turns product identifiers and GS1 Digital Links into passports.
// Registry mappings are consulted first; when the identifier is not
// registered (or points at a passport that is gone) the stored documents are
// scanned in id order.
type Resolver struct {
	docs   Documents
	index  *Registry
	logger *slog.Logger
}

// NewResolver creates a Resolver. index may be nil, in which case every
// lookup scans.
func NewResolver(docs Documents, index *Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{docs: docs, index: index, logger: logger}
}

// ResolveByDigitalLink returns the passport carrying (scheme, value). When
// several passports match, a qualifier (serial or batch) narrows the
// candidates; if it matches none, the first candidate in id order wins.
func (r *Resolver) ResolveByDigitalLink(ctx context.Context, scheme, value, qualifierType, qualifierValue string) (core.Document, error) {
	key := core.KeyFor(scheme, value)
	if key.Value == "" {
		return nil, fmt.Errorf("%w: empty identifier", core.ErrNotFound)
	}

	var registered core.Document
	if r.index != nil {
		if id, err := r.index.Lookup(key.Scheme, key.Value); err == nil {
			doc, err := r.docs.Get(ctx, id)
			switch {
			case err != nil:
				r.logger.Debug("registry points at a missing passport", "key", key.String(), "id", id)
			case qualifierValue == "" || matchesQualifier(doc, qualifierType, qualifierValue):
				return doc, nil
			default:
				registered = doc
			}
		}
	}

	var candidates []core.Document
	for doc := range r.docs.All() {
		if doc.HasKey(key) {
			candidates = append(candidates, doc)
		}
	}

	if qualifierValue != "" && len(candidates) > 1 {
		var narrowed []core.Document
		for _, doc := range candidates {
			if matchesQualifier(doc, qualifierType, qualifierValue) {
				narrowed = append(narrowed, doc)
			}
		}
		if len(narrowed) > 0 {
			candidates = narrowed
		} else if registered != nil {
			return registered, nil
		}
	}
	if len(candidates) == 0 {
		if registered != nil {
			return registered, nil
		}
		return nil, fmt.Errorf("%w: no passport for %s", core.ErrNotFound, key)
	}
	return candidates[0], nil
}

// Resolve parses a Digital Link path and resolves it.
func (r *Resolver) Resolve(ctx context.Context, path string) (core.Document, error) {
	link, err := core.ParseDigitalLink(path)
	if err != nil {
		return nil, err
	}
	return r.ResolveByDigitalLink(ctx, core.SchemeGTIN, link.GTIN, link.QualifierType, link.QualifierValue)
}

// ResolveByProductID returns the first passport, in id order, that carries an
// identifier with the given value under any scheme.
func (r *Resolver) ResolveByProductID(ctx context.Context, value string) (core.Document, error) {
	for doc := range r.docs.All() {
		if doc.HasValue(value) {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: no passport for product id %s", core.ErrNotFound, value)
}

// matchesQualifier checks the qualifier against the typed key first and then
// against bare identifier values.
func matchesQualifier(doc core.Document, qualifierType, qualifierValue string) bool {
	if qualifierType != "" && doc.HasKey(core.KeyFor(qualifierType, qualifierValue)) {
		return true
	}
	for _, id := range doc.ProductIdentifiers() {
		if id.Value == qualifierValue {
			return true
		}
	}
	return false
}
