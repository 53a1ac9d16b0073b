// Package dpp is the composition root of the Digital Product Passport
// registry core.
//
// A passport directory holds JSON-LD (or JSON/YAML) documents. Open loads
// them into an in-memory store that applies JSON Merge Patches, records a
// change log entry for every mutation and keeps reverse patches so earlier
// versions can be rebuilt. Product identifiers are indexed by a registry, and
// a resolver maps GS1 Digital Links back to passports.
//
// Usage:
//
//	cfg, err := dpp.LoadConfig(".env")
//	rt, err := dpp.Open(ctx, cfg, logger)
//
//	doc, err := rt.Resolver.Resolve(ctx, "/01/04006381333931")
//	doc, err = rt.Store.Patch(ctx, doc.ID(), []byte(`{"dpp:status":"inactive"}`))
//
//	http.ListenAndServe(cfg.Addr, rt.Handler())
package dpp
