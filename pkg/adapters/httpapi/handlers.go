package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/lifecycle"
	"github.com/go-chi/chi/v5"

	"github.com/lignum/dpp/pkg/core"
	"github.com/lignum/dpp/pkg/registry"
)

// Paging limits for GET /dpps.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var errBadRequest = errors.New("bad request")

// Summary is one item of GET /dpps.
type Summary struct {
	ID                 string `json:"id"`
	ProductIdentifiers any    `json:"productIdentifiers"`
	Status             any    `json:"status"`
	Modified           any    `json:"modified"`
}

// Page is the body of GET /dpps.
type Page struct {
	Items  []Summary `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// Health is the body of GET /health.
type Health struct {
	Status          string         `json:"status"`
	DPPsLoaded      int            `json:"dpps_loaded"`
	RegistryEntries int            `json:"registry_entries"`
	Components      map[string]any `json:"components,omitempty"`
}

func pathParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed path parameter %s", errBadRequest, name)
	}
	return v, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body, nil
}

// mergePatchBody enforces the merge patch media type and returns the body.
// It writes the 415 response itself and returns ok=false in that case.
func (s *Server) mergePatchBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || (mt != contentTypeMergePatch && mt != contentTypeJSON) {
		writeProblem(w, http.StatusUnsupportedMediaType, CodeUnsupportedMedia,
			"PATCH requires Content-Type "+contentTypeMergePatch)
		return nil, false
	}
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return body, true
}

// fail writes err, treating errBadRequest as a 400.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		writeProblem(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) createDPP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := core.ParseDocument(body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := s.store.Create(r.Context(), doc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/dpps/"+url.PathEscape(created.ID()))
	writeJSON(w, http.StatusCreated, contentTypeJSONLD, created)
}

func (s *Server) listDPPs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", DefaultPageLimit)
	if err == nil && (limit < 0 || limit > MaxPageLimit) {
		err = fmt.Errorf("%w: limit must be between 0 and %d", errBadRequest, MaxPageLimit)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err == nil && offset < 0 {
		err = fmt.Errorf("%w: offset must not be negative", errBadRequest)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	operator := q.Get("operatorId")

	page := Page{Items: []Summary{}, Limit: limit, Offset: offset}
	for doc := range s.store.All() {
		if operator != "" && doc.EconomicOperatorID() != operator {
			continue
		}
		if page.Total >= offset && len(page.Items) < limit {
			page.Items = append(page.Items, summarize(doc))
		}
		page.Total++
	}
	writeJSON(w, http.StatusOK, contentTypeJSON, page)
}

func summarize(doc core.Document) Summary {
	ids, ok := doc[core.KeyProductIdentifiers]
	if !ok {
		ids = []any{}
	}
	return Summary{
		ID:                 doc.ID(),
		ProductIdentifiers: ids,
		Status:             doc[core.KeyStatus],
		Modified:           doc[core.KeyModified],
	}
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return n, nil
}

func (s *Server) getDPP(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, doc)
}

func (s *Server) patchDPP(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	patch, ok := s.mergePatchBody(w, r)
	if !ok {
		return
	}
	doc, err := s.store.Patch(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, doc)
}

func (s *Server) deleteDPP(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain date means
// the end of that day in UTC.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: date query parameter is required", errBadRequest)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if d, err := time.Parse(time.DateOnly, raw); err == nil {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return time.Time{}, fmt.Errorf("%w: date must be RFC 3339 or YYYY-MM-DD", errBadRequest)
}

func (s *Server) dppVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeVersion(w, r, id)
}

func (s *Server) writeVersion(w http.ResponseWriter, r *http.Request, id string) {
	at, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.store.VersionAt(r.Context(), id, at)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, doc)
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	doc, collectionID, ok := s.collectionTarget(w, r)
	if !ok {
		return
	}
	_, coll, err := doc.FindCollection(collectionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, coll)
}

func (s *Server) patchCollection(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	collectionID, err := pathParam(r, "collectionId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	patch, ok := s.mergePatchBody(w, r)
	if !ok {
		return
	}
	doc, err := s.store.PatchCollection(r.Context(), id, collectionID, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_, coll, err := doc.FindCollection(collectionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, coll)
}

func (s *Server) getElement(w http.ResponseWriter, r *http.Request) {
	doc, collectionID, ok := s.collectionTarget(w, r)
	if !ok {
		return
	}
	elementID, err := pathParam(r, "elementId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	el, err := doc.FindElement(collectionID, elementID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, el)
}

func (s *Server) collectionTarget(w http.ResponseWriter, r *http.Request) (core.Document, string, bool) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return nil, "", false
	}
	collectionID, err := pathParam(r, "collectionId")
	if err != nil {
		s.fail(w, r, err)
		return nil, "", false
	}
	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, "", false
	}
	return doc, collectionID, true
}

func (s *Server) dppByProductID(w http.ResponseWriter, r *http.Request) {
	productID, err := pathParam(r, "productId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.resolver.ResolveByProductID(r.Context(), productID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, doc)
}

func (s *Server) dppVersionByProductID(w http.ResponseWriter, r *http.Request) {
	productID, err := pathParam(r, "productId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.resolver.ResolveByProductID(r.Context(), productID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeVersion(w, r, doc.ID())
}

func (s *Server) registerDPP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req registry.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.registry.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", entry.RegistryURL)
	writeJSON(w, http.StatusCreated, contentTypeJSON, entry)
}

func (s *Server) registryEntry(w http.ResponseWriter, r *http.Request) {
	suffix, err := pathParam(r, "suffix")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.registry.Entry(suffix)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSON, entry)
}

func (s *Server) digitalLink(w http.ResponseWriter, r *http.Request) {
	doc, err := s.resolver.Resolve(r.Context(), r.URL.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contentTypeJSONLD, doc)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:          "healthy",
		DPPsLoaded:      s.store.Len(),
		RegistryEntries: s.registry.Entries(),
	}
	for name, c := range s.opts.components {
		if in, ok := c.(introspection.Introspectable); ok {
			if h.Components == nil {
				h.Components = map[string]any{}
			}
			h.Components[name] = in.State()
		}
	}
	writeJSON(w, http.StatusOK, contentTypeJSON, h)
}

type reloadResult struct {
	n   int
	err error
}

// reload runs detached from the request: a client that disconnects does not
// cancel a reload in progress.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	done := make(chan reloadResult, 1)
	lifecycle.Go(context.WithoutCancel(r.Context()), func(ctx context.Context) error {
		n, err := s.store.Reload(ctx, "")
		done <- reloadResult{n: n, err: err}
		return err
	}, lifecycle.WithErrorHandler(func(err error) {
		s.logger.Error("reload failed", "error", err)
	}))

	select {
	case res := <-done:
		if res.err != nil {
			s.metrics.reloads.WithLabelValues("failure").Inc()
			writeProblem(w, http.StatusInternalServerError, CodeReloadFailed, res.err.Error())
			return
		}
		s.metrics.reloads.WithLabelValues("success").Inc()
		writeJSON(w, http.StatusOK, contentTypeJSON, map[string]any{
			"message":     "DPPs reloaded from disk",
			"dpps_loaded": res.n,
		})
	case <-r.Context().Done():
		s.logger.Warn("client went away during reload; reload continues")
	}
}
