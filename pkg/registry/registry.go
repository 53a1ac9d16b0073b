// Package registry maps external product identifiers to passport ids and
// resolves GS1 Digital Links to passports.
//
// The registry only holds back-references (identifier -> dpp id); document
// content always comes from the store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lignum/dpp/pkg/core"
)

// Policy decides what happens when an identifier already registered to one
// passport is registered to another.
type Policy string

const (
	// PolicyLastWriteWins overwrites the previous mapping.
	PolicyLastWriteWins Policy = "last-write-wins"
	// PolicyReject fails the registration with core.ErrConflict.
	PolicyReject Policy = "reject"
)

// ParsePolicy validates a policy name. The empty string is last-write-wins.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyLastWriteWins:
		return PolicyLastWriteWins, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("unknown registry policy %q (want %q or %q)", s, PolicyLastWriteWins, PolicyReject)
}

const registryIDPrefix = "urn:eu-dpp-reg:"

// Documents is the part of the store the registry and resolver need.
type Documents interface {
	Get(ctx context.Context, id string) (core.Document, error)
	Patch(ctx context.Context, id string, patch []byte) (core.Document, error)
	All() iter.Seq[core.Document]
}

// Request is a registration call.
type Request struct {
	DPPID              string                   `json:"dppId" validate:"required"`
	ProductIdentifiers []core.ProductIdentifier `json:"productIdentifiers" validate:"omitempty,dive"`
	EconomicOperatorID string                   `json:"economicOperatorId" validate:"required"`
	BackupOperatorID   string                   `json:"backupOperatorId,omitempty"`
}

// Entry is a registration record.
type Entry struct {
	RegistryID         string                   `json:"registryId"`
	RegistryURL        string                   `json:"registryUrl"`
	DPPID              string                   `json:"dppId"`
	ProductIdentifiers []core.ProductIdentifier `json:"productIdentifiers"`
	EconomicOperatorID string                   `json:"economicOperatorId"`
	BackupOperatorID   string                   `json:"backupOperatorId,omitempty"`
	RegisteredAt       time.Time                `json:"registeredAt"`
}

type options struct {
	policy Policy
	logger *slog.Logger
	now    func() time.Time
	stamp  bool
}

// Option configures a Registry.
type Option func(*options)

// WithPolicy sets the overwrite policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStamp controls whether a registration writes dpp:registry onto the
// passport (default true).
func WithStamp(stamp bool) Option {
	return func(o *options) {
		o.stamp = stamp
	}
}

// Registry is the secondary index (scheme, value) -> dpp id.
type Registry struct {
	mu      sync.RWMutex
	index   map[core.ProductKey]string
	entries map[string]*Entry // registry id -> entry
	byDPP   map[string]string // dpp id -> latest registry id
	order   map[string]uint64 // registry id -> insertion sequence
	seq     uint64

	docs Documents
	opts *options
}

// New creates an empty Registry over the given documents.
func New(docs Documents, opts ...Option) *Registry {
	o := &options{
		policy: PolicyLastWriteWins,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		stamp:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Registry{
		index:   make(map[core.ProductKey]string),
		entries: make(map[string]*Entry),
		byDPP:   make(map[string]string),
		order:   make(map[string]uint64),
		docs:    docs,
		opts:    o,
	}
}

// Policy returns the configured overwrite policy.
func (r *Registry) Policy() Policy {
	return r.opts.policy
}

// Register maps every identifier of the request to the passport. When the
// request carries no identifiers, the passport's own dpp:productIdentifiers
// are used. Registering exactly the identifier set of the passport's latest
// record is a no-op that returns that record.
//
// Under PolicyLastWriteWins a later registration takes over identifiers owned
// by another passport. When that owner is removed, each of its identifiers
// falls back to the newest remaining record that lists it, if any.
//
// A failed dpp:registry stamp rolls back only the changes of this call.
func (r *Registry) Register(ctx context.Context, req Request) (Entry, error) {
	doc, err := r.docs.Get(ctx, req.DPPID)
	if err != nil {
		return Entry{}, err
	}

	ids := req.ProductIdentifiers
	if len(ids) == 0 {
		ids = doc.ProductIdentifiers()
	}
	if len(ids) == 0 {
		return Entry{}, fmt.Errorf("%w: %s has no product identifiers to register", core.ErrInvalidDocument, req.DPPID)
	}
	keys := make([]core.ProductKey, 0, len(ids))
	for _, id := range ids {
		k := core.KeyFor(id.Scheme, id.Value)
		if k.Scheme == "" || k.Value == "" {
			return Entry{}, fmt.Errorf("%w: identifier needs scheme and value", core.ErrInvalidDocument)
		}
		keys = append(keys, k)
	}

	entry, u, err := r.insert(req, ids, keys)
	if err != nil || u == nil {
		return entry, err
	}

	if r.opts.stamp {
		if err := r.stamp(ctx, entry); err != nil {
			r.rollback(u)
			r.opts.logger.Warn("registration rolled back", "id", req.DPPID, "registry_id", entry.RegistryID, "error", err)
			return Entry{}, err
		}
	}
	r.opts.logger.Info("dpp registered", "id", req.DPPID, "registry_id", entry.RegistryID, "identifiers", len(keys))
	return entry, nil
}

// undo restores the registry to its state before one insert.
type undo struct {
	registryID string
	dppID      string
	prevLatest string
	hadLatest  bool
	prevOwners map[core.ProductKey]string // "" when the key was unmapped
}

// insert adds a record and returns how to take it back. A nil undo means the
// request matched the latest record and nothing changed.
func (r *Registry) insert(req Request, ids []core.ProductIdentifier, keys []core.ProductKey) (Entry, *undo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rid, ok := r.byDPP[req.DPPID]; ok {
		existing := r.entries[rid]
		same := existing.EconomicOperatorID == req.EconomicOperatorID &&
			existing.BackupOperatorID == req.BackupOperatorID &&
			sameKeys(keysOf(existing.ProductIdentifiers), keys)
		for _, k := range keys {
			if r.index[k] != req.DPPID {
				same = false
				break
			}
		}
		if same {
			return *existing, nil, nil
		}
	}

	for _, k := range keys {
		owner, taken := r.index[k]
		if !taken || owner == req.DPPID {
			continue
		}
		if r.opts.policy == PolicyReject {
			return Entry{}, nil, fmt.Errorf("%w: %s is registered to %s", core.ErrConflict, k, owner)
		}
		r.opts.logger.Warn("registry mapping overwritten", "key", k.String(), "previous", owner, "id", req.DPPID)
	}

	suffix := uuid.NewString()
	entry := &Entry{
		RegistryID:         registryIDPrefix + suffix,
		RegistryURL:        "/registry/" + suffix,
		DPPID:              req.DPPID,
		ProductIdentifiers: append([]core.ProductIdentifier(nil), ids...),
		EconomicOperatorID: req.EconomicOperatorID,
		BackupOperatorID:   req.BackupOperatorID,
		RegisteredAt:       r.opts.now().UTC(),
	}
	u := &undo{
		registryID: entry.RegistryID,
		dppID:      req.DPPID,
		prevOwners: make(map[core.ProductKey]string, len(keys)),
	}
	u.prevLatest, u.hadLatest = r.byDPP[req.DPPID]
	for _, k := range keys {
		if _, seen := u.prevOwners[k]; !seen {
			u.prevOwners[k] = r.index[k]
		}
		r.index[k] = req.DPPID
	}
	r.seq++
	r.entries[entry.RegistryID] = entry
	r.order[entry.RegistryID] = r.seq
	r.byDPP[req.DPPID] = entry.RegistryID
	return *entry, u, nil
}

// rollback reverts one insert. Keys that changed hands again since then are
// left alone.
func (r *Registry) rollback(u *undo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[u.registryID]; !ok {
		return
	}
	delete(r.entries, u.registryID)
	delete(r.order, u.registryID)
	for k, prev := range u.prevOwners {
		if r.index[k] != u.dppID {
			continue
		}
		if prev == "" {
			delete(r.index, k)
		} else {
			r.index[k] = prev
		}
	}
	if r.byDPP[u.dppID] == u.registryID {
		if u.hadLatest {
			r.byDPP[u.dppID] = u.prevLatest
		} else {
			delete(r.byDPP, u.dppID)
		}
	}
}

func keysOf(ids []core.ProductIdentifier) []core.ProductKey {
	keys := make([]core.ProductKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, core.KeyFor(id.Scheme, id.Value))
	}
	return keys
}

func sameKeys(a, b []core.ProductKey) bool {
	set := make(map[core.ProductKey]bool, len(a))
	for _, k := range a {
		set[k] = true
	}
	other := make(map[core.ProductKey]bool, len(b))
	for _, k := range b {
		if !set[k] {
			return false
		}
		other[k] = true
	}
	return len(set) == len(other)
}

func (r *Registry) stamp(ctx context.Context, entry Entry) error {
	patch, err := json.Marshal(map[string]any{
		core.KeyRegistry: map[string]any{
			core.KeyID:   entry.RegistryID,
			"schema:url": entry.RegistryURL,
		},
	})
	if err != nil {
		return err
	}
	_, err = r.docs.Patch(ctx, entry.DPPID, patch)
	return err
}

// Lookup returns the passport id registered for an identifier.
func (r *Registry) Lookup(scheme, value string) (string, error) {
	k := core.KeyFor(scheme, value)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[k]
	if !ok {
		return "", fmt.Errorf("%w: no registration for %s", core.ErrNotFound, k)
	}
	return id, nil
}

// Entry returns a registration record by its full registry id or by the
// trailing part of it (as used in registry URLs).
func (r *Registry) Entry(idOrSuffix string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[idOrSuffix]; ok {
		return *e, nil
	}
	if e, ok := r.entries[registryIDPrefix+idOrSuffix]; ok {
		return *e, nil
	}
	ids := make([]string, 0, len(r.entries))
	for rid := range r.entries {
		ids = append(ids, rid)
	}
	sort.Strings(ids)
	for _, rid := range ids {
		if idOrSuffix != "" && strings.HasSuffix(rid, idOrSuffix) {
			return *r.entries[rid], nil
		}
	}
	return Entry{}, fmt.Errorf("%w: registry entry %s", core.ErrNotFound, idOrSuffix)
}

// Forget drops every record of a passport. Its identifiers fall back to the
// newest remaining record that lists them.
func (r *Registry) Forget(dppID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(dppID)
}

func (r *Registry) forgetLocked(dppID string) {
	for rid, e := range r.entries {
		if e.DPPID == dppID {
			delete(r.entries, rid)
			delete(r.order, rid)
		}
	}
	delete(r.byDPP, dppID)
	for k, id := range r.index {
		if id != dppID {
			continue
		}
		if owner, ok := r.fallbackOwner(k); ok {
			r.index[k] = owner
			r.opts.logger.Debug("registry mapping restored", "key", k.String(), "id", owner, "previous", dppID)
			continue
		}
		delete(r.index, k)
	}
}

// fallbackOwner finds the passport of the newest record listing k.
func (r *Registry) fallbackOwner(k core.ProductKey) (string, bool) {
	var (
		owner string
		best  uint64
	)
	for rid, e := range r.entries {
		if r.order[rid] <= best {
			continue
		}
		for _, id := range e.ProductIdentifiers {
			if core.KeyFor(id.Scheme, id.Value) == k {
				owner, best = e.DPPID, r.order[rid]
				break
			}
		}
	}
	return owner, owner != ""
}

// Prune drops mappings to passports that are no longer stored.
func (r *Registry) Prune(ctx context.Context) int {
	r.mu.RLock()
	ids := make(map[string]bool)
	for _, id := range r.index {
		ids[id] = true
	}
	for _, e := range r.entries {
		ids[e.DPPID] = true
	}
	r.mu.RUnlock()

	var gone []string
	for id := range ids {
		if _, err := r.docs.Get(ctx, id); err != nil {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range gone {
		r.forgetLocked(id)
	}
	r.opts.logger.Debug("registry pruned", "count", len(gone))
	return len(gone)
}

// Observe keeps the registry in line with store events. Register it with
// store.WithObserver or Store.Subscribe.
func (r *Registry) Observe(ev core.Event) {
	switch ev.Type {
	case core.EventDelete:
		r.Forget(ev.ID)
	case core.EventReload:
		r.Prune(context.Background())
	}
}

// Len returns the number of indexed identifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Entries returns the number of registration records.
func (r *Registry) Entries() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
