package registry

import "github.com/aretw0/introspection"

// RegistryState exposes internal state for observability.
type RegistryState struct {
	Policy      Policy `json:"policy"`
	Identifiers int    `json:"identifiers"`
	Entries     int    `json:"entries"`
	Passports   int    `json:"passports"`
}

// State implements introspection.Introspectable.
func (r *Registry) State() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryState{
		Policy:      r.opts.policy,
		Identifiers: len(r.index),
		Entries:     len(r.entries),
		Passports:   len(r.byDPP),
	}
}

// ComponentType implements introspection.Component.
func (r *Registry) ComponentType() string {
	return "registry"
}

var (
	_ introspection.Introspectable = (*Registry)(nil)
	_ introspection.Component      = (*Registry)(nil)
)
