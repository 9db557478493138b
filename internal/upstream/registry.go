package upstream

import "sort"

// ProviderMeta holds static metadata for an external provider.
type ProviderMeta struct {
	Category  string // "llm", "tts" or "video"
	HealthURL string // URL to probe for readiness; empty skips the probe
	Token     string // bearer token sent with the probe
	Enabled   bool   // false when the provider has no credentials or base URL
}

// Registry is the set of providers the gateway talks to.
type Registry struct {
	providers map[string]ProviderMeta
}

// NewRegistry creates a registry from a map of provider metadata.
func NewRegistry(providers map[string]ProviderMeta) *Registry {
	return &Registry{providers: providers}
}

// Lookup returns metadata for a provider, or false if unknown.
func (r *Registry) Lookup(name string) (ProviderMeta, bool) {
	m, ok := r.providers[name]
	return m, ok
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for k := range r.providers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
