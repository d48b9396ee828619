package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parley/config"
	"parley/model"
)

// Lister returns the models a provider offers
type Lister interface {
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}

// Cache keeps the last descriptors fetched per provider
type Cache interface {
	LoadDescriptors(providerID string) ([]Descriptor, error)
	SaveDescriptors(providerID string, descriptors []Descriptor) error
}

// timedCache is a Cache that knows when each provider was last fetched
type timedCache interface {
	FetchedAt(providerID string) (time.Time, bool, error)
}

// Registry holds the descriptors of the active provider. They are fetched
// once per provider switch and then only looked up.
type Registry struct {
	mu          sync.RWMutex
	providerID  string
	descriptors map[string]Descriptor
	overrides   map[string]map[string]Descriptor
	cache       Cache
	maxAge      time.Duration
	requiresKey KeyRequirement
}

// NewRegistry creates an empty registry. cache may be nil.
func NewRegistry(cache Cache, requiresKey KeyRequirement) *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		overrides:   make(map[string]map[string]Descriptor),
		cache:       cache,
		requiresKey: requiresKey,
	}
}

// SetMaxAge lets Switch reuse cached descriptors younger than d instead of
// listing the provider's models again. Zero always fetches.
func (r *Registry) SetMaxAge(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxAge = d
}

// Override pins descriptors for a provider's models, winning over whatever
// the provider reports
func (r *Registry) Override(providerID string, descriptors ...Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overrides[providerID] == nil {
		r.overrides[providerID] = make(map[string]Descriptor)
	}
	for _, d := range descriptors {
		r.overrides[providerID][d.ID] = d
		if providerID == r.providerID {
			r.descriptors[d.ID] = d
		}
	}
}

// Switch makes providerID active and fetches its model descriptors. When the
// provider can't be reached the cached descriptors are used instead; the
// fetch error is still returned so callers can report it.
func (r *Registry) Switch(ctx context.Context, providerID string, lister Lister) error {
	fetched, fetchErr := r.fetch(ctx, providerID, lister)

	r.mu.Lock()
	r.providerID = providerID
	r.descriptors = make(map[string]Descriptor, len(fetched))
	for _, d := range fetched {
		r.descriptors[d.ID] = d
	}
	for id, d := range r.overrides[providerID] {
		r.descriptors[id] = d
	}
	count := len(r.descriptors)
	r.mu.Unlock()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[Capability] Switched to %s with %d model descriptors (fetch error: %v)", providerID, count, fetchErr)
	}
	return fetchErr
}

func (r *Registry) fetch(ctx context.Context, providerID string, lister Lister) ([]Descriptor, error) {
	if lister == nil {
		return r.cached(providerID), nil
	}
	if descriptors := r.fresh(providerID); len(descriptors) > 0 {
		return descriptors, nil
	}

	models, err := lister.ListModels(ctx)
	if err != nil {
		return r.cached(providerID), fmt.Errorf("failed to list %s models: %w", providerID, err)
	}

	descriptors := FromModels(models)
	if r.cache != nil {
		if err := r.cache.SaveDescriptors(providerID, descriptors); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[Capability] Failed to cache descriptors for %s: %v", providerID, err)
		}
	}
	return descriptors, nil
}

// fresh returns the cached descriptors when they are within maxAge
func (r *Registry) fresh(providerID string) []Descriptor {
	r.mu.RLock()
	maxAge := r.maxAge
	r.mu.RUnlock()

	tc, ok := r.cache.(timedCache)
	if !ok || maxAge <= 0 {
		return nil
	}
	at, found, err := tc.FetchedAt(providerID)
	if err != nil || !found || time.Since(at) > maxAge {
		return nil
	}
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Capability] Using descriptors for %s cached at %s", providerID, at.Format(time.RFC3339))
	}
	return r.cached(providerID)
}

func (r *Registry) cached(providerID string) []Descriptor {
	if r.cache == nil {
		return nil
	}
	descriptors, err := r.cache.LoadDescriptors(providerID)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Capability] Failed to read cached descriptors for %s: %v", providerID, err)
		}
		return nil
	}
	return descriptors
}

// Provider returns the active provider ID
func (r *Registry) Provider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providerID
}

// Lookup returns the descriptor of a model on the active provider
func (r *Registry) Lookup(modelID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[modelID]
	return d, ok
}

// Policy snapshots the registry into a pure policy
func (r *Registry) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		descriptors = append(descriptors, d)
	}
	return NewPolicy(r.requiresKey, descriptors...)
}

// FromModels converts provider model listings into descriptors
func FromModels(models []model.ModelInfo) []Descriptor {
	out := make([]Descriptor, 0, len(models))
	for _, m := range models {
		id := m.InternalName
		if id == "" {
			id = m.Name
		}
		out = append(out, Descriptor{
			ID:             id,
			SupportsTools:  m.SupportsTools,
			SupportsImages: m.SupportsImages,
			SupportsFiles:  m.SupportsFiles,
		})
	}
	return out
}

// FromConfig converts configured model declarations into descriptors grouped by provider
func FromConfig(models []config.ModelConfig) map[string][]Descriptor {
	out := make(map[string][]Descriptor)
	for _, m := range models {
		out[m.Provider] = append(out[m.Provider], Descriptor{
			ID:             m.ID,
			SupportsTools:  m.SupportsTools,
			SupportsImages: m.SupportsImages,
			SupportsFiles:  m.SupportsFiles,
		})
	}
	return out
}
