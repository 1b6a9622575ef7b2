package datasync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Registry maps data sync type names to adapters. It is built once at start
// up and passed to the components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Registering a type twice is an error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Type()]; ok {
		return fmt.Errorf("data sync type %q already registered", a.Type())
	}
	r.adapters[a.Type()] = a
	return nil
}

// Get returns the adapter for a type.
func (r *Registry) Get(dsType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[dsType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownDataSyncType, dsType)
	}
	return a, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Properties asks the adapter for its catalogue and checks it: keys must be
// unique and at least one property must be part of the identity.
func Properties(ctx context.Context, a Adapter, ds *models.DataSync) ([]Property, error) {
	properties, err := a.Properties(ctx, ds)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(properties))
	identities := 0
	for _, p := range properties {
		if seen[p.Key] {
			return nil, fmt.Errorf("%w: %s lists property %q twice", apperrors.ErrSchema, a.Type(), p.Key)
		}
		seen[p.Key] = true
		if p.UniquePrimary {
			identities++
		}
	}
	if identities == 0 {
		return nil, fmt.Errorf("%w: %w: %s", apperrors.ErrSchema, apperrors.ErrNoUniqueIdentity, a.Type())
	}
	return properties, nil
}

// ExtractAllowed keeps only the parameters the adapter persists.
func ExtractAllowed(a Adapter, params map[string]any) map[string]any {
	allowed := make(map[string]any)
	for _, key := range a.AllowedParams() {
		if v, ok := params[key]; ok {
			allowed[key] = v
		}
	}
	return allowed
}
