package vision

import (
	"context"
	"sync"
)

// Registry keeps one loaded describer per model id
type Registry struct {
	mu         sync.Mutex
	describers map[string]*Describer
	newFn      func(modelID string) *Describer
	defaultID  string
}

// NewRegistry creates a registry. newFn builds an unloaded describer for a
// model id; an empty id resolves to defaultID.
func NewRegistry(defaultID string, newFn func(modelID string) *Describer) *Registry {
	return &Registry{
		describers: make(map[string]*Describer),
		newFn:      newFn,
		defaultID:  defaultID,
	}
}

// Get returns the loaded describer for modelID
func (r *Registry) Get(ctx context.Context, modelID string) (*Describer, error) {
	if modelID == "" {
		modelID = r.defaultID
	}

	r.mu.Lock()
	d, ok := r.describers[modelID]
	if !ok {
		d = r.newFn(modelID)
		r.describers[modelID] = d
	}
	r.mu.Unlock()

	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}
