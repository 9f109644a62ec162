package service

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/hostwarden/internal/model"
	"github.com/ppiankov/hostwarden/internal/permission"
)

var (
	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("service registry is frozen")
	// ErrDuplicate is returned when a service id is registered twice.
	ErrDuplicate = errors.New("service already registered")
)

// BuiltinDefaults returns the default configuration for every built-in
// service.
func BuiltinDefaults() map[string]model.ServiceConfig {
	return map[string]model.ServiceConfig{
		model.ServiceEventLog:   model.DefaultServiceConfig(),
		model.ServiceFileSearch: model.DefaultServiceConfig(),
	}
}

// Registry is the set of live services and their defaults.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	defaults map[string]model.ServiceConfig
	frozen   bool
}

// NewRegistry returns a registry with one service per entry in defaults,
// each initialized to its default.
func NewRegistry(defaults map[string]model.ServiceConfig) *Registry {
	r := &Registry{
		services: make(map[string]*Service, len(defaults)),
		defaults: make(map[string]model.ServiceConfig, len(defaults)),
	}
	for id, cfg := range defaults {
		r.defaults[id] = cfg.Normalized()
		r.services[id] = New(id, cfg)
	}
	return r
}

// Register adds a service with the given default.
func (r *Registry) Register(id string, def model.ServiceConfig) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, errors.Wrapf(ErrFrozen, "register %q", id)
	}
	if _, ok := r.services[id]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "register %q", id)
	}
	svc := New(id, def)
	r.defaults[id] = def.Normalized()
	r.services[id] = svc
	return svc, nil
}

// Freeze prevents further registrations. Live values stay mutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the live service for id.
func (r *Registry) Get(id string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[id]
	return svc, ok
}

// IDs returns the registered service ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the current configuration of every service.
func (r *Registry) Snapshot() map[string]model.ServiceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.ServiceConfig, len(r.services))
	for id, svc := range r.services {
		out[id] = svc.Snapshot()
	}
	return out
}

// Defaults returns a copy of the default configuration of every service.
func (r *Registry) Defaults() map[string]model.ServiceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.ServiceConfig, len(r.defaults))
	for id, cfg := range r.defaults {
		out[id] = cfg.Clone()
	}
	return out
}

// ApplyDocument sets every registered service from services, falling
// back to the default for ids the document omits. It returns the ids in
// services that are not registered, sorted; those are ignored.
func (r *Registry) ApplyDocument(services map[string]model.ServiceConfig) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, svc := range r.services {
		if cfg, ok := services[id]; ok {
			svc.Apply(cfg)
		} else {
			svc.Apply(r.defaults[id])
		}
	}
	var unknown []string
	for id := range services {
		if _, ok := r.services[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Bind registers every service with the permission checker.
func (r *Registry) Bind(c *permission.Checker) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, svc := range r.services {
		c.Register(id, svc)
	}
}
