// Package service holds the live, in-memory configuration of each
// managed service.
package service

import (
	"sync"

	"github.com/ppiankov/hostwarden/internal/model"
)

// Service is the live configuration of one service. All methods are safe
// for concurrent use.
type Service struct {
	id string

	mu  sync.RWMutex
	cfg model.ServiceConfig
}

// New returns a Service holding the normalized cfg.
func New(id string, cfg model.ServiceConfig) *Service {
	return &Service{id: id, cfg: cfg.Normalized()}
}

// ID returns the service identifier.
func (s *Service) ID() string {
	return s.id
}

// IsEnabled implements permission.CapabilityProvider.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

// PermissionLevel implements permission.CapabilityProvider.
func (s *Service) PermissionLevel() model.PermissionLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.PermissionLevel
}

// AnonymizationEnabled reports whether results from this service must be
// passed through the anonymization engine.
func (s *Service) AnonymizationEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.EnableAnonymization
}

// Snapshot returns a copy of the current configuration.
func (s *Service) Snapshot() model.ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Apply replaces the configuration and returns the previous one.
func (s *Service) Apply(cfg model.ServiceConfig) model.ServiceConfig {
	next := cfg.Normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = next
	return prev.Clone()
}

// Update applies fn to a copy of the current configuration and stores
// the result. It returns the previous and new configurations.
func (s *Service) Update(fn func(*model.ServiceConfig)) (prev, next model.ServiceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.cfg.Clone()
	work := s.cfg.Clone()
	fn(&work)
	s.cfg = work.Normalized()
	return prev, s.cfg.Clone()
}

// Restore sets the configuration back to prev only if the current value
// still equals expected. It reports whether the restore happened.
func (s *Service) Restore(expected, prev model.ServiceConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Equal(expected) {
		return false
	}
	s.cfg = prev.Normalized()
	return true
}
