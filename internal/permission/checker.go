// Package permission decides whether a caller may read or write a
// service's resources, and gates admin operations to local callers.
package permission

import (
	"sync"

	"github.com/ppiankov/hostwarden/internal/model"
)

// CapabilityProvider exposes the live state of one service.
type CapabilityProvider interface {
	IsEnabled() bool
	PermissionLevel() model.PermissionLevel
}

// Decision is the outcome of a check. Denials carry a reason.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Checker maps service IDs to their capability providers.
type Checker struct {
	mu        sync.RWMutex
	providers map[string]CapabilityProvider
}

// NewChecker returns a checker with no registered services.
func NewChecker() *Checker {
	return &Checker{providers: make(map[string]CapabilityProvider)}
}

// Register installs the provider for serviceID, replacing any previous one.
func (c *Checker) Register(serviceID string, p CapabilityProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[serviceID] = p
}

// Check decides whether op is permitted on serviceID. It has no side effects.
func (c *Checker) Check(serviceID string, op model.Operation) Decision {
	c.mu.RLock()
	p, ok := c.providers[serviceID]
	c.mu.RUnlock()

	if !ok || p == nil {
		return deny("unknown service " + quote(serviceID))
	}
	if !p.IsEnabled() {
		return deny("service " + quote(serviceID) + " is disabled")
	}

	level := p.PermissionLevel()
	switch level {
	case model.LevelDisabled:
		return deny("service " + quote(serviceID) + " has permission level disabled")
	case model.LevelReadOnly, model.LevelReadWrite:
	default:
		return deny("service " + quote(serviceID) + " has unknown permission level")
	}

	switch op {
	case model.OpRead:
		return allow()
	case model.OpWrite:
		if level == model.LevelReadWrite {
			return allow()
		}
		return deny("write access requires read-write permission on " + quote(serviceID))
	default:
		return deny("unknown operation " + quote(string(op)))
	}
}

func quote(s string) string {
	return `"` + s + `"`
}
