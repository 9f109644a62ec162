package model

// PermissionLevel is the per-service authorization tier.
type PermissionLevel string

const (
	LevelDisabled  PermissionLevel = "disabled"
	LevelReadOnly  PermissionLevel = "read-only"
	LevelReadWrite PermissionLevel = "read-write"
)

// Valid reports whether l is one of the three known levels.
func (l PermissionLevel) Valid() bool {
	switch l {
	case LevelDisabled, LevelReadOnly, LevelReadWrite:
		return true
	}
	return false
}

// ParsePermissionLevel converts a raw string to a PermissionLevel.
func ParsePermissionLevel(s string) (PermissionLevel, bool) {
	l := PermissionLevel(s)
	return l, l.Valid()
}

// Bounds for the optional numeric service settings.
const (
	MinMaxResults = 1
	MaxMaxResults = 100000
	MinTimeoutMs  = 1000
	MaxTimeoutMs  = 300000
)

// ServiceConfig is the persisted access-control state of one service.
type ServiceConfig struct {
	Enabled             bool            `json:"enabled"`
	PermissionLevel     PermissionLevel `json:"permissionLevel"`
	EnableAnonymization bool            `json:"enableAnonymization"`
	MaxResults          *int            `json:"maxResults,omitempty"`
	TimeoutMs           *int            `json:"timeoutMs,omitempty"`
}

// Normalized returns a copy where a disabled permission level forces
// enabled=false. The persisted schema keeps both fields; the live state
// never reports a disabled service as enabled.
func (c ServiceConfig) Normalized() ServiceConfig {
	out := c.Clone()
	if out.PermissionLevel == LevelDisabled {
		out.Enabled = false
	}
	return out
}

// Clone returns a deep copy of c.
func (c ServiceConfig) Clone() ServiceConfig {
	out := c
	if c.MaxResults != nil {
		v := *c.MaxResults
		out.MaxResults = &v
	}
	if c.TimeoutMs != nil {
		v := *c.TimeoutMs
		out.TimeoutMs = &v
	}
	return out
}

// Equal reports whether two configs carry the same values.
func (c ServiceConfig) Equal(o ServiceConfig) bool {
	if c.Enabled != o.Enabled || c.PermissionLevel != o.PermissionLevel || c.EnableAnonymization != o.EnableAnonymization {
		return false
	}
	return intPtrEqual(c.MaxResults, o.MaxResults) && intPtrEqual(c.TimeoutMs, o.TimeoutMs)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DefaultServiceConfig is the fail-closed state for every service:
// disabled, no access, anonymization on.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Enabled:             false,
		PermissionLevel:     LevelDisabled,
		EnableAnonymization: true,
	}
}

// Operation is the kind of access a caller requests.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Built-in service identifiers.
const (
	ServiceEventLog   = "eventlog"
	ServiceFileSearch = "filesearch"
)
