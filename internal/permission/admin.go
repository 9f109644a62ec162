package permission

import (
	"sort"
	"strings"
)

// Admin operation names. These are the MCP tool names that mutate or
// expose access-control state.
const (
	OpGetConfig           = "admin_get_config"
	OpEnableService       = "admin_enable_service"
	OpDisableService      = "admin_disable_service"
	OpSetPermission       = "admin_set_permission"
	OpToggleAnonymization = "admin_toggle_anonymization"
	OpResetConfig         = "admin_reset_config"
	OpAuditRecent         = "admin_audit_recent"
	OpAuditVerify         = "admin_audit_verify"
)

var adminOperations = map[string]bool{
	OpGetConfig:           true,
	OpEnableService:       true,
	OpDisableService:      true,
	OpSetPermission:       true,
	OpToggleAnonymization: true,
	OpResetConfig:         true,
	OpAuditRecent:         true,
	OpAuditVerify:         true,
}

// AdminOperations returns the fixed admin operation set, sorted.
func AdminOperations() []string {
	out := make([]string, 0, len(adminOperations))
	for op := range adminOperations {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// IsAdminOperation reports whether name is in the admin set.
func IsAdminOperation(name string) bool {
	return adminOperations[name]
}

var localhostAddresses = map[string]bool{
	"127.0.0.1":        true,
	"::1":              true,
	"::ffff:127.0.0.1": true,
}

// IsLocalhostAddress reports whether addr is exactly one of the loopback
// forms after trimming whitespace. Anything else, including the empty
// string, is not local.
func IsLocalhostAddress(addr string) bool {
	return localhostAddresses[strings.TrimSpace(addr)]
}

// AuthorizeAdmin denies the request when any requested operation is an
// admin operation and the caller is not local. It runs before any
// service-level check.
func AuthorizeAdmin(ops []string, remoteAddr string) Decision {
	for _, op := range ops {
		if IsAdminOperation(op) && !IsLocalhostAddress(remoteAddr) {
			return deny("admin operation " + quote(op) + " is only allowed from localhost")
		}
	}
	return allow()
}
