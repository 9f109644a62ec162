// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionDecisions counts service-level access decisions.
	PermissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwarden_permission_decisions_total",
			Help: "Permission decisions by service, operation and result",
		},
		[]string{"service", "operation", "result"},
	)

	// AdminRejections counts requests refused by the admin-origin guard.
	AdminRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwarden_admin_rejections_total",
			Help: "Requests rejected before dispatch, by reason",
		},
		[]string{"reason"},
	)

	// AuditEntries counts appended audit entries by action.
	AuditEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwarden_audit_entries_total",
			Help: "Audit entries appended, by action",
		},
		[]string{"action"},
	)

	// AuditRotations counts audit log rotations.
	AuditRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwarden_audit_rotations_total",
			Help: "Audit log file rotations",
		},
	)

	// ConfigSaves counts config persist attempts by result.
	ConfigSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwarden_config_saves_total",
			Help: "Config store saves, by result",
		},
		[]string{"result"},
	)

	// ConfigQuarantined counts corrupt config files moved aside.
	ConfigQuarantined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwarden_config_quarantined_total",
			Help: "Corrupt config files renamed to .corrupt.<millis>",
		},
	)

	// PIITokens reports mapped literals per anonymization category.
	PIITokens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostwarden_pii_tokens",
			Help: "Distinct PII literals in the anonymization mapping, by category",
		},
		[]string{"category"},
	)
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultAllow = "allow"
	ResultDeny  = "deny"
)
