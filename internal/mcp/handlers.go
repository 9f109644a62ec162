package mcp

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/audit"
	"github.com/ppiankov/hostwarden/internal/metrics"
	"github.com/ppiankov/hostwarden/internal/model"
)

// --- Input/Output types ---

// CheckPermissionInput defines parameters for check_permission.
type CheckPermissionInput struct {
	Service   string `json:"service" jsonschema:"service identifier, e.g. eventlog or filesearch"`
	Operation string `json:"operation" jsonschema:"read or write"`
}

// CheckPermissionOutput is the permission decision.
type CheckPermissionOutput struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// AnonymizeRecordsInput defines parameters for anonymize_records.
type AnonymizeRecordsInput struct {
	Service string           `json:"service" jsonschema:"service the records came from"`
	Records []map[string]any `json:"records" jsonschema:"records to anonymize"`
}

// AnonymizeRecordsOutput carries the records, anonymized when the
// service requires it.
type AnonymizeRecordsOutput struct {
	Records    []map[string]any `json:"records,omitempty"`
	Anonymized bool             `json:"anonymized"`
	Denied     bool             `json:"denied,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// EmptyInput is used by tools without parameters.
type EmptyInput struct{}

// ServiceInput names one service.
type ServiceInput struct {
	Service string `json:"service" jsonschema:"service identifier"`
}

// SetPermissionInput defines parameters for admin_set_permission.
type SetPermissionInput struct {
	Service string `json:"service" jsonschema:"service identifier"`
	Level   string `json:"level" jsonschema:"disabled, read-only or read-write"`
}

// ToggleAnonymizationInput defines parameters for admin_toggle_anonymization.
type ToggleAnonymizationInput struct {
	Service string `json:"service" jsonschema:"service identifier"`
	Enabled bool   `json:"enabled" jsonschema:"whether results must be anonymized"`
}

// ServiceOutput is the configuration of one service after a change.
type ServiceOutput struct {
	Service string              `json:"service"`
	Config  model.ServiceConfig `json:"config"`
}

// ConfigOutput is the configuration of every service.
type ConfigOutput struct {
	Services map[string]model.ServiceConfig `json:"services"`
}

// AuditRecentInput defines parameters for admin_audit_recent.
type AuditRecentInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of entries, default 20"`
}

// AuditEntry is an audit log line in tool output.
type AuditEntry struct {
	Timestamp     string `json:"timestamp"`
	Action        string `json:"action"`
	ServiceID     string `json:"serviceId"`
	PreviousValue any    `json:"previousValue"`
	NewValue      any    `json:"newValue"`
	Source        string `json:"source"`
	PreviousHash  string `json:"previousHash"`
	Hash          string `json:"hash"`
}

// AuditRecentOutput lists recent entries, oldest first.
type AuditRecentOutput struct {
	Entries []AuditEntry `json:"entries"`
}

// AuditVerifyOutput is the integrity check result.
type AuditVerifyOutput struct {
	Valid     bool   `json:"valid"`
	Entries   int    `json:"entries"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"errorLine,omitempty"`
}

const defaultAuditLimit = 20

// --- Handlers ---

func (ss *session) handleCheckPermission(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckPermissionInput) (*mcpsdk.CallToolResult, CheckPermissionOutput, error) {
	op := model.Operation(input.Operation)
	d := ss.checker.Check(input.Service, op)
	recordDecision(input.Service, op, d.Allowed)
	return nil, CheckPermissionOutput{Allowed: d.Allowed, Reason: d.Reason}, nil
}

func (ss *session) handleAnonymizeRecords(ctx context.Context, req *mcpsdk.CallToolRequest, input AnonymizeRecordsInput) (*mcpsdk.CallToolResult, AnonymizeRecordsOutput, error) {
	d := ss.checker.Check(input.Service, model.OpRead)
	recordDecision(input.Service, model.OpRead, d.Allowed)
	if !d.Allowed {
		return &mcpsdk.CallToolResult{IsError: true}, AnonymizeRecordsOutput{Denied: true, Reason: d.Reason}, nil
	}

	svc, ok := ss.coord.Registry().Get(input.Service)
	if !ok || !svc.AnonymizationEnabled() {
		return nil, AnonymizeRecordsOutput{Records: input.Records}, nil
	}

	out := ss.engine.AnonymizeEntries(input.Records)
	ss.mappingChanged()
	return nil, AnonymizeRecordsOutput{Records: out, Anonymized: true}, nil
}

func (ss *session) handleGetConfig(ctx context.Context, req *mcpsdk.CallToolRequest, input EmptyInput) (*mcpsdk.CallToolResult, ConfigOutput, error) {
	return nil, ConfigOutput{Services: ss.coord.Registry().Snapshot()}, nil
}

func (ss *session) handleEnableService(ctx context.Context, req *mcpsdk.CallToolRequest, input ServiceInput) (*mcpsdk.CallToolResult, ServiceOutput, error) {
	cfg, err := ss.coord.EnableService(ctx, input.Service, ss.source)
	if err != nil {
		return nil, ServiceOutput{}, err
	}
	return nil, ServiceOutput{Service: input.Service, Config: cfg}, nil
}

func (ss *session) handleDisableService(ctx context.Context, req *mcpsdk.CallToolRequest, input ServiceInput) (*mcpsdk.CallToolResult, ServiceOutput, error) {
	cfg, err := ss.coord.DisableService(ctx, input.Service, ss.source)
	if err != nil {
		return nil, ServiceOutput{}, err
	}
	return nil, ServiceOutput{Service: input.Service, Config: cfg}, nil
}

func (ss *session) handleSetPermission(ctx context.Context, req *mcpsdk.CallToolRequest, input SetPermissionInput) (*mcpsdk.CallToolResult, ServiceOutput, error) {
	cfg, err := ss.coord.SetPermission(ctx, input.Service, model.PermissionLevel(input.Level), ss.source)
	if err != nil {
		return nil, ServiceOutput{}, err
	}
	return nil, ServiceOutput{Service: input.Service, Config: cfg}, nil
}

func (ss *session) handleToggleAnonymization(ctx context.Context, req *mcpsdk.CallToolRequest, input ToggleAnonymizationInput) (*mcpsdk.CallToolResult, ServiceOutput, error) {
	cfg, err := ss.coord.SetAnonymization(ctx, input.Service, input.Enabled, ss.source)
	if err != nil {
		return nil, ServiceOutput{}, err
	}
	return nil, ServiceOutput{Service: input.Service, Config: cfg}, nil
}

func (ss *session) handleResetConfig(ctx context.Context, req *mcpsdk.CallToolRequest, input EmptyInput) (*mcpsdk.CallToolResult, ConfigOutput, error) {
	if err := ss.coord.Reset(ctx, ss.source); err != nil {
		return nil, ConfigOutput{}, err
	}
	return nil, ConfigOutput{Services: ss.coord.Registry().Snapshot()}, nil
}

func (ss *session) handleAuditRecent(ctx context.Context, req *mcpsdk.CallToolRequest, input AuditRecentInput) (*mcpsdk.CallToolResult, AuditRecentOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	entries, err := ss.auditLog.RecentEntries(limit)
	if err != nil {
		return nil, AuditRecentOutput{}, errors.Wrap(err, "read audit log")
	}
	out := AuditRecentOutput{Entries: make([]AuditEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, toAuditEntry(e))
	}
	return nil, out, nil
}

func (ss *session) handleAuditVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input EmptyInput) (*mcpsdk.CallToolResult, AuditVerifyOutput, error) {
	res := ss.auditLog.VerifyIntegrity()
	out := AuditVerifyOutput{
		Valid:     res.Valid,
		Entries:   res.Entries,
		Error:     res.Error,
		ErrorLine: res.ErrorLine,
	}
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

// --- Helpers ---

func recordDecision(serviceID string, op model.Operation, allowed bool) {
	result := metrics.ResultDeny
	if allowed {
		result = metrics.ResultAllow
	}
	metrics.PermissionDecisions.WithLabelValues(serviceID, string(op), result).Inc()
}

// mappingChanged refreshes the token gauges and persists the mapping.
func (s *Server) mappingChanged() {
	for cat, n := range s.engine.Stats() {
		metrics.PIITokens.WithLabelValues(string(cat)).Set(float64(n))
	}
	if s.mappingPath == "" {
		return
	}
	s.mappingMu.Lock()
	defer s.mappingMu.Unlock()
	if err := s.engine.PersistMapping(s.mappingPath); err != nil {
		s.logger.Warn("failed to persist PII mapping",
			zap.String("path", s.mappingPath),
			zap.Error(err),
		)
	}
}

func toAuditEntry(e audit.Entry) AuditEntry {
	return AuditEntry{
		Timestamp:     e.Timestamp,
		Action:        string(e.Action),
		ServiceID:     e.ServiceID,
		PreviousValue: decodeRaw(e.PreviousValue),
		NewValue:      decodeRaw(e.NewValue),
		Source:        e.Source,
		PreviousHash:  e.PreviousHash,
		Hash:          e.Hash,
	}
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
