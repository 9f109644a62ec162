// Package mcp exposes permission checks, admin operations and record
// anonymization as MCP tools over stdio and streamable HTTP.
package mcp

import (
	"context"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/anonymize"
	"github.com/ppiankov/hostwarden/internal/audit"
	"github.com/ppiankov/hostwarden/internal/mutation"
	"github.com/ppiankov/hostwarden/internal/permission"
	"github.com/ppiankov/hostwarden/internal/storagepath"
)

// Tool names that are not admin operations.
const (
	ToolCheckPermission  = "check_permission"
	ToolAnonymizeRecords = "anonymize_records"
)

// Config holds MCP server dependencies.
type Config struct {
	Coordinator *mutation.Coordinator
	Checker     *permission.Checker
	AuditLog    *audit.Log
	Engine      *anonymize.Engine
	// MappingPath, if set, receives the PII mapping after each
	// anonymize_records call that produced tokens.
	MappingPath string
	Logger      *zap.Logger
	Version     string
}

// Server holds the dependencies shared by every MCP session.
type Server struct {
	coord       *mutation.Coordinator
	checker     *permission.Checker
	auditLog    *audit.Log
	engine      *anonymize.Engine
	mappingPath string
	logger      *zap.Logger
	version     string

	// serializes mapping persistence
	mappingMu sync.Mutex
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("mcp: coordinator is required")
	}
	if cfg.Checker == nil {
		return nil, errors.New("mcp: permission checker is required")
	}
	if cfg.AuditLog == nil {
		return nil, errors.New("mcp: audit log is required")
	}
	if cfg.MappingPath != "" {
		if _, err := storagepath.Validate(cfg.MappingPath); err != nil {
			return nil, errors.Wrap(err, "mcp: mapping path")
		}
	}
	engine := cfg.Engine
	if engine == nil {
		engine = anonymize.NewEngine(anonymize.NewMapping())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		coord:       cfg.Coordinator,
		checker:     cfg.Checker,
		auditLog:    cfg.AuditLog,
		engine:      engine,
		mappingPath: cfg.MappingPath,
		logger:      logger,
		version:     version,
	}, nil
}

// session binds tool handlers to the audit source of one connection.
type session struct {
	*Server
	source string
}

func (s *Server) session(source string) *session {
	return &session{Server: s, source: source}
}

// newMCPServer builds an SDK server whose admin mutations are recorded
// with source.
func (s *Server) newMCPServer(source string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "hostwarden",
			Version: s.version,
		},
		nil,
	)
	s.session(source).registerTools(srv)
	return srv
}

// Run serves a single stdio session. The parent process is local, so
// admin tools are available. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.newMCPServer(mutation.SourceStdio).Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP transport wrapped in the
// admin-origin guard. Each session is audited with the remote IP that
// opened it.
func (s *Server) HTTPHandler() http.Handler {
	h := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return s.newMCPServer(mutation.HTTPSource(remoteIP(r)))
	}, nil)
	return s.Guard(h)
}

func (ss *session) registerTools(srv *mcpsdk.Server) {
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolCheckPermission,
		Description: "Report whether a read or write on a service would be allowed right now (dry-run).",
	}, ss.handleCheckPermission)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolAnonymizeRecords,
		Description: "Pass records through PII anonymization when the service has it enabled. Requires read permission on the service.",
	}, ss.handleAnonymizeRecords)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpGetConfig,
		Description: "Show the live configuration of every service. Local callers only.",
	}, ss.handleGetConfig)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpEnableService,
		Description: "Enable a service. A disabled permission level becomes read-only. Local callers only.",
	}, ss.handleEnableService)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpDisableService,
		Description: "Disable a service and drop its permission level to disabled. Local callers only.",
	}, ss.handleDisableService)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpSetPermission,
		Description: "Set a service's permission level (disabled, read-only, read-write). Local callers only.",
	}, ss.handleSetPermission)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpToggleAnonymization,
		Description: "Turn PII anonymization on or off for a service. Local callers only.",
	}, ss.handleToggleAnonymization)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpResetConfig,
		Description: "Reset every service to its default (disabled, anonymization on). Local callers only.",
	}, ss.handleResetConfig)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpAuditRecent,
		Description: "List the most recent audit log entries. Local callers only.",
	}, ss.handleAuditRecent)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        permission.OpAuditVerify,
		Description: "Verify the audit log hash chain. Local callers only.",
	}, ss.handleAuditVerify)
}
