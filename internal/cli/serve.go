package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/health"
	hwmcp "github.com/ppiankov/hostwarden/internal/mcp"
	"github.com/ppiankov/hostwarden/internal/watch"
)

// useSettingsAddr is the --http value when the flag is given bare.
const useSettingsAddr = "settings"

var serveHTTP string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "Serve MCP over streamable HTTP on this address instead of stdio (bare flag uses http.addr from settings)")
	serveCmd.Flags().Lookup("http").NoOptDefVal = useSettingsAddr
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP tool server",
	Long:  "Runs hostwarden as an MCP server over stdio, or over streamable HTTP with --http.\nAdmin tools over HTTP are only accepted from loopback addresses. The config file\nis reloaded when edited externally.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}

	hs := health.New(health.ServiceAudit)
	res := rt.auditLog.VerifyIntegrity()
	if !res.Valid {
		logger.Error("audit log failed integrity check; operator action required",
			zap.String("path", rt.auditLog.Path()),
			zap.Int("line", res.ErrorLine),
			zap.String("error", res.Error),
		)
	}
	hs.SetServing(health.ServiceAudit, res.Valid)
	hs.SetServing("", true)
	if cfg.Health.Addr != "" {
		go func() {
			if err := hs.Serve(cfg.Health.Addr); err != nil {
				logger.Error("health server stopped", zap.Error(err))
			}
		}()
		defer hs.GracefulStop()
	}

	w, err := watch.New(rt.store.Path(), rt.coord, watch.DefaultDebounce, logger)
	if err != nil {
		logger.Warn("hot-reload disabled", zap.Error(err))
	} else {
		go func() { _ = w.Run(ctx) }()
	}

	engine, err := newEngine(cfg.Anonymization.MappingPath)
	if err != nil {
		return err
	}
	srv, err := hwmcp.New(hwmcp.Config{
		Coordinator: rt.coord,
		Checker:     rt.checker,
		AuditLog:    rt.auditLog,
		Engine:      engine,
		MappingPath: cfg.Anonymization.MappingPath,
		Logger:      logger,
		Version:     version,
	})
	if err != nil {
		return errors.Wrap(err, "create MCP server")
	}

	addr := serveHTTP
	if addr == useSettingsAddr {
		addr = cfg.HTTP.Addr
	}
	if addr == "" {
		logger.Info("hostwarden MCP server running on stdio", zap.String("config", rt.store.Path()))
		return srv.Run(ctx)
	}
	return serveStreamable(ctx, addr, srv)
}

func serveStreamable(ctx context.Context, addr string, srv *hwmcp.Server) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.HTTPHandler())
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("hostwarden MCP server listening", zap.String("addr", addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return nil
}
