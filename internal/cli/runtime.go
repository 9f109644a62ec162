package cli

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/anonymize"
	"github.com/ppiankov/hostwarden/internal/audit"
	"github.com/ppiankov/hostwarden/internal/configstore"
	"github.com/ppiankov/hostwarden/internal/mutation"
	"github.com/ppiankov/hostwarden/internal/permission"
	"github.com/ppiankov/hostwarden/internal/service"
	"github.com/ppiankov/hostwarden/internal/storagepath"
)

// trustLayer is the wired trust layer shared by the commands.
type trustLayer struct {
	store    *configstore.Store
	auditLog *audit.Log
	registry *service.Registry
	checker  *permission.Checker
	coord    *mutation.Coordinator
}

func openAuditLog() (*audit.Log, error) {
	return audit.Open(cfg.Audit.Path, audit.Options{
		MaxSize:  cfg.Audit.MaxSizeBytes,
		MaxFiles: cfg.Audit.MaxFiles,
		Logger:   logger,
	})
}

// openRuntime validates the storage paths, loads the persisted config and
// freezes the service registry.
func openRuntime(ctx context.Context) (*trustLayer, error) {
	store, err := configstore.New(cfg.ConfigPath, logger)
	if err != nil {
		return nil, errors.Wrap(err, "config path")
	}
	auditLog, err := openAuditLog()
	if err != nil {
		return nil, errors.Wrap(err, "audit path")
	}

	registry := service.NewRegistry(service.BuiltinDefaults())
	registry.Freeze()
	checker := permission.NewChecker()
	registry.Bind(checker)

	coord := mutation.New(registry, store, auditLog, mutation.NewWriteLock(), logger)
	if err := coord.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return &trustLayer{
		store:    store,
		auditLog: auditLog,
		registry: registry,
		checker:  checker,
		coord:    coord,
	}, nil
}

// newEngine builds the anonymization engine, seeded from the mapping file
// when path is set and the file exists.
func newEngine(path string) (*anonymize.Engine, error) {
	mapping := anonymize.NewMapping()
	if path != "" {
		if _, err := storagepath.Validate(path); err != nil {
			return nil, errors.Wrap(err, "mapping path")
		}
		loaded, err := anonymize.LoadMapping(path)
		switch {
		case err == nil:
			mapping = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	logger.Debug("anonymization mapping loaded", zap.Int("entries", mapping.Len()))
	return anonymize.NewEngine(mapping, anonymize.WithSafeFields(cfg.Anonymization.SafeFields...)), nil
}
