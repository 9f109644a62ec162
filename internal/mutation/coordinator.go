// Package mutation applies admin changes to live service configuration,
// persists the full document and records each change in the audit log.
package mutation

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/audit"
	"github.com/ppiankov/hostwarden/internal/configstore"
	"github.com/ppiankov/hostwarden/internal/model"
	"github.com/ppiankov/hostwarden/internal/service"
)

// Audit sources.
const (
	SourceCLI   = "cli"
	SourceStdio = "mcp:stdio"
	// SourceFile marks changes picked up from an outside edit of the
	// config file.
	SourceFile = "file"
)

// HTTPSource returns the audit source for an MCP request from remoteIP.
func HTTPSource(remoteIP string) string {
	return "mcp:http:" + remoteIP
}

// ResetServiceID is the serviceId recorded for config.reset.
const ResetServiceID = "*"

var (
	// ErrUnknownService is returned for an unregistered service id.
	ErrUnknownService = errors.New("unknown service")
	// ErrInvalidLevel is returned for an unrecognised permission level.
	ErrInvalidLevel = errors.New("invalid permission level")
)

// Store is the persistence the coordinator needs.
type Store interface {
	Load() (*configstore.Document, error)
	Save(doc *configstore.Document) error
	Changed() (bool, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ev audit.Event) (audit.Entry, error)
}

// Coordinator is the single path through which live configuration is
// changed.
type Coordinator struct {
	registry *service.Registry
	store    Store
	audit    Recorder
	lock     *WriteLock
	logger   *zap.Logger
	now      func() time.Time
}

// New returns a Coordinator. A nil lock gets a private WriteLock; a nil
// logger discards output.
func New(registry *service.Registry, store Store, recorder Recorder, lock *WriteLock, logger *zap.Logger) *Coordinator {
	if lock == nil {
		lock = NewWriteLock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		store:    store,
		audit:    recorder,
		lock:     lock,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry returns the live service registry.
func (c *Coordinator) Registry() *service.Registry {
	return c.registry
}

type stateValue struct {
	Enabled         bool                  `json:"enabled"`
	PermissionLevel model.PermissionLevel `json:"permissionLevel"`
}

type levelValue struct {
	PermissionLevel model.PermissionLevel `json:"permissionLevel"`
}

type anonymizationValue struct {
	EnableAnonymization bool `json:"enableAnonymization"`
}

func stateOf(cfg model.ServiceConfig) any {
	return stateValue{Enabled: cfg.Enabled, PermissionLevel: cfg.PermissionLevel}
}

func levelOf(cfg model.ServiceConfig) any {
	return levelValue{PermissionLevel: cfg.PermissionLevel}
}

func anonymizationOf(cfg model.ServiceConfig) any {
	return anonymizationValue{EnableAnonymization: cfg.EnableAnonymization}
}

// EnableService turns a service on. A service whose level is disabled is
// raised to read-only.
func (c *Coordinator) EnableService(ctx context.Context, serviceID, source string) (model.ServiceConfig, error) {
	return c.mutate(ctx, serviceID, source, audit.ActionServiceEnable, stateOf, func(cfg *model.ServiceConfig) {
		cfg.Enabled = true
		if cfg.PermissionLevel == model.LevelDisabled {
			cfg.PermissionLevel = model.LevelReadOnly
		}
	})
}

// DisableService turns a service off and drops its level to disabled.
func (c *Coordinator) DisableService(ctx context.Context, serviceID, source string) (model.ServiceConfig, error) {
	return c.mutate(ctx, serviceID, source, audit.ActionServiceDisable, stateOf, func(cfg *model.ServiceConfig) {
		cfg.Enabled = false
		cfg.PermissionLevel = model.LevelDisabled
	})
}

// SetPermission changes the permission level of a service.
func (c *Coordinator) SetPermission(ctx context.Context, serviceID string, level model.PermissionLevel, source string) (model.ServiceConfig, error) {
	if !level.Valid() {
		return model.ServiceConfig{}, errors.Wrapf(ErrInvalidLevel, "%q", level)
	}
	return c.mutate(ctx, serviceID, source, audit.ActionPermissionChange, levelOf, func(cfg *model.ServiceConfig) {
		cfg.PermissionLevel = level
	})
}

// SetAnonymization toggles PII anonymization for a service.
func (c *Coordinator) SetAnonymization(ctx context.Context, serviceID string, enabled bool, source string) (model.ServiceConfig, error) {
	return c.mutate(ctx, serviceID, source, audit.ActionPIIToggle, anonymizationOf, func(cfg *model.ServiceConfig) {
		cfg.EnableAnonymization = enabled
	})
}

func (c *Coordinator) mutate(
	ctx context.Context,
	serviceID, source string,
	action audit.Action,
	view func(model.ServiceConfig) any,
	fn func(*model.ServiceConfig),
) (model.ServiceConfig, error) {
	svc, ok := c.registry.Get(serviceID)
	if !ok {
		return model.ServiceConfig{}, errors.Wrapf(ErrUnknownService, "%q", serviceID)
	}

	prev, next := svc.Update(fn)
	saved, err := c.commit(ctx, audit.Event{
		Action:        action,
		ServiceID:     serviceID,
		PreviousValue: view(prev),
		NewValue:      view(next),
		Source:        source,
	})
	if !saved {
		if !svc.Restore(next, prev) {
			c.logger.Warn("persist failed after a newer change; keeping newer value",
				zap.String("service", serviceID),
				zap.String("action", string(action)),
			)
		}
		return model.ServiceConfig{}, err
	}
	if err != nil {
		return next, err
	}
	c.logger.Info("service configuration changed",
		zap.String("service", serviceID),
		zap.String("action", string(action)),
		zap.String("source", source),
	)
	return next, nil
}

// Reset returns every service to its default.
func (c *Coordinator) Reset(ctx context.Context, source string) error {
	defaults := c.registry.Defaults()
	prev := make(map[string]model.ServiceConfig, len(defaults))
	next := make(map[string]model.ServiceConfig, len(defaults))
	for _, id := range c.registry.IDs() {
		svc, _ := c.registry.Get(id)
		p, n := svc.Update(func(cfg *model.ServiceConfig) { *cfg = defaults[id].Clone() })
		prev[id] = p
		next[id] = n
	}

	saved, err := c.commit(ctx, audit.Event{
		Action:        audit.ActionConfigReset,
		ServiceID:     ResetServiceID,
		PreviousValue: prev,
		NewValue:      next,
		Source:        source,
	})
	if !saved {
		for id, p := range prev {
			svc, _ := c.registry.Get(id)
			svc.Restore(next[id], p)
		}
		return err
	}
	if err != nil {
		return err
	}
	c.logger.Info("configuration reset to defaults", zap.String("source", source))
	return nil
}

// Persist writes the current state of every live service. Persist steps
// run one at a time in arrival order, and each one reads the live state
// when it runs, not when it was queued.
func (c *Coordinator) Persist(ctx context.Context) error {
	release, err := c.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return c.save()
}

// commit persists the live state and then records ev without releasing
// the write lock, so audit entries follow persist order. saved is false
// when nothing reached disk.
func (c *Coordinator) commit(ctx context.Context, ev audit.Event) (saved bool, err error) {
	release, err := c.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	if err := c.save(); err != nil {
		return false, err
	}
	if _, err := c.audit.Record(ev); err != nil {
		return true, errors.Wrap(err, "record audit entry")
	}
	return true, nil
}

func (c *Coordinator) save() error {
	doc := &configstore.Document{
		Version:      configstore.CurrentVersion,
		LastModified: c.now().UTC().Format(time.RFC3339Nano),
		Services:     c.registry.Snapshot(),
	}
	if err := c.store.Save(doc); err != nil {
		return errors.Wrap(err, "persist configuration")
	}
	return nil
}

// Bootstrap loads the persisted document into the registry. A missing or
// quarantined file leaves every service at its default. Nothing is
// written.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	release, err := c.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	doc, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	c.apply(doc)
	return nil
}

// Reload re-applies the config file if it was changed by someone other
// than this process. It reports whether anything was applied. Every
// resulting change to a service is recorded with SourceFile.
func (c *Coordinator) Reload(ctx context.Context) (bool, error) {
	release, err := c.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	changed, err := c.store.Changed()
	if err != nil {
		return false, errors.Wrap(err, "check configuration")
	}
	if !changed {
		return false, nil
	}
	doc, err := c.store.Load()
	if err != nil {
		return false, errors.Wrap(err, "reload configuration")
	}
	before := c.registry.Snapshot()
	c.apply(doc)
	events := diffEvents(before, c.registry.Snapshot())
	c.logger.Info("configuration reloaded from disk",
		zap.Bool("defaults", doc == nil),
		zap.Int("changes", len(events)),
	)

	var errs error
	for _, ev := range events {
		if _, err := c.audit.Record(ev); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "record %s for %s", ev.Action, ev.ServiceID))
		}
	}
	return true, errs
}

// diffEvents maps the per-service differences between two snapshots onto
// audit actions. A change of enabled is one service.enable or
// service.disable entry carrying the level as well; a level change alone
// is permission.change. Only maxResults or timeoutMs changing has no
// action and is not recorded.
func diffEvents(before, after map[string]model.ServiceConfig) []audit.Event {
	ids := make([]string, 0, len(after))
	for id := range after {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []audit.Event
	for _, id := range ids {
		prev, next := before[id], after[id]
		switch {
		case prev.Enabled != next.Enabled:
			action := audit.ActionServiceDisable
			if next.Enabled {
				action = audit.ActionServiceEnable
			}
			events = append(events, fileEvent(action, id, stateOf(prev), stateOf(next)))
		case prev.PermissionLevel != next.PermissionLevel:
			events = append(events, fileEvent(audit.ActionPermissionChange, id, levelOf(prev), levelOf(next)))
		}
		if prev.EnableAnonymization != next.EnableAnonymization {
			events = append(events, fileEvent(audit.ActionPIIToggle, id, anonymizationOf(prev), anonymizationOf(next)))
		}
	}
	return events
}

func fileEvent(action audit.Action, id string, prev, next any) audit.Event {
	return audit.Event{
		Action:        action,
		ServiceID:     id,
		PreviousValue: prev,
		NewValue:      next,
		Source:        SourceFile,
	}
}

func (c *Coordinator) apply(doc *configstore.Document) {
	if doc == nil {
		c.registry.ApplyDocument(nil)
		return
	}
	for _, id := range c.registry.ApplyDocument(doc.Services) {
		c.logger.Warn("ignoring unknown service in configuration", zap.String("service", id))
	}
}
