// Package configstore persists the access-control document atomically
// and quarantines files that fail to parse or validate.
package configstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/fsutil"
	"github.com/ppiankov/hostwarden/internal/metrics"
	"github.com/ppiankov/hostwarden/internal/model"
	"github.com/ppiankov/hostwarden/internal/storagepath"
)

// CurrentVersion is written to every saved document.
const CurrentVersion = 1

// filePerm is applied best-effort; ignored where unsupported.
const filePerm = 0600

// Document is the persisted config file.
type Document struct {
	Version      int                            `json:"version"`
	LastModified string                         `json:"lastModified"`
	Services     map[string]model.ServiceConfig `json:"services"`
}

// Store reads and writes one config file.
type Store struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	digest string // sha256 of the content last written or loaded
}

// New validates path and returns a Store for it. An invalid path is fatal
// to the caller.
func New(path string, logger *zap.Logger) (*Store, error) {
	resolved, err := storagepath.Validate(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: resolved, logger: logger, now: time.Now}, nil
}

// Path returns the resolved config file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the config file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load returns the validated document, or nil when the file is missing or
// corrupt. A corrupt file is renamed to <path>.corrupt.<unixMillis> so the
// caller can fall back to defaults. Only environment errors (for example
// permission denied) are returned.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "configstore: read %s", s.path)
	}

	doc, err := ParseConfig(data)
	if err != nil {
		s.quarantine(err)
		return nil, nil
	}
	s.setDigest(data)
	return doc, nil
}

// Changed reports whether the file on disk differs from what this Store
// last wrote or loaded. A missing file is not a change.
func (s *Store) Changed() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "configstore: read %s", s.path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return contentDigest(data) != s.digest, nil
}

func (s *Store) setDigest(data []byte) {
	s.mu.Lock()
	s.digest = contentDigest(data)
	s.mu.Unlock()
}

func contentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save validates doc and atomically replaces the config file. Validation
// errors and I/O errors are returned; the previous file is left intact.
func (s *Store) Save(doc *Document) error {
	if doc == nil {
		return &ValidationError{Reason: "document is nil"}
	}
	out := *doc
	if out.Version == 0 {
		out.Version = CurrentVersion
	}
	if out.LastModified == "" {
		out.LastModified = s.now().UTC().Format(time.RFC3339Nano)
	}

	// Round-trip through the generic validator so Save and Load agree on
	// what a valid document is.
	raw, err := json.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "configstore: marshal document")
	}
	clean, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	clean.LastModified = out.LastModified

	data, err := json.MarshalIndent(clean, "", "  ")
	if err != nil {
		return errors.Wrap(err, "configstore: marshal document")
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrap(err, "configstore: create directory")
	}
	if err := fsutil.WriteFileAtomic(s.path, data, filePerm); err != nil {
		metrics.ConfigSaves.WithLabelValues(metrics.ResultError).Inc()
		return errors.Wrapf(err, "configstore: save %s", s.path)
	}
	s.setDigest(data)
	metrics.ConfigSaves.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}

func (s *Store) quarantine(cause error) {
	dest := fmt.Sprintf("%s.corrupt.%d", s.path, s.now().UnixMilli())
	if err := os.Rename(s.path, dest); err != nil {
		s.logger.Error("config file is corrupt and could not be quarantined",
			zap.String("path", s.path),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	metrics.ConfigQuarantined.Inc()
	s.logger.Warn("config file is corrupt, moved aside; falling back to defaults",
		zap.String("path", s.path),
		zap.String("quarantine", filepath.Base(dest)),
		zap.Error(cause),
	)
}
