package anonymize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/hostwarden/internal/fsutil"
	"github.com/ppiankov/hostwarden/internal/storagepath"
)

// mappingFile is the on-disk form of a Mapping.
type mappingFile struct {
	Usernames     map[string]string `json:"usernames"`
	ComputerNames map[string]string `json:"computerNames"`
	IPAddresses   map[string]string `json:"ipAddresses"`
	Emails        map[string]string `json:"emails"`
	Paths         map[string]string `json:"paths"`
	Timestamp     string            `json:"timestamp"`
}

// Persist writes the mapping to path, creating parent directories.
// The path must pass storagepath.Validate.
func (m *Mapping) Persist(path string, now time.Time) error {
	path, err := storagepath.Validate(path)
	if err != nil {
		return err
	}

	snap := m.Snapshot()
	doc := mappingFile{
		Usernames:     snap[CategoryUsernames],
		ComputerNames: snap[CategoryComputerNames],
		IPAddresses:   snap[CategoryIPAddresses],
		Emails:        snap[CategoryEmails],
		Paths:         snap[CategoryPaths],
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "anonymize: marshal mapping")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "anonymize: create mapping directory")
	}
	if err := fsutil.WriteFileAtomic(path, data, 0600); err != nil {
		return errors.Wrapf(err, "anonymize: write mapping %s", path)
	}
	return nil
}

// LoadMapping reads a mapping file. Read and parse errors are returned
// as-is; the caller decides whether to fall back to an empty mapping.
// An invalid path is rejected before anything is read.
func LoadMapping(path string) (*Mapping, error) {
	path, err := storagepath.Validate(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "anonymize: read mapping %s", path)
	}

	var doc mappingFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "anonymize: parse mapping %s", path)
	}

	m := NewMapping()
	load := func(c Category, entries map[string]string) {
		for literal, tok := range entries {
			m.tables[c][literal] = tok
		}
	}
	load(CategoryUsernames, doc.Usernames)
	load(CategoryComputerNames, doc.ComputerNames)
	load(CategoryIPAddresses, doc.IPAddresses)
	load(CategoryEmails, doc.Emails)
	load(CategoryPaths, doc.Paths)
	return m, nil
}
