// Package audit keeps the tamper-evident record of configuration
// changes: an append-only JSONL file where every entry's hash covers the
// previous entry's hash.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/metrics"
	"github.com/ppiankov/hostwarden/internal/storagepath"
)

// GenesisHash is the _previousHash of the first entry in a file.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout used in entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Rotation defaults.
const (
	DefaultMaxSize  int64 = 10 * 1024 * 1024
	DefaultMaxFiles       = 5
)

// Options configures a Log. Zero values select the defaults.
type Options struct {
	MaxSize  int64
	MaxFiles int
	Logger   *zap.Logger
	Now      func() time.Time
}

// Log is the hash-chained JSONL audit log. All appends go through one
// mutex so the read-tip/compute/append sequence cannot interleave.
type Log struct {
	path     string
	maxSize  int64
	maxFiles int
	logger   *zap.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// Open validates path and prepares the log directory. The file itself is
// created on first append.
func Open(path string, opts Options) (*Log, error) {
	resolved, err := storagepath.Validate(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0700); err != nil {
		return nil, errors.Wrap(err, "audit: create directory")
	}

	l := &Log{
		path:     resolved,
		maxSize:  opts.MaxSize,
		maxFiles: opts.MaxFiles,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if l.maxSize <= 0 {
		l.maxSize = DefaultMaxSize
	}
	if l.maxFiles <= 0 {
		l.maxFiles = DefaultMaxFiles
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Path returns the live log file path.
func (l *Log) Path() string {
	return l.path
}

// Record appends ev to the log and returns the stored entry. The tip hash
// is read from disk on every append.
func (l *Log) Record(ev Event) (Entry, error) {
	if !ev.Action.Valid() {
		return Entry{}, errors.Newf("audit: unknown action %q", ev.Action)
	}
	prev, err := encodeValue(ev.PreviousValue)
	if err != nil {
		return Entry{}, errors.Wrap(err, "audit: encode previous value")
	}
	next, err := encodeValue(ev.NewValue)
	if err != nil {
		return Entry{}, errors.Wrap(err, "audit: encode new value")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rotateIfNeeded()

	tip, err := l.tipHash()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Timestamp:     l.now().UTC().Format(TimestampFormat),
		Action:        ev.Action,
		ServiceID:     ev.ServiceID,
		PreviousValue: prev,
		NewValue:      next,
		Source:        ev.Source,
	}
	body, err := entry.canonicalJSON()
	if err != nil {
		return Entry{}, errors.Wrap(err, "audit: marshal entry")
	}
	entry.PreviousHash = tip
	entry.Hash = ComputeHash(tip, body)

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, errors.Wrap(err, "audit: marshal entry")
	}
	if err := appendLine(l.path, line); err != nil {
		return Entry{}, err
	}

	metrics.AuditEntries.WithLabelValues(string(ev.Action)).Inc()
	return entry, nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "audit: open file")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return errors.Wrap(err, "audit: write entry")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "audit: sync")
	}
	return errors.Wrap(f.Close(), "audit: close file")
}

// tipHash returns the _hash of the last entry, or GenesisHash when the
// live file is missing or empty. An unreadable tail is an error: the
// chain is never silently restarted.
func (l *Log) tipHash() (string, error) {
	last, err := lastLine(l.path)
	if err != nil {
		return "", errors.Wrap(err, "audit: read tail")
	}
	if len(last) == 0 {
		return GenesisHash, nil
	}
	var tail struct {
		Hash string `json:"_hash"`
	}
	if err := json.Unmarshal(last, &tail); err != nil {
		return "", errors.Wrap(err, "audit: tail entry is not valid JSON")
	}
	if tail.Hash == "" {
		return "", errors.New("audit: tail entry has no _hash")
	}
	return tail.Hash, nil
}

// lastLine returns the last non-empty line of path without reading the
// whole file.
func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	const chunk = 4096
	var buf []byte
	end := info.Size()
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		part := make([]byte, end-start)
		if _, err := f.ReadAt(part, start); err != nil {
			return nil, err
		}
		buf = append(part, buf...)
		trimmed := bytes.TrimRight(buf, "\r\n")
		if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
			return trimmed[idx+1:], nil
		}
		end = start
	}
	return bytes.TrimRight(buf, "\r\n"), nil
}

// rotateIfNeeded must be called with mu held. Failures are logged and the
// append continues on the current file.
func (l *Log) rotateIfNeeded() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() < l.maxSize {
		return
	}
	if err := l.rotate(); err != nil {
		l.logger.Warn("audit log rotation failed, appending to current file",
			zap.String("path", l.path),
			zap.Error(err),
		)
		return
	}
	metrics.AuditRotations.Inc()
	l.logger.Info("audit log rotated", zap.String("path", l.path), zap.Int64("size", info.Size()))
}

func (l *Log) rotate() error {
	if err := os.Remove(l.rotatedName(l.maxFiles)); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := l.maxFiles - 1; i >= 1; i-- {
		src := l.rotatedName(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, l.rotatedName(i+1)); err != nil {
			return err
		}
	}
	return os.Rename(l.path, l.rotatedName(1))
}

// rotatedName returns <base>.<n><ext>, e.g. audit.3.jsonl.
func (l *Log) rotatedName(n int) string {
	ext := filepath.Ext(l.path)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(l.path, ext), n, ext)
}

// RotatedFiles lists the rotated files that exist, newest first.
func (l *Log) RotatedFiles() []string {
	var out []string
	for i := 1; i <= l.maxFiles; i++ {
		name := l.rotatedName(i)
		if _, err := os.Stat(name); err == nil {
			out = append(out, name)
		}
	}
	return out
}

// RecentEntries returns up to n of the newest entries in the live file,
// oldest first. Malformed lines are skipped.
func (l *Log) RecentEntries(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := readEntries(l.path)
	if err != nil {
		return nil, err
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// VerifyIntegrity walks the live file and checks the hash chain.
func (l *Log) VerifyIntegrity() VerifyResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Verify(l.path)
}
