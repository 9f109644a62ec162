// Package storagepath validates the on-disk locations of config, audit
// and mapping files before anything is opened.
package storagepath

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidPath is the sentinel matched by every rejection.
var ErrInvalidPath = errors.New("invalid storage path")

// Error describes why a storage path was rejected.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return "storage path " + quote(e.Path) + ": " + e.Reason
}

// Is lets errors.Is(err, ErrInvalidPath) match any *Error.
func (e *Error) Is(target error) bool {
	return target == ErrInvalidPath
}

var allowedExt = map[string]bool{
	".json":  true,
	".jsonl": true,
}

// Validate rejects traversal sequences in the raw input and any
// extension other than .json/.jsonl. It returns the absolute, cleaned
// path on success.
func Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &Error{Path: raw, Reason: "must not be empty"}
	}

	// Traversal is checked on the raw input; Abs would silently fold it away.
	normalized := strings.ReplaceAll(raw, `\`, "/")
	if strings.Contains(normalized, "../") || strings.Contains(normalized, "/..") {
		return "", &Error{Path: raw, Reason: "path traversal is not allowed"}
	}

	resolved, err := filepath.Abs(normalized)
	if err != nil {
		return "", errors.Wrapf(err, "resolve storage path %q", raw)
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	if !allowedExt[ext] {
		return "", &Error{Path: raw, Reason: "extension must be .json or .jsonl"}
	}

	return resolved, nil
}

func quote(s string) string {
	return `"` + s + `"`
}
