// Package fsutil holds the write-temp-then-rename helper shared by the
// JSON stores.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// TempSuffix marks in-flight temp files.
const TempSuffix = ".tmp"

var tempSeq atomic.Uint64

// WriteFileAtomic writes data to a temp file in the destination's
// directory and renames it over path. Readers see either the old or the
// new content, never a partial write. On any failure the temp file is
// removed and path is left untouched.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	// pid + nanos + seq keeps concurrent writers from sharing a temp file.
	tmpName := fmt.Sprintf(".%s.%d.%d.%d%s", filepath.Base(path), os.Getpid(), time.Now().UnixNano(), tempSeq.Add(1), TempSuffix)
	tmp := filepath.Join(dir, tmpName)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write temp file")
	}
	// Best effort: not every filesystem honours mode bits.
	_ = f.Chmod(perm)
	if err = f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
