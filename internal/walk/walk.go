// Package walk enumerates regular files under a set of root directories,
// reporting per-path errors to a caller-supplied handler instead of
// aborting the whole walk.
package walk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	bkerrors "EzBackup-NG/internal/errors"
)

// VisitFunc is invoked once per regular file found during enumeration.
type VisitFunc func(path string, info os.FileInfo) error

// ErrorFunc is invoked for any per-path error (stat/read failure,
// permission denied, an error returned by visit). Enumeration continues
// afterward. Symlinks and other non-regular entries are skipped without
// a report.
type ErrorFunc func(path string, err error)

// Enumerate walks root, calling visit for every regular file found.
// Per-path errors are reported via onError and do not abort the walk.
// If visit returns bkerrors.ErrCancelled, the walk stops immediately and
// Enumerate returns that error to the caller; any other error from visit
// is reported via onError and the walk continues.
func Enumerate(root string, visit VisitFunc, onError ErrorFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			onError(path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			onError(path, err)
			return nil
		}

		if err := visit(path, info); err != nil {
			if errors.Is(err, bkerrors.ErrCancelled) {
				return err
			}
			onError(path, err)
		}
		return nil
	})
}
