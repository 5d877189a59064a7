// Package backuprun groups the scratch temp files one backup run needs
// (previous/current/sorted manifests, removed list, archive) under
// unique names, and guarantees they are unlinked on every exit path.
package backuprun

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/log"
)

// Run owns every scratch temp file for one backup and unlinks them all
// when Cleanup is called, regardless of whether the run succeeded.
type Run struct {
	dir   string
	token string
	files []*os.File
	paths []string
}

// New creates a Run rooted at dir (the system scratch area, or an
// explicit override for tests). Each temp file created through this Run
// is tagged with a shared UUID so related scratch files are easy to spot
// on disk during debugging.
func New(dir string) *Run {
	return &Run{dir: dir, token: uuid.NewString()}
}

// Temp creates a new, empty temp file tagged with label (e.g. "prev",
// "current", "sorted", "removed", "archive").
func (r *Run) Temp(label string) (*os.File, error) {
	pattern := "ezbackup-" + r.token + "-" + label + "-*"
	f, err := os.CreateTemp(r.dir, pattern)
	if err != nil {
		return nil, bkerrors.NewFileError("create", filepath.Join(r.dir, pattern), bkerrors.ErrIOOut)
	}
	r.files = append(r.files, f)
	r.paths = append(r.paths, f.Name())
	return f, nil
}

// Cleanup closes and unlinks every temp file created by this Run. Safe
// to call multiple times.
func (r *Run) Cleanup() {
	for _, f := range r.files {
		f.Close()
	}
	for _, p := range r.paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove scratch file", log.String("path", p), log.Err(err))
		}
	}
	r.files = nil
	r.paths = nil
}
