// Package removeddiff computes the set of paths present in a previous
// backup run's sorted manifest but absent from the current run's sorted
// manifest, via a two-pointer merge over both.
package removeddiff

import (
	"bufio"
	"bytes"
	"io"
	"os"

	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/manifest"
)

// Diff reads prev and current (both sorted manifests) and writes one
// removed path per line, terminated by '\n', to out.
func Diff(prev, current io.Reader, out *os.File) error {
	pr := manifest.NewReader(prev)
	cr := manifest.NewReader(current)
	w := bufio.NewWriter(out)

	prevEntry, prevErr := pr.Next()
	curEntry, curErr := cr.Next()
	if curErr != nil && curErr != io.EOF {
		return curErr
	}

	for prevErr == nil {
		if curErr == io.EOF {
			// Current is exhausted; every remaining previous path was removed.
			if err := writeRemoved(w, prevEntry.Path); err != nil {
				return err
			}
			prevEntry, prevErr = pr.Next()
			continue
		}

		switch bytes.Compare(prevEntry.Path, curEntry.Path) {
		case 0:
			prevEntry, prevErr = pr.Next()
			curEntry, curErr = cr.Next()
		case -1:
			if err := writeRemoved(w, prevEntry.Path); err != nil {
				return err
			}
			prevEntry, prevErr = pr.Next()
		case 1:
			curEntry, curErr = cr.Next()
		}
		if curErr != nil && curErr != io.EOF {
			return curErr
		}
	}

	if prevErr != io.EOF {
		return prevErr
	}

	if err := w.Flush(); err != nil {
		return bkerrors.NewFileError("write", out.Name(), bkerrors.ErrIOOut)
	}
	return nil
}

func writeRemoved(w *bufio.Writer, path []byte) error {
	if _, err := w.Write(path); err != nil {
		return bkerrors.ErrIOOut
	}
	return w.WriteByte('\n')
}
