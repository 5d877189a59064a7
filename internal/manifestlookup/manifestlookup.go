// Package manifestlookup binary-searches a sorted manifest file for an
// exact path match, without loading the manifest into memory.
package manifestlookup

import (
	"bufio"
	"bytes"
	"io"
	"os"

	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/util"
)

// Result is the outcome of a Lookup call.
type Result int

const (
	// Absent means no record for the path exists in the manifest.
	Absent Result = iota
	// Found means a record for the path exists; Lookup returns its digest
	// alongside.
	Found
)

// Lookup binary-searches f (already opened on a sorted manifest) for path.
// f's position is not meaningful on return.
func Lookup(f *os.File, path []byte) (Result, string, error) {
	info, err := f.Stat()
	if err != nil {
		return Absent, "", bkerrors.NewFileError("stat", f.Name(), bkerrors.ErrIOIn)
	}
	size := info.Size()
	if size == 0 {
		return Absent, "", nil
	}

	lo, hi := int64(0), size
	for hi-lo > 0 {
		mid := lo + (hi-lo)/2

		recPath, recDigest, recStart, recEnd, err := readRecordAt(f, mid, size)
		if err != nil {
			return Absent, "", err
		}

		switch bytes.Compare(path, recPath) {
		case 0:
			return Found, recDigest, nil
		case -1:
			if recStart == lo {
				return Absent, "", nil
			}
			hi = recStart
		case 1:
			if recEnd == hi {
				return Absent, "", nil
			}
			lo = recEnd
		}

		// Termination requires a strictly-shrinking window; a record that
		// spans the entire remaining window with no progress would loop
		// forever otherwise.
		if hi-lo <= 0 {
			return Absent, "", nil
		}
	}

	return Absent, "", nil
}

// readRecordAt seeks to offset, scans backward to the nearest record
// boundary (the byte after the previous '\n', or BOF), and reads one full
// record from there. It returns the record's path, digest, and the byte
// offsets bounding the record within the file.
func readRecordAt(f *os.File, offset, size int64) (path []byte, digest string, start, end int64, err error) {
	start, err = scanBackToBoundary(f, offset)
	if err != nil {
		return nil, "", 0, 0, err
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, "", 0, 0, bkerrors.NewFileError("seek", f.Name(), bkerrors.ErrIOIn)
	}
	r := bufio.NewReader(f)

	pathBytes, err := r.ReadBytes(0)
	if err != nil {
		return nil, "", 0, 0, bkerrors.NewCryptoError("lookup", bkerrors.ErrInvalidFormat)
	}
	pathBytes = pathBytes[:len(pathBytes)-1]

	line, err := r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, "", 0, 0, bkerrors.NewCryptoError("lookup", bkerrors.ErrInvalidFormat)
	}
	digestBytes := bytes.TrimSuffix(line, []byte("\n"))

	consumed := int64(len(pathBytes) + 1 + len(digestBytes))
	if err != io.EOF {
		consumed++ // the trailing newline itself
	}
	end = start + consumed
	if end > size {
		end = size
	}

	return pathBytes, string(digestBytes), start, end, nil
}

// scanBackToBoundary returns the offset of the byte following the nearest
// '\n' strictly before offset, or 0 if none exists. A '\n' at offset
// itself ends the record containing offset, so it is not a boundary here.
func scanBackToBoundary(f *os.File, offset int64) (int64, error) {
	const window = 4096 // matches util.SmallPool's buffer size
	pos := offset

	pooled := util.GetSmallBuffer()
	defer util.PutSmallBuffer(pooled)

	for pos > 0 {
		readLen := int64(window)
		if readLen > pos {
			readLen = pos
		}
		start := pos - readLen

		buf := pooled[:readLen]
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return 0, bkerrors.NewFileError("read", f.Name(), bkerrors.ErrIOIn)
		}

		if idx := bytes.LastIndexByte(buf, '\n'); idx >= 0 {
			return start + int64(idx) + 1, nil
		}
		pos = start
	}

	return 0, nil
}
