// Package manifest reads and writes the on-disk checksum-manifest record
// format: `<path bytes> 0x00 <hex digest> 0x0A`.
package manifest

import (
	"bufio"
	"bytes"
	"io"
	"os"

	bkerrors "EzBackup-NG/internal/errors"
)

// Entry is one manifest record: a file path paired with its digest.
type Entry struct {
	Path   []byte
	Digest string
}

// Writer appends records to an underlying file in the manifest format.
type Writer struct {
	w *bufio.Writer
	f *os.File
}

// NewWriter wraps f for buffered record output. The caller owns f and
// must call Close (or Flush, then close f itself).
func NewWriter(f *os.File) *Writer {
	return &Writer{w: bufio.NewWriter(f), f: f}
}

// Write appends one record. Embedded NUL or newline bytes in path would
// corrupt the on-disk format and are rejected.
func (w *Writer) Write(e Entry) error {
	if bytes.ContainsRune(e.Path, 0) || bytes.ContainsRune(e.Path, '\n') {
		return bkerrors.NewValidationError("path", "contains embedded NUL or newline")
	}
	if _, err := w.w.Write(e.Path); err != nil {
		return bkerrors.NewFileError("write", "", bkerrors.ErrIOOut)
	}
	if err := w.w.WriteByte(0); err != nil {
		return bkerrors.NewFileError("write", "", bkerrors.ErrIOOut)
	}
	if _, err := w.w.WriteString(e.Digest); err != nil {
		return bkerrors.NewFileError("write", "", bkerrors.ErrIOOut)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return bkerrors.NewFileError("write", "", bkerrors.ErrIOOut)
	}
	return nil
}

// Flush flushes any buffered output to the underlying file.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return bkerrors.NewFileError("write", "", bkerrors.ErrIOOut)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}

// Reader reads records sequentially from the manifest format.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for buffered record input.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, or (Entry{}, io.EOF) once the input is
// exhausted. A missing trailing newline on the final record is tolerated.
func (r *Reader) Next() (Entry, error) {
	path, err := r.r.ReadBytes(0)
	if err == io.EOF && len(path) == 0 {
		return Entry{}, io.EOF
	}
	if err != nil {
		return Entry{}, bkerrors.NewFileError("read", "", bkerrors.ErrInvalidFormat)
	}
	path = path[:len(path)-1] // drop the NUL delimiter

	line, err := r.r.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return Entry{}, bkerrors.NewFileError("read", "", bkerrors.ErrInvalidFormat)
	}
	digest := bytes.TrimSuffix(line, []byte("\n"))

	return Entry{Path: path, Digest: string(digest)}, nil
}
