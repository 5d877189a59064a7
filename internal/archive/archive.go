// Package archive writes the backup engine's output archive: a
// pax_restricted tar stream, optionally piped through a compressor,
// containing /files/* entries followed by /checksums and /removed.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	bkerrors "EzBackup-NG/internal/errors"
)

// entryMode masks every archived file's permission bits to 01777, per the
// archive layout contract in spec §6.
const entryMode = 0o1777

// Compressor names the pluggable compression backends an archive can be
// piped through before it hits disk.
type Compressor string

const (
	CompressorNone  Compressor = "none"
	CompressorGzip  Compressor = "gzip"
	CompressorBzip2 Compressor = "bzip2"
	CompressorXZ    Compressor = "xz"
	CompressorLZ4   Compressor = "lz4"
)

// Extension returns the filename suffix associated with this compressor,
// or "" for CompressorNone.
func (c Compressor) Extension() string {
	switch c {
	case CompressorGzip:
		return ".gz"
	case CompressorBzip2:
		return ".bz2"
	case CompressorXZ:
		return ".xz"
	case CompressorLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Writer wraps a tar.Writer with the driver's ordered-append contract:
// WriteFile for /files/* entries, then WriteChecksums, then WriteRemoved.
type Writer struct {
	tw      *tar.Writer
	closers []io.Closer
}

// NewWriter opens an archive writer against f, configured with the given
// compressor and level (level is ignored by compressors that don't
// support one).
func NewWriter(f *os.File, compressor Compressor, level int) (*Writer, error) {
	var w io.Writer = f
	var closers []io.Closer

	switch compressor {
	case CompressorNone, "":
		// no wrapping
	case CompressorGzip:
		gz, err := gzip.NewWriterLevel(f, normalizeLevel(level, gzip.DefaultCompression, gzip.BestCompression))
		if err != nil {
			return nil, bkerrors.NewCryptoError("archive_open", err)
		}
		w = gz
		closers = append(closers, gz)
	case CompressorBzip2:
		bz, err := bzip2.NewWriter(f, &bzip2.WriterConfig{Level: normalizeLevel(level, 6, 9)})
		if err != nil {
			return nil, bkerrors.NewCryptoError("archive_open", err)
		}
		w = bz
		closers = append(closers, bz)
	case CompressorXZ:
		xzw, err := xz.NewWriter(f)
		if err != nil {
			return nil, bkerrors.NewCryptoError("archive_open", err)
		}
		w = xzw
		closers = append(closers, xzw)
	case CompressorLZ4:
		lzw := lz4.NewWriter(f)
		if level > 0 {
			lzw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(level)))
		}
		w = lzw
		closers = append(closers, lzw)
	default:
		return nil, bkerrors.NewCryptoError("archive_open", bkerrors.ErrUnknownAlgorithm)
	}

	tw := tar.NewWriter(w)
	closers = append(closers, tw)

	return &Writer{tw: tw, closers: closers}, nil
}

func normalizeLevel(level, def, max int) int {
	if level <= 0 {
		return def
	}
	if level > max {
		return max
	}
	return level
}

// WriteFile appends one archived regular file under /files/<path>,
// preserving mtime/atime/ctime/uid/gid where info and sys info permit,
// with permission bits masked to entryMode.
func (w *Writer) WriteFile(absPath string, r io.Reader, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return bkerrors.NewFileError("archive_header", absPath, err)
	}
	hdr.Name = "/files" + absPath
	hdr.Mode &= entryMode
	hdr.Format = tar.FormatPAX

	if err := w.tw.WriteHeader(hdr); err != nil {
		return bkerrors.NewFileError("archive_write", absPath, bkerrors.ErrIOOut)
	}
	if _, err := io.Copy(w.tw, r); err != nil {
		return bkerrors.NewFileError("archive_write", absPath, bkerrors.ErrIOOut)
	}
	return nil
}

// WriteChecksums appends the sorted manifest as /checksums.
func (w *Writer) WriteChecksums(r io.Reader, size int64) error {
	return w.writeMember("/checksums", r, size)
}

// WriteRemoved appends the removed-path list as /removed.
func (w *Writer) WriteRemoved(r io.Reader, size int64) error {
	return w.writeMember("/removed", r, size)
}

func (w *Writer) writeMember(name string, r io.Reader, size int64) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     entryMode,
		Size:     size,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return bkerrors.NewFileError("archive_write", name, bkerrors.ErrIOOut)
	}
	if _, err := io.Copy(w.tw, r); err != nil {
		return bkerrors.NewFileError("archive_write", name, bkerrors.ErrIOOut)
	}
	return nil
}

// Close flushes and closes the tar writer and every compressor layer, in
// the order they must be closed: tw first, so its trailing zero blocks
// still go through an open compressor, then the compressor layers in
// reverse append order (outermost last).
func (w *Writer) Close() error {
	var firstErr error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return bkerrors.NewCryptoError("archive_close", firstErr)
	}
	return nil
}
