// Package driver orchestrates one backup run: previous-manifest load,
// file enumeration and change detection, archive assembly, external
// sort, removed-file diff, and optional encryption of the final output.
package driver

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"EzBackup-NG/internal/archive"
	"EzBackup-NG/internal/backuprun"
	"EzBackup-NG/internal/changedetector"
	"EzBackup-NG/internal/cipherstream"
	"EzBackup-NG/internal/config"
	"EzBackup-NG/internal/csprng"
	bkerrors "EzBackup-NG/internal/errors"
	"EzBackup-NG/internal/log"
	"EzBackup-NG/internal/manifest"
	"EzBackup-NG/internal/manifestsort"
	"EzBackup-NG/internal/removeddiff"
	"EzBackup-NG/internal/rlimit"
	"EzBackup-NG/internal/securemem"
	"EzBackup-NG/internal/util"
	"EzBackup-NG/internal/walk"
)

// Result summarizes one completed run.
type Result struct {
	OutputPath       string
	FilesAdded       int
	FilesChanged     int
	FilesSkipped     int
	FilesRemoved     int
	ManifestUnsorted bool
}

const kdfDigest = "sha256"
const kdfIterations = 1

// Run executes the full 13-step backup pipeline described by opt.
// Failure to create the archive writer or a required scratch temp, to
// flush the current manifest, to close the archive, or to write the final
// output is fatal, as is cancellation; previous-manifest loading, sorting,
// the removed-diff and core-dump suppression degrade with a logged warning.
func Run(opt Options, reporter ProgressReporter) (*Result, error) {
	if reporter == nil {
		reporter = nullReporter{}
	}

	// Step 1: resolve roots.
	roots := opt.Roots
	if len(roots) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, bkerrors.NewValidationError("roots", "no roots configured and home directory is unresolvable")
		}
		roots = []string{home}
	}

	scratch := opt.ScratchDir
	run := backuprun.New(scratch)
	defer run.Cleanup()

	currentManifestTemp, err := run.Temp("current")
	if err != nil {
		return nil, err // fatal: cannot create manifest temp
	}
	currentWriter := manifest.NewWriter(currentManifestTemp)

	// Step 2: load previous manifest (non-fatal).
	var prevManifestFile *os.File
	if pf, lerr := loadPreviousManifest(opt, run); lerr != nil {
		log.Warn("previous manifest unavailable, treating all files as added", log.Err(lerr))
	} else {
		prevManifestFile = pf
	}

	// Step 3: compose output path.
	compressor := archive.Compressor(opt.Compressor)
	outputPath := composeOutputPath(opt.OutputDirectory, opt.NowUnix, compressor, opt.CipherKind)

	// Step 4: disable core dumps (non-fatal).
	var coreGuard rlimit.CoreGuard
	if err := coreGuard.Acquire(); err != nil {
		log.Warn("failed to disable core dumps, continuing", log.Err(err))
	}
	defer coreGuard.Release()

	archiveTemp, err := run.Temp("archive")
	if err != nil {
		return nil, err
	}

	// Step 5: open archive writer.
	aw, err := archive.NewWriter(archiveTemp, compressor, opt.CompressorLevel)
	if err != nil {
		securemem.SecureZero(opt.Password)
		return nil, err // fatal
	}

	detector := changedetector.New(opt.DigestAlgorithm, prevManifestFile, currentWriter, opt.Exclude)

	result := &Result{}

	// Step 6: walk and emit. A lightweight pre-pass sums the candidate
	// bytes so progress can report a real fraction/speed/ETA instead of a
	// file count, the same way the teacher's volume package tracks a
	// known ctx.Total across a streaming operation.
	reporter.SetStatus("scanning")
	var totalBytes int64
	for _, root := range roots {
		if err := walk.Enumerate(root, func(path string, info os.FileInfo) error {
			if reporter.IsCancelled() {
				return bkerrors.ErrCancelled
			}
			if !detector.Excluded(path) {
				totalBytes += info.Size()
			}
			return nil
		}, func(string, error) {}); errors.Is(err, bkerrors.ErrCancelled) {
			aw.Close()
			securemem.SecureZero(opt.Password)
			return nil, bkerrors.ErrCancelled
		}
	}

	reporter.SetStatus("backing up")
	start := time.Now()
	var doneBytes int64
	var cancelled bool
	for _, root := range roots {
		err := walk.Enumerate(root, func(path string, info os.FileInfo) error {
			if reporter.IsCancelled() {
				return bkerrors.ErrCancelled
			}
			if detector.Excluded(path) {
				result.FilesSkipped++
				return nil
			}

			classification, err := detector.Classify(path)
			if err != nil {
				return err
			}

			switch classification {
			case changedetector.Added:
				result.FilesAdded++
			case changedetector.Changed:
				result.FilesChanged++
			default:
				doneBytes += info.Size()
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			if err := aw.WriteFile(path, f, info); err != nil {
				return err
			}

			doneBytes += info.Size()
			progress, speed, eta := util.Statify(doneBytes, totalBytes, start)
			reporter.SetProgress(progress, fmt.Sprintf("%s (%.1f MiB/s, ETA %s)", path, speed, eta))
			reporter.Update()
			return nil
		}, func(path string, err error) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		})
		if errors.Is(err, bkerrors.ErrCancelled) {
			cancelled = true
			break
		}
	}

	// A SIGINT'd run unlinks via run.Cleanup()'s defer rather than
	// producing a partial output archive or config file (spec §5, §8.5).
	if cancelled {
		aw.Close()
		securemem.SecureZero(opt.Password)
		return nil, bkerrors.ErrCancelled
	}

	// Step 7: close previous-manifest temp. Its content is copied out first
	// so the removed-diff stage (step 10) has its own handle, since
	// manifestlookup and removeddiff must not share a *os.File cursor.
	var prevManifestCopy *os.File
	if prevManifestFile != nil {
		if _, serr := prevManifestFile.Seek(0, io.SeekStart); serr == nil {
			if cp, cerr := run.Temp("prev-for-diff"); cerr == nil {
				if _, cerr := io.Copy(cp, prevManifestFile); cerr == nil {
					prevManifestCopy = cp
				}
			}
		}
		prevManifestFile.Close()
	}
	if err := currentWriter.Close(); err != nil {
		return nil, err
	}

	// Step 8: sort current manifest, degrading to unsorted on failure.
	sortedManifestTemp, err := run.Temp("sorted")
	if err != nil {
		return nil, err
	}

	reopenedCurrent, err := os.Open(currentManifestTemp.Name())
	if err != nil {
		return nil, err
	}
	defer reopenedCurrent.Close()

	if serr := manifestsort.Sort(reopenedCurrent, sortedManifestTemp, scratch); serr != nil {
		log.Warn("external sort failed, appending unsorted manifest", log.Err(serr))
		result.ManifestUnsorted = true

		unsortedAgain, rerr := os.Open(currentManifestTemp.Name())
		if rerr == nil {
			io.Copy(sortedManifestTemp, unsortedAgain)
			unsortedAgain.Close()
		}
	}

	// Step 9: append sorted manifest.
	checksumsInfo, _ := sortedManifestTemp.Stat()
	if _, err := sortedManifestTemp.Seek(0, io.SeekStart); err == nil {
		if err := aw.WriteChecksums(sortedManifestTemp, checksumsInfo.Size()); err != nil {
			log.Warn("failed to append checksums member", log.Err(err))
		}
	}

	// Step 10: compute and append removed list.
	removedTemp, err := run.Temp("removed")
	if err != nil {
		return nil, err
	}
	if prevManifestCopy != nil {
		prevSorted, rerr := ensurePreviousManifestSorted(opt, run, prevManifestCopy)
		if rerr != nil {
			log.Warn("could not prepare previous manifest for removed-diff", log.Err(rerr))
		} else {
			sortedManifestTemp.Seek(0, io.SeekStart)
			if derr := removeddiff.Diff(prevSorted, sortedManifestTemp, removedTemp); derr != nil {
				log.Warn("removed-diff failed, writing empty removed list", log.Err(derr))
			}
		}
	}
	removedInfo, _ := removedTemp.Stat()
	removedTemp.Seek(0, io.SeekStart)
	if err := aw.WriteRemoved(removedTemp, removedInfo.Size()); err != nil {
		log.Warn("failed to append removed member", log.Err(err))
	}
	result.FilesRemoved = countLines(removedTemp)

	// Step 11: close archive.
	if err := aw.Close(); err != nil {
		securemem.SecureZero(opt.Password)
		return nil, err
	}

	// Step 12: finalise output.
	if err := finalizeOutput(opt, archiveTemp.Name(), outputPath); err != nil {
		securemem.SecureZero(opt.Password)
		return nil, err
	}

	// Step 13: persist configuration.
	persistConfig(opt, outputPath, result.ManifestUnsorted)

	result.OutputPath = outputPath
	return result, nil
}

func composeOutputPath(outputDir string, epoch int64, compressor archive.Compressor, cipherKind string) string {
	name := "backup-" + strconv.FormatInt(epoch, 10) + ".tar" + compressor.Extension()
	if cipherKind != "" && cipherKind != "none" {
		name += "." + cipherKind
	}
	return filepath.Join(outputDir, name)
}

func loadPreviousManifest(opt Options, run *backuprun.Run) (*os.File, error) {
	if opt.PrevBackupPath == "" {
		return nil, errors.New("no previous backup configured")
	}
	if opt.PrevDigestAlgorithm != "" && opt.PrevDigestAlgorithm != opt.DigestAlgorithm {
		return nil, errors.New("previous backup used a different digest algorithm")
	}

	tr, cleanup, err := openPreviousArchive(opt, opt.PrevBackupPath, run)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	prevManifestTemp, err := run.Temp("prev")
	if err != nil {
		return nil, err
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, errors.New("previous archive has no /checksums member")
		}
		if err != nil {
			return nil, err
		}
		if hdr.Name == "/checksums" {
			if _, err := io.Copy(prevManifestTemp, tr); err != nil {
				return nil, err
			}
			break
		}
	}

	return ensurePreviousManifestSorted(opt, run, prevManifestTemp)
}

// ensurePreviousManifestSorted checks the previous run's persisted
// MANIFEST_SORTED marker (the resolution for the degraded-sort open
// question, see DESIGN.md) and, if the previous run fell back to appending
// its manifest unsorted, sorts raw into a fresh temp and returns that
// instead; raw itself is left unsorted. raw must be positioned anywhere; the returned file
// is always positioned at offset 0.
func ensurePreviousManifestSorted(opt Options, run *backuprun.Run, raw *os.File) (*os.File, error) {
	cfg, _ := config.Load(opt.PrevBackupPath + ".conf")
	if cfg.ManifestSorted() {
		if _, err := raw.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return raw, nil
	}

	log.Warn("previous manifest was persisted unsorted, re-sorting before use")
	resortedTemp, err := run.Temp("prev-resorted")
	if err != nil {
		return nil, err
	}
	if _, err := raw.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := manifestsort.Sort(raw, resortedTemp, opt.ScratchDir); err != nil {
		return nil, err
	}
	if _, err := resortedTemp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return resortedTemp, nil
}

// openPreviousArchive opens a previous backup archive and returns a tar
// reader positioned at its start, transparently decrypting and
// decompressing it based on its filename suffixes.
func openPreviousArchive(opt Options, path string, run *backuprun.Run) (*tar.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, func() {}, err
	}

	var r io.Reader = f
	closers := []io.Closer{f}

	comp, cipherKind := parseArchiveSuffixes(path)

	if cipherKind != "" {
		decryptedTemp, terr := run.Temp("prev-decrypted")
		if terr != nil {
			closeAll(closers)
			return nil, func() {}, terr
		}
		cs := cipherstream.New()
		if err := cs.SetCipher(cipherKind); err != nil {
			closeAll(closers)
			return nil, func() {}, err
		}
		if err := cs.ExtractSalt(f); err != nil {
			closeAll(closers)
			return nil, func() {}, err
		}
		pwCopy := append([]byte(nil), opt.Password...)
		if err := cs.DeriveKeys(pwCopy, kdfDigest, kdfIterations); err != nil {
			closeAll(closers)
			return nil, func() {}, err
		}
		if err := cs.Decrypt(f, decryptedTemp); err != nil {
			closeAll(closers)
			return nil, func() {}, err
		}
		decryptedTemp.Seek(0, io.SeekStart)
		r = decryptedTemp
		closers = append(closers, decryptedTemp)
	}

	decompressed, decompCloser, err := wrapDecompressor(r, comp)
	if err != nil {
		closeAll(closers)
		return nil, func() {}, err
	}
	if decompCloser != nil {
		closers = append(closers, decompCloser)
	}

	return tar.NewReader(decompressed), func() { closeAll(closers) }, nil
}

func parseArchiveSuffixes(path string) (archive.Compressor, string) {
	base := filepath.Base(path)
	var cipherKind string
	for _, kind := range []string{"aes-256-cbc", "aes-192-cbc", "aes-128-cbc"} {
		if strings.HasSuffix(base, "."+kind) {
			cipherKind = kind
			base = strings.TrimSuffix(base, "."+kind)
			break
		}
	}

	switch {
	case strings.HasSuffix(base, ".gz"):
		return archive.CompressorGzip, cipherKind
	case strings.HasSuffix(base, ".bz2"):
		return archive.CompressorBzip2, cipherKind
	case strings.HasSuffix(base, ".xz"):
		return archive.CompressorXZ, cipherKind
	case strings.HasSuffix(base, ".lz4"):
		return archive.CompressorLZ4, cipherKind
	default:
		return archive.CompressorNone, cipherKind
	}
}

// wrapDecompressor returns a reader over r that transparently decompresses
// comp's framing, plus a closer to release any decoder-internal resources
// (nil when the decoder needs none).
func wrapDecompressor(r io.Reader, comp archive.Compressor) (io.Reader, io.Closer, error) {
	switch comp {
	case archive.CompressorNone, "":
		return r, nil, nil
	case archive.CompressorGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, bkerrors.NewCryptoError("archive_open", err)
		}
		return gz, gz, nil
	case archive.CompressorBzip2:
		bz, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, nil, bkerrors.NewCryptoError("archive_open", err)
		}
		return bz, bz, nil
	case archive.CompressorXZ:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, bkerrors.NewCryptoError("archive_open", err)
		}
		return xzr, nil, nil
	case archive.CompressorLZ4:
		return lz4.NewReader(r), nil, nil
	default:
		return nil, nil, bkerrors.NewCryptoError("archive_open", bkerrors.ErrUnknownAlgorithm)
	}
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
}

func countLines(f *os.File) int {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return 0
	}
	f.Seek(0, io.SeekStart)
	buf := make([]byte, 32*1024)
	count := 0
	for {
		n, err := f.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				count++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
	}
	return count
}

func finalizeOutput(opt Options, archiveTempPath, outputPath string) error {
	if opt.CipherKind != "" && opt.CipherKind != "none" {
		return encryptToOutput(opt, archiveTempPath, outputPath)
	}
	return renameOrCopy(archiveTempPath, outputPath)
}

func encryptToOutput(opt Options, archiveTempPath, outputPath string) error {
	in, err := os.Open(archiveTempPath)
	if err != nil {
		return bkerrors.NewFileError("open", archiveTempPath, bkerrors.ErrIOIn)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return bkerrors.NewFileError("create", outputPath, bkerrors.ErrIOOut)
	}

	cs := cipherstream.New()
	if err := cs.SetCipher(opt.CipherKind); err != nil {
		out.Close()
		os.Remove(outputPath)
		return err
	}
	if err := cs.GenerateSalt(secureRandomFill); err != nil {
		out.Close()
		os.Remove(outputPath)
		return err
	}
	pwCopy := append([]byte(nil), opt.Password...)
	if err := cs.DeriveKeys(pwCopy, kdfDigest, kdfIterations); err != nil {
		out.Close()
		os.Remove(outputPath)
		return err
	}
	if err := cs.Encrypt(in, out); err != nil {
		return err
	}
	return out.Close()
}

func renameOrCopy(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || linkErr.Err != syscall.EXDEV {
		return bkerrors.NewFileError("rename", src, bkerrors.ErrIOOut)
	}

	// Cross-filesystem rename: copy, fsync, then unlink the original.
	in, err := os.Open(src)
	if err != nil {
		return bkerrors.NewFileError("open", src, bkerrors.ErrIOIn)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return bkerrors.NewFileError("create", dst, bkerrors.ErrIOOut)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return bkerrors.NewFileError("write", dst, bkerrors.ErrIOOut)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return bkerrors.NewFileError("fsync", dst, bkerrors.ErrIOOut)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return bkerrors.NewFileError("close", dst, bkerrors.ErrIOOut)
	}
	os.Remove(src)
	return nil
}

func persistConfig(opt Options, outputPath string, manifestUnsorted bool) {
	cfg := config.New()
	cfg.SetMulti(config.KeyDirectories, opt.Roots)
	cfg.SetMulti(config.KeyExclude, opt.Exclude)
	cfg.Set(config.KeyHashAlgorithm, opt.DigestAlgorithm)
	cfg.Set(config.KeyEncAlgorithm, opt.CipherKind)
	cfg.Set(config.KeyCompressorType, opt.Compressor)
	cfg.Set(config.KeyCompressorLevel, strconv.Itoa(opt.CompressorLevel))
	cfg.Set(config.KeyOutputDirectory, opt.OutputDirectory)
	cfg.SetManifestSorted(!manifestUnsorted)

	if err := cfg.Save(outputPath + ".conf"); err != nil {
		log.Warn("failed to persist run configuration", log.Err(err))
	}
}

// secureRandomFill adapts csprng.RandomBytes to GenerateSalt's rnd
// signature: a low-grade fallback still fully populates dst, so only a
// warning is logged rather than failing the run.
func secureRandomFill(dst []byte) error {
	err := csprng.RandomBytes(dst)
	if err != nil && errors.Is(err, csprng.ErrLowGradeFallback) {
		log.Warn("csprng fell back to low-grade random source for output salt", log.Err(err))
		return nil
	}
	return err
}
