package driver

// Options enumerates the configuration one backup run consumes.
type Options struct {
	// Roots is the ordered list of directories to walk. If empty, the
	// user's home directory is used.
	Roots []string

	// Exclude prunes these directory paths, and everything below them,
	// from the backup.
	Exclude []string

	// DigestAlgorithm is one of sha1, sha256, sha512, md5, none.
	DigestAlgorithm string

	// CipherKind is an OpenSSL-named cipher ("aes-256-cbc", ...) or "none".
	CipherKind string

	// Password is the encryption password; ignored when CipherKind is "none".
	Password []byte

	// Compressor is one of none, gzip, bzip2, xz, lz4.
	Compressor string

	// CompressorLevel is an optional compressor-specific level; 0 selects
	// the compressor's default.
	CompressorLevel int

	// PrevBackupPath is the previous run's archive, or "" for a first run.
	PrevBackupPath string

	// PrevDigestAlgorithm is the digest algorithm the previous run used.
	// Loading the previous manifest is skipped (non-fatally) when this
	// differs from DigestAlgorithm, since digests from different
	// algorithms cannot be meaningfully compared.
	PrevDigestAlgorithm string

	// OutputDirectory is where the new archive file is placed.
	OutputDirectory string

	// ScratchDir overrides the directory used for temp files. Empty
	// selects the OS default scratch area.
	ScratchDir string

	// Verbose records whether the caller wants progress output. Run does
	// not read it: progress always goes to the ProgressReporter passed to
	// Run, and the caller decides what that reporter prints.
	Verbose bool

	// NowUnix supplies the epoch seconds embedded in the output filename.
	// Callers provide this explicitly so the driver has no direct
	// dependency on wall-clock time.
	NowUnix int64
}
