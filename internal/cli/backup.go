package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"EzBackup-NG/internal/driver"
	"EzBackup-NG/internal/util"
)

var backupFlags struct {
	dirs          []string
	exclude       []string
	hashAlgorithm string
	cipher        string
	compressor    string
	level         int
	prevBackup    string
	prevHash      string
	outDir        string
	scratchDir    string
	passwordStdin bool
	quiet         bool
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run an incremental backup",
	Long: `backup walks the configured directories, classifies every file as
added, changed, or unchanged against the previous run's manifest (when
--prev is given), and writes a single archive containing the changed
file contents, the full checksum manifest, and the list of removed
paths.`,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringSliceVarP(&backupFlags.dirs, "dir", "d", nil, "directory to back up (repeatable; defaults to the home directory)")
	backupCmd.Flags().StringSliceVarP(&backupFlags.exclude, "exclude", "x", nil, "directory to exclude (repeatable)")
	backupCmd.Flags().StringVar(&backupFlags.hashAlgorithm, "hash", "sha256", "digest algorithm: sha1, sha256, sha512, md5, none")
	backupCmd.Flags().StringVar(&backupFlags.cipher, "cipher", "none", "cipher: aes-256-cbc, aes-192-cbc, aes-128-cbc, none")
	backupCmd.Flags().StringVar(&backupFlags.compressor, "compressor", "gzip", "compressor: gzip, bzip2, xz, lz4, none")
	backupCmd.Flags().IntVar(&backupFlags.level, "level", 0, "compressor level (0 selects the compressor's default)")
	backupCmd.Flags().StringVar(&backupFlags.prevBackup, "prev", "", "path to the previous backup archive, for incremental detection")
	backupCmd.Flags().StringVar(&backupFlags.prevHash, "prev-hash", "", "digest algorithm the previous backup used (defaults to --hash)")
	backupCmd.Flags().StringVarP(&backupFlags.outDir, "output", "o", ".", "directory to write the new archive into")
	backupCmd.Flags().StringVar(&backupFlags.scratchDir, "scratch", "", "directory for scratch temp files (defaults to the OS temp area)")
	backupCmd.Flags().BoolVarP(&backupFlags.passwordStdin, "password-stdin", "P", false, "read the encryption password from stdin instead of prompting")
	backupCmd.Flags().BoolVarP(&backupFlags.quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	reporter := NewReporter(backupFlags.quiet)
	globalReporter = reporter
	defer reporter.Finish()

	var password []byte
	if backupFlags.cipher != "none" && backupFlags.cipher != "" {
		pw, err := readBackupPassword()
		if err != nil {
			reporter.PrintError("%v", err)
			return err
		}
		password = []byte(pw)
	}

	prevHash := backupFlags.prevHash
	if prevHash == "" {
		prevHash = backupFlags.hashAlgorithm
	}

	opt := driver.Options{
		Roots:               backupFlags.dirs,
		Exclude:             backupFlags.exclude,
		DigestAlgorithm:     backupFlags.hashAlgorithm,
		CipherKind:          backupFlags.cipher,
		Password:            password,
		Compressor:          backupFlags.compressor,
		CompressorLevel:     backupFlags.level,
		PrevBackupPath:      backupFlags.prevBackup,
		PrevDigestAlgorithm: prevHash,
		OutputDirectory:     backupFlags.outDir,
		ScratchDir:          backupFlags.scratchDir,
		Verbose:             !backupFlags.quiet,
		NowUnix:             time.Now().Unix(),
	}

	result, err := driver.Run(opt, reporter)
	if err != nil {
		reporter.PrintError("%v", err)
		return err
	}

	sizeText := "unknown size"
	if info, statErr := os.Stat(result.OutputPath); statErr == nil {
		sizeText = util.Sizeify(info.Size())
	}

	reporter.PrintSuccess("wrote %s, %s (added %d, changed %d, removed %d, skipped %d)",
		result.OutputPath, sizeText, result.FilesAdded, result.FilesChanged, result.FilesRemoved, result.FilesSkipped)
	return nil
}

func readBackupPassword() (string, error) {
	if backupFlags.passwordStdin {
		return ReadPasswordFromStdin()
	}
	if !isTerminal() {
		return "", fmt.Errorf("refusing to prompt for a password on a non-terminal stdin; use --password-stdin")
	}
	return ReadPasswordInteractive(true)
}
