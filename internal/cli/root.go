package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by main.go
var Version = "dev"

// rootCmd is the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "ezbackup",
	Short: "Incremental, optionally encrypted filesystem backup engine",
	Long: `ezbackup walks a set of directories, classifies every file as
added, changed, or unchanged against the previous run's manifest, and
writes the result to a single archive:
  - whole-file content digests (sha1/sha256/sha512/md5) for change detection
  - an external merge sort over the checksum manifest for runs larger than RAM
  - OpenSSL-compatible salted streaming encryption (aes-256/192/128-cbc)
  - pluggable archive compression (gzip/bzip2/xz/lz4)`,
	Version: Version,
}

// Global reporter for signal handling
var globalReporter *Reporter

// Execute runs the CLI application. Returns true if CLI mode was
// activated.
func Execute(version string) bool {
	Version = version
	rootCmd.Version = version

	if len(os.Args) < 2 {
		return false
	}

	cmd := os.Args[1]
	if cmd != "backup" && cmd != "help" && cmd != "--help" && cmd != "-h" && cmd != "version" && cmd != "--version" && cmd != "-v" {
		return false
	}

	// Set up signal handling for graceful cancellation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if globalReporter != nil {
			globalReporter.Cancel()
			fmt.Fprintln(os.Stderr, "\nCancelling operation...")
		} else {
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	return true
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
