// Command ezbackup is an incremental, optionally encrypted filesystem
// backup engine.
package main

import (
	"os"

	"EzBackup-NG/internal/cli"
)

var version = "dev"

func main() {
	if cli.Execute(version) {
		return
	}

	os.Stderr.WriteString("usage: ezbackup backup [flags]\n")
	os.Exit(1)
}
