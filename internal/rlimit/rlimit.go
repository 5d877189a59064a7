// Package rlimit provides a scoped guard over RLIMIT_CORE: the backup
// driver disables core dumps for the duration of a run so that secrets
// never land in a crash dump, and restores the prior limit on exit.
package rlimit

import (
	"golang.org/x/sys/unix"

	"EzBackup-NG/internal/log"
)

// CoreGuard disables core dumps on Acquire and restores the previous
// RLIMIT_CORE on Release. Acquire failures are non-fatal: the caller
// should log a warning and continue, since secrets are still scrubbed
// independently of this guard.
type CoreGuard struct {
	prior    unix.Rlimit
	acquired bool
}

// Acquire records the current RLIMIT_CORE and sets both the soft and hard
// limits to zero.
func (g *CoreGuard) Acquire() error {
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &g.prior); err != nil {
		return err
	}

	zero := unix.Rlimit{Cur: 0, Max: 0}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &zero); err != nil {
		return err
	}

	g.acquired = true
	log.Debug("disabled core dumps for run", log.Int("prior_soft", int(g.prior.Cur)), log.Int("prior_hard", int(g.prior.Max)))
	return nil
}

// Release restores the RLIMIT_CORE recorded by Acquire. A no-op if
// Acquire never succeeded.
func (g *CoreGuard) Release() {
	if !g.acquired {
		return
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &g.prior); err != nil {
		log.Warn("failed to restore RLIMIT_CORE", log.Err(err))
	}
	g.acquired = false
}
