// Package procutil spawns detached helper processes (the sweeper binary)
// from the intake daemon.
package procutil

import (
	"fmt"
	"os/exec"
)

// SpawnDetached starts name with args in its own session, discarding its
// stdout/stderr, and does not wait for it to exit. It returns as soon as the
// process has started.
func SpawnDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", name, err)
	}
	// Reap the process asynchronously so it doesn't linger as a zombie once
	// it exits; we never wait on its result.
	go func() { _ = cmd.Wait() }()
	return nil
}
