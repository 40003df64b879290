//go:build unix

package procutil

import (
	"os/exec"
	"syscall"
)

// detach configures cmd to start in its own session, detached from the
// parent's process group and controlling terminal — the Go equivalent of
// Python's subprocess.Popen(..., start_new_session=True). This is how the
// intake daemon launches the sweeper: it must keep running (and be killable
// as a unit) independently of the daemon's own lifecycle.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
