//go:build !windows

package browser

import (
	"os/exec"
	"syscall"
)

// detach puts Chrome in its own process group so a terminal interrupt aimed
// at the command does not reach it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
