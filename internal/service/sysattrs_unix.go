//go:build !windows

package service

import (
	"os/exec"
	"syscall"
)

// Detach places the child in a new session so it survives supervisor exit
// and has no controlling terminal. The session leader's pid is also its
// process group id, which group signaling relies on.
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
