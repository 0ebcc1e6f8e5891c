//go:build windows

package service

import (
	"os/exec"
	"syscall"
)

// Detach starts the child in its own process group. Windows has no
// sessions in the POSIX sense; CREATE_NEW_PROCESS_GROUP is the closest
// equivalent for outliving the parent and receiving group signals.
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
