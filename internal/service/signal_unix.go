//go:build !windows

package service

import "syscall"

// Terminate sends SIGTERM to the whole process group of pid.
func Terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the whole process group of pid.
func Kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
