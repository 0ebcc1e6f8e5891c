//go:build windows

package service

import "os"

// Terminate asks the process to exit. Windows offers no group-wide
// graceful signal from another process, so this targets the pid directly.
func Terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(os.Interrupt)
}

// Kill forcefully terminates the process.
func Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
