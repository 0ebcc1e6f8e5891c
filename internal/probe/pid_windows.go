//go:build windows

package probe

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Alive reports whether a process with the given pid currently exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// SameProcess reports whether pid still refers to the process observed at
// startUnix, tolerating one second of rounding.
func SameProcess(pid int, startUnix int64) bool {
	if !Alive(pid) {
		return false
	}
	if startUnix <= 0 {
		return true
	}
	cur := StartUnix(pid)
	if cur <= 0 {
		return true
	}
	diff := cur - startUnix
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// StartUnix returns the process creation time as Unix seconds, or 0 when
// unavailable.
func StartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}
