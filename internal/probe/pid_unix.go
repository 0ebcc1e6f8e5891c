//go:build !windows

package probe

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// Alive reports whether a process with the given pid currently exists.
// EPERM still means the pid is in use. A Linux zombie counts as dead:
// it can no longer do work and only awaits reaping.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	if runtime.GOOS == "linux" && isZombie(pid) {
		return false
	}
	return true
}

// isZombie reads /proc/<pid>/status and checks for state Z.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// SameProcess reports whether pid still refers to the process observed at
// startUnix. A recycled pid shows a different kernel start time. When
// either side's start time is unknown the check degrades to plain
// liveness; a one second skew is tolerated for tick rounding.
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

// StartUnix returns the kernel start time of pid as Unix seconds, or 0
// when unavailable.
func StartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return startUnixLinux(pid)
	}
	// Darwin/BSD: gopsutil reads the sysctl process table.
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

// startUnixLinux derives the start time from /proc without spawning
// anything: starttime ticks (field 22 of /proc/[pid]/stat) on top of the
// boot time from /proc/stat.
func startUnixLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// The comm field may contain spaces; it always ends with ") ".
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	fields := strings.Fields(strings.TrimSpace(line[end+2:]))
	// starttime is overall field 22, index 19 after state.
	if len(fields) < 20 {
		return 0
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0
	}

	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	var btime int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := sc.Text()
		if strings.HasPrefix(text, "btime ") {
			if v, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(text, "btime ")), 10, 64); err == nil {
				btime = v
			}
			break
		}
	}
	if btime == 0 {
		return 0
	}

	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + ticks/int64(clk)
}
