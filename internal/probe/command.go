package probe

import (
	"errors"
	"os/exec"
	"strings"
)

// CommandProbe runs a command that exits zero once the service is ready.
type CommandProbe struct {
	Command string
}

func (p CommandProbe) Ready() (bool, error) {
	cmd := buildProbeCommand(p.Command)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// Non-zero exit means not ready yet.
		return false, nil
	}
	return false, err
}

func (p CommandProbe) Describe() string { return "cmd:" + p.Command }

// buildProbeCommand avoids a shell unless metacharacters require one.
func buildProbeCommand(line string) *exec.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return trueCommand()
	}
	if strings.ContainsAny(line, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(line)
	}
	fields := strings.Fields(line)
	// #nosec G204
	return exec.Command(fields[0], fields[1:]...)
}
