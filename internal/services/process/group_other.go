//go:build !unix

package process

import (
	"fmt"
	"os/exec"

	"github.com/shirou/gopsutil/v3/process"
)

// setProcessGroup does nothing: without process groups only the launched
// process itself is signaled.
func setProcessGroup(*exec.Cmd) {}

func signalGroup(pid int, sig Signal) error {
	h, err := process.NewProcess(int32(pid)) //nolint:gosec // pids fit in int32
	if err != nil {
		return fmt.Errorf("looking up process %d: %w", pid, err)
	}
	switch sig {
	case SignalStop:
		return h.Suspend()
	case SignalContinue:
		return h.Resume()
	case SignalTerminate:
		return h.Terminate()
	default:
		return fmt.Errorf("unsupported signal %s", sig)
	}
}

func killGroup(pid int) error {
	h, err := process.NewProcess(int32(pid)) //nolint:gosec // pids fit in int32
	if err != nil {
		return fmt.Errorf("looking up process %d: %w", pid, err)
	}
	return h.Kill()
}
