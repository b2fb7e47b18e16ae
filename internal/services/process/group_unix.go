//go:build unix

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup makes the process the leader of a new process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group led by pid.
func signalGroup(pid int, sig Signal) error {
	switch sig {
	case SignalStop:
		return killPgrp(pid, unix.SIGSTOP)
	case SignalContinue:
		return killPgrp(pid, unix.SIGCONT)
	case SignalTerminate:
		return killPgrp(pid, unix.SIGTERM)
	default:
		return fmt.Errorf("unsupported signal %s", sig)
	}
}

// killGroup kills every process in the group led by pid.
func killGroup(pid int) error {
	return killPgrp(pid, unix.SIGKILL)
}

func killPgrp(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid process group %d", pid)
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
