//go:build linux

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// See Documentation/block/ioprio.rst in the Linux sources.
const (
	ioprioWhoProcess = 1
	ioprioClassIdle  = 3
	ioprioClassShift = 13
	ioprioLowest     = 7
	niceLowest       = 19
)

// lowerPriority moves pid to the idle I/O class and the lowest CPU priority.
func lowerPriority(pid int) error {
	var errs []error
	prio := ioprioClassIdle<<ioprioClassShift | ioprioLowest
	if _, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(pid), uintptr(prio)); errno != 0 {
		errs = append(errs, errno)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, niceLowest); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
