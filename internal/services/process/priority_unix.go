//go:build unix && !linux

package process

import "golang.org/x/sys/unix"

// lowerPriority gives pid the lowest CPU priority. There is no portable I/O priority.
func lowerPriority(pid int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, 19)
}
