// Package bup knows how to invoke the bup archive tool and how to read its output.
package bup

import (
	"strconv"

	"github.com/zero804/kup/internal/models"
	"github.com/zero804/kup/internal/services/process"
)

// DefaultExecutable is the archive tool looked up in $PATH when none is configured.
const DefaultExecutable = "bup"

// DefaultSnapshotName is the branch name snapshots are saved under.
const DefaultSnapshotName = "kup"

// forceTTYEnv makes bup print progress to stderr as if it was attached to a terminal.
const forceTTYEnv = "BUP_FORCE_TTY=2"

// Tool builds the command lines of the archive tool.
type Tool struct {
	Path string
}

// NewTool returns a Tool for the given executable, defaulting to bup.
func NewTool(path string) Tool {
	if path == "" {
		path = DefaultExecutable
	}
	return Tool{Path: path}
}

func (t Tool) command(args ...string) process.Command {
	return process.Command{Path: t.Path, Args: args}
}

func (t Tool) onRepo(dest string, args ...string) process.Command {
	return t.command(append([]string{"-d", dest}, args...)...)
}

// Version prints the bup version on stdout.
func (t Tool) Version() process.Command {
	return t.command("--version")
}

// Par2Probe checks that bup runs at all and, through its exit code, whether par2 is available.
func (t Tool) Par2Probe() process.Command {
	return t.command("fsck", "--par2-ok")
}

// Init initializes the repository at dest. It is a no-op on an existing repository.
func (t Tool) Init(dest string) process.Command {
	return t.onRepo(dest, "init")
}

// Fsck runs a quick consistency check of the repository.
func (t Tool) Fsck(dest string, jobs int) process.Command {
	return t.onRepo(dest, "fsck", "--quick", "-j", strconv.Itoa(jobs))
}

// Index updates the index of the plan's paths. excludeFile is only passed when not empty.
func (t Tool) Index(dest string, plan *models.BackupPlan, excludeFile string) process.Command {
	args := []string{"index", "-u"}
	for _, p := range plan.PathsExcluded {
		args = append(args, "--exclude", p)
	}
	if excludeFile != "" {
		args = append(args, "--exclude-rx-from", excludeFile)
	}
	args = append(args, plan.PathsIncluded...)
	return t.onRepo(dest, args...)
}

// Save stores a new snapshot of paths under the given branch name.
func (t Tool) Save(dest, name string, paths []string) process.Command {
	if name == "" {
		name = DefaultSnapshotName
	}
	args := append([]string{"save", "-n", name, "-vv"}, paths...)
	cmd := t.onRepo(dest, args...)
	cmd.Env = []string{forceTTYEnv}
	return cmd
}

// RecoveryInfo generates par2 recovery data for the repository.
func (t Tool) RecoveryInfo(dest string, jobs int) process.Command {
	return t.onRepo(dest, "fsck", "-g", "-j", strconv.Itoa(jobs))
}
