package models

import "io"

// Stage identifies one external-process step of a backup job.
type Stage int

// Backup job stages, in pipeline order.
const (
	StageNone Stage = iota
	StagePreflight
	StageVerify
	StageIndex
	StageSave
	StageRecoveryInfo
)

func (s Stage) String() string {
	switch s {
	case StagePreflight:
		return "preflight"
	case StageVerify:
		return "verify"
	case StageIndex:
		return "index"
	case StageSave:
		return "save"
	case StageRecoveryInfo:
		return "recovery_info"
	default:
		return "none"
	}
}

// JobRequest holds everything one run of the backup job needs.
type JobRequest struct {
	Destination string
	Plan        *BackupPlan
	Log         io.Writer // append-only run log
	LogFilePath string    // reported back with the outcome
}

// ExitKind tells a normal exit apart from a crash or kill.
type ExitKind int

// Exit kinds.
const (
	ExitNormal ExitKind = iota
	ExitCrashed
)

func (k ExitKind) String() string {
	if k == ExitCrashed {
		return "crashed"
	}
	return "normal"
}

// StageResult holds the result of one finished stage process.
type StageResult struct {
	ExitCode int
	ExitKind ExitKind
	Stdout   string
	Stderr   string
	Err      error // launch or wait error, if any
}

// Failed reports whether the process exited abnormally or with a non-zero code.
func (r StageResult) Failed() bool {
	return r.ExitKind != ExitNormal || r.ExitCode != 0
}
