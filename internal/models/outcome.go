package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for failed runs.
var (
	ErrToolMissing          = errors.New("required tool is missing")
	ErrInitFailed           = errors.New("destination initialization failed")
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
	ErrIndexingFailed       = errors.New("indexing failed")
	ErrSaveFailed           = errors.New("save failed")
	ErrRecoveryInfoFailed   = errors.New("recovery info generation failed")
	ErrAborted              = errors.New("backup aborted")
)

// OutcomeKind is the kind of terminal result of a backup job.
type OutcomeKind int

// Outcome kinds.
const (
	Success OutcomeKind = iota
	ErrorWithoutLog
	ErrorWithLog
	ErrorSuggestRepair
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case ErrorWithoutLog:
		return "error_without_log"
	case ErrorWithLog:
		return "error_with_log"
	case ErrorSuggestRepair:
		return "error_suggest_repair"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Failure classifies why a job did not succeed.
type Failure int

// Failure classes.
const (
	FailureNone Failure = iota
	FailureToolMissing
	FailureInit
	FailureIntegrityCheck
	FailureIndexing
	FailureSave
	FailureRecoveryInfo
	FailureAborted
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureToolMissing:
		return "tool_missing"
	case FailureInit:
		return "init_failed"
	case FailureIntegrityCheck:
		return "integrity_check_failed"
	case FailureIndexing:
		return "indexing_failed"
	case FailureSave:
		return "save_failed"
	case FailureRecoveryInfo:
		return "recovery_info_failed"
	case FailureAborted:
		return "aborted"
	default:
		return fmt.Sprintf("failure(%d)", int(f))
	}
}

func (f Failure) err() error {
	switch f {
	case FailureToolMissing:
		return ErrToolMissing
	case FailureInit:
		return ErrInitFailed
	case FailureIntegrityCheck:
		return ErrIntegrityCheckFailed
	case FailureIndexing:
		return ErrIndexingFailed
	case FailureSave:
		return ErrSaveFailed
	case FailureRecoveryInfo:
		return ErrRecoveryInfoFailed
	case FailureAborted:
		return ErrAborted
	default:
		return nil
	}
}

// Outcome is the terminal value of one backup job run.
type Outcome struct {
	Kind        OutcomeKind
	Failure     Failure
	Message     string // human readable, suitable for notifications
	LogFilePath string // empty when no log was written
}

// Err returns nil on success, otherwise an error wrapping the failure's sentinel.
func (o Outcome) Err() error {
	if o.Kind == Success {
		return nil
	}
	base := o.Failure.err()
	if base == nil {
		return errors.New(o.Message)
	}
	return fmt.Errorf("%w: %s", base, o.Message)
}
