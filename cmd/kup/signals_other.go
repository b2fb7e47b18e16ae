//go:build !unix

package main

import "os"

// Suspend and resume are only available through signals on Unix.
var (
	suspendSignal os.Signal
	resumeSignal  os.Signal
)
