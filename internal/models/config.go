// Package models contains the data structures used throughout kup.
package models

import "time"

// BackupConfig holds the complete configuration for a backup run.
type BackupConfig struct {
	Plan        BackupPlan
	Destination DestinationSettings
	Tools       ToolSettings
	Progress    ProgressSettings
	WOL         *WOLConfig    // nil if not configured
	Remote      *RemoteConfig // nil if not configured
	Telegram    *TelegramConfig
}

// BackupPlan describes what to back up. It is read-only for the duration of a run.
type BackupPlan struct {
	Name                 string
	PathsIncluded        []string
	PathsExcluded        []string
	ExcludePatternsFile  string // optional, passed to the index stage only if it exists
	VerifyIntegrity      bool
	GenerateRecoveryInfo bool
}

// DestinationSettings holds where the archive and the run log live.
type DestinationSettings struct {
	Path    string
	LogFile string
}

// ToolSettings holds the external tool setup.
type ToolSettings struct {
	Bup                   string   // archive tool executable
	SnapshotName          string   // branch name passed to save -n
	HarmlessErrorPrefixes []string // stderr prefixes counted as harmless errors
}

// ProgressSettings controls how often progress is reported.
type ProgressSettings struct {
	Interval time.Duration
}
