package models

// ProgressSnapshot holds the latest progress reported by the save stage.
type ProgressSnapshot struct {
	CopiedBytes      uint64
	TotalBytes       uint64
	CopiedFiles      uint64
	TotalFiles       uint64
	SpeedBytesPerSec uint64
	Percent          uint
	CurrentFile      string
}

// ErrorTally counts harmless errors seen while saving.
type ErrorTally struct {
	HarmlessCount     uint
	AllErrorsHarmless bool
}
