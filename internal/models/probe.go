package models

// ProbeResult reports which external tools a backup run can use.
type ProbeResult struct {
	BupAvailable  bool
	BupVersion    string
	Par2Available bool
}
