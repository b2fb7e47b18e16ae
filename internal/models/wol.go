package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the host holding the destination.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	Timeout       time.Duration // max time to wait for the destination
	PollInterval  time.Duration // how often to look for the destination
	StabilizeWait time.Duration // wait after the destination appears
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent       bool
	DestinationReady bool
	WaitDuration     time.Duration
	Error            error
}
