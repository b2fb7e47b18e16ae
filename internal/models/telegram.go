package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a backup notification.
type TelegramMessage struct {
	RunID       string
	Plan        string
	Host        string
	Destination string
	StartTime   time.Time
	Duration    time.Duration

	Outcome Outcome

	// Save statistics, if the save stage reported any.
	Progress       ProgressSnapshot
	HarmlessErrors uint
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
