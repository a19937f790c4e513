package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a dispatch notification.
type TelegramMessage struct {
	Operation string // "run-command" or "execute-script"
	Command   string
	StartTime time.Time
	Duration  time.Duration

	TotalHosts     int
	SucceededHosts int

	// Failures lists failed hosts in target order.
	Failures []TelegramFailure
}

// TelegramFailure is one failed host in a notification.
type TelegramFailure struct {
	Host  string
	Error string
}

// Success reports whether every host succeeded.
func (m TelegramMessage) Success() bool {
	return len(m.Failures) == 0
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
