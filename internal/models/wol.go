package models

import "time"

// WOLConfig holds Wake-on-LAN configuration.
type WOLConfig struct {
	BroadcastIP  string
	MACs         map[string]string // host address -> MAC address
	Timeout      time.Duration     // max time to wait for hosts to become reachable, 0 = don't wait
	PollInterval time.Duration     // how often to probe while waiting
}

// WOLResult holds the result of waking one host.
type WOLResult struct {
	Host         Host
	PacketSent   bool
	Reachable    bool
	WaitDuration time.Duration
	Error        error
}
