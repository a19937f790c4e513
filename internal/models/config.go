// Package models contains the data structures used throughout gofleet.
package models

import "time"

// Config holds the complete gofleet configuration.
type Config struct {
	StateFile string // persisted registry snapshot
	HostsFile string // default host list for load-hosts
	SSH       SSHConfig
	Dispatch  DispatchConfig
	Script    ScriptConfig
	Liveness  LivenessConfig
	WOL       *WOLConfig      // nil if not configured
	Telegram  *TelegramConfig // nil if not configured
}

// DispatchConfig holds command fan-out settings.
type DispatchConfig struct {
	Concurrency int           // 0 = one worker per host
	Timeout     time.Duration // per-host session timeout, 0 = none
	Prompt      bool          // prompt for missing passwords on a terminal
}

// ScriptConfig holds execute-script settings.
type ScriptConfig struct {
	RemoteDir     string // where scripts are uploaded
	Python        string // interpreter for .py
	Shell         string // interpreter for .sh and .bash
	MinNameLength int
}

// LivenessConfig holds reachability probe settings.
type LivenessConfig struct {
	Method      string // "icmp" (default) or "tcp"
	Timeout     time.Duration
	Concurrency int
}
