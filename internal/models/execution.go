package models

import "time"

// ConcurrencyMode selects how per-host tasks are scheduled.
type ConcurrencyMode int

const (
	// Parallel runs one task per host, optionally bounded by Limit.
	Parallel ConcurrencyMode = iota
	// Serial runs tasks one host at a time in target order.
	Serial
)

// ConcurrencyPolicy controls per-host scheduling. Limit 0 means one worker per host.
type ConcurrencyPolicy struct {
	Mode  ConcurrencyMode
	Limit int
}

// ExecutionRequest describes a command to run on every target.
type ExecutionRequest struct {
	Command     string
	Targets     []Host
	Repetitions int           // >= 1
	Interval    time.Duration // pause between repetitions on the same host
}

// ScriptRequest describes a local script to upload, run and remove on every target.
type ScriptRequest struct {
	LocalPath string
	Targets   []Host
}

// RemoteCommand is one command run over a single session.
type RemoteCommand struct {
	Command string
	Stdin   []byte // written to the remote process, may be nil
}

// CommandOutput is what the transport returns for a finished command.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ResultStatus is the outcome of one host.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// HostResult holds the outcome of executing a request on a single host.
type HostResult struct {
	Host     Host
	Status   ResultStatus
	Output   string
	Stderr   string
	ExitCode int
	Runs     int // completed repetitions
	Duration time.Duration
	Error    error
}

// Succeeded reports whether the host finished without error.
func (r HostResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Aggregate holds one result per targeted host, in target order.
type Aggregate struct {
	Command   string
	Results   []HostResult
	StartTime time.Time
	EndTime   time.Time
}

// Get returns the result for a canonical host key.
func (a *Aggregate) Get(key string) (HostResult, bool) {
	for _, r := range a.Results {
		if r.Host.Key() == key {
			return r, true
		}
	}
	return HostResult{}, false
}

// AllSuccess returns true if every host succeeded.
func (a *Aggregate) AllSuccess() bool {
	for _, r := range a.Results {
		if !r.Succeeded() {
			return false
		}
	}
	return true
}

// Failed returns the failed results in target order.
func (a *Aggregate) Failed() []HostResult {
	var failed []HostResult
	for _, r := range a.Results {
		if !r.Succeeded() {
			failed = append(failed, r)
		}
	}
	return failed
}

// SuccessCount returns the number of hosts that succeeded.
func (a *Aggregate) SuccessCount() int {
	return len(a.Results) - len(a.Failed())
}

// Duration returns the wall time of the whole dispatch.
func (a *Aggregate) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}
