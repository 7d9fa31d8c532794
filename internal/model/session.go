package model

import "time"

// SessionState represents the state of a streaming session
type SessionState string

const (
	SessionStateInit       SessionState = "INIT"
	SessionStateConnecting SessionState = "CONNECTING"
	SessionStateStreaming  SessionState = "STREAMING"
	SessionStateComplete   SessionState = "COMPLETE"
	SessionStateFailed     SessionState = "FAILED"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionStateInit:       {SessionStateConnecting},
	SessionStateConnecting: {SessionStateStreaming, SessionStateFailed},
	SessionStateStreaming:  {SessionStateComplete, SessionStateFailed},
}

// CanTransition checks whether the session state machine allows from -> to
func CanTransition(from, to SessionState) bool {
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s SessionState) IsTerminal() bool {
	return s == SessionStateComplete || s == SessionStateFailed
}

// StreamSession tracks one endpoint's transfer. It is owned by a single task.
type StreamSession struct {
	Endpoint  HostAddress
	State     SessionState
	BytesSent int64
	UnitsSent int
	LastError error
	StartTime time.Time
}

// UnitOutcome is the terminal result for one range unit
type UnitOutcome struct {
	UnitID      string
	Table       TableID
	Range       TokenRange
	Primary     HostAddress
	CompletedOn *HostAddress
	Attempts    int
	Err         error
}

// Completed reports whether some endpoint acknowledged the unit
func (u UnitOutcome) Completed() bool {
	return u.CompletedOn != nil
}

// EndpointOutcome is the terminal result for one session
type EndpointOutcome struct {
	Endpoint  HostAddress
	State     SessionState
	BytesSent int64
	UnitsSent int
	Err       error
}

// LoadResult aggregates every session and unit outcome of a run
type LoadResult struct {
	Endpoints      map[string]EndpointOutcome
	Units          []UnitOutcome
	OverallSuccess bool
	Duration       time.Duration
}

// FailedUnits returns the units that did not complete anywhere
func (r *LoadResult) FailedUnits() []UnitOutcome {
	failed := make([]UnitOutcome, 0)
	for _, u := range r.Units {
		if !u.Completed() {
			failed = append(failed, u)
		}
	}
	return failed
}

// BytesSent sums bytes acknowledged across all sessions
func (r *LoadResult) BytesSent() int64 {
	var total int64
	for _, ep := range r.Endpoints {
		total += ep.BytesSent
	}
	return total
}
