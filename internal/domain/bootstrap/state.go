package bootstrap

import "time"

// State is the restart state of the supervised child.
type State int

const (
	// StatePending means no child has been started yet.
	StatePending State = iota
	// StateRunning means a child is alive and monitored.
	StateRunning
	// StateExitedGraceful means the child exited with code 0.
	StateExitedGraceful
	// StateExitedCrashed means the child exited with a nonzero code.
	StateExitedCrashed
	// StateRestarting means the supervisor is waiting out the restart delay.
	StateRestarting
	// StateStopped is terminal: nothing will be started again.
	StateStopped
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExitedGraceful:
		return "exited-graceful"
	case StateExitedCrashed:
		return "exited-crashed"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String; unknown names yield StatePending.
func ParseState(name string) State {
	for state := StatePending; state <= StateStopped; state++ {
		if state.String() == name {
			return state
		}
	}

	return StatePending
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateStopped
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	// State is the current restart state.
	State State
	// PID is the process ID of the current child, zero when none is running.
	PID int
	// Restarts counts relaunches after crashes during this run.
	Restarts int
	// LastExitCode is the exit code of the most recent child, -1 when unknown.
	LastExitCode int
	// StartedAt is when the current or most recent child was started.
	StartedAt time.Time
	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time
	// BundleRoot is the directory the child runs in.
	BundleRoot string
}

// Clone returns a copy of the status.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}

	cloned := *s

	return &cloned
}
