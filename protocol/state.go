package protocol

// State represents the current lifecycle state of a protocol instance
type State int

const (
	// StateUninitialized indicates the instance was created but not initialized
	StateUninitialized State = iota
	// StateInitializing indicates initialization is in progress
	StateInitializing
	// StateInitialized indicates configuration is installed but message
	// handling has not started
	StateInitialized
	// StateReady indicates the instance accepts and dispatches messages
	StateReady
	// StateShuttingDown indicates the instance is tearing down; terminal
	// for the running instance
	StateShuttingDown
	// StateError indicates an unrecoverable fault; absorbing, requires
	// re-creation to exit
	StateError
)

// String returns a string representation of the protocol state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state admits no further transitions
// for this instance.
func (s State) IsTerminal() bool {
	return s == StateShuttingDown || s == StateError
}
