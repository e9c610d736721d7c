package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/metric"
)

// StateManager maintains named, versioned state records and a validated
// transition graph between named states, with an append-only history.
//
// Transitions for different state names may proceed concurrently; calls
// touching the same name are serialized by the shared lock, so history
// append order matches transition completion order.
type StateManager struct {
	mu          sync.RWMutex
	states      map[string]*State
	transitions map[string][]StateTransition
	history     []StateHistoryEntry

	logger  *slog.Logger
	metrics *metric.Metrics
}

// ManagerOption configures a StateManager at construction time.
type ManagerOption func(*StateManager)

// WithManagerLogger sets the structured logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *StateManager) {
		m.logger = logger
	}
}

// WithManagerMetrics attaches platform metrics.
func WithManagerMetrics(metrics *metric.Metrics) ManagerOption {
	return func(m *StateManager) {
		m.metrics = metrics
	}
}

// NewStateManager creates an empty state manager.
func NewStateManager(opts ...ManagerOption) *StateManager {
	m := &StateManager{
		states:      make(map[string]*State),
		transitions: make(map[string][]StateTransition),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterState inserts or overwrites the named state. No uniqueness
// check: last write wins.
func (m *StateManager) RegisterState(state *State) error {
	if state == nil {
		return errors.WrapInvalid(errors.ErrInvalidState, "StateManager", "RegisterState",
			"state must not be nil")
	}
	if state.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidState, "StateManager", "RegisterState",
			"state name must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.Name] = state.Clone()
	if m.metrics != nil {
		m.metrics.TrackedStates.Set(float64(len(m.states)))
	}
	return nil
}

// RegisterTransition appends a valid edge to the list of transitions
// out of its from-state. Multiple transitions may share a from-state.
func (m *StateManager) RegisterTransition(transition StateTransition) error {
	if transition.FromState == "" || transition.ToState == "" {
		return errors.WrapInvalid(errors.ErrInvalidTransition, "StateManager", "RegisterTransition",
			fmt.Sprintf("transition endpoints must not be empty (from=%q, to=%q)",
				transition.FromState, transition.ToState))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions[transition.FromState] = append(m.transitions[transition.FromState], transition)
	return nil
}

// TransitionState validates a transition against the registered table
// then records it. Check order:
//  1. the from-state must have registered outgoing edges
//  2. one of those edges must lead to the to-state
//  3. the target state must exist in the states map
//
// On success the target's UpdatedAt is touched and a history entry is
// appended.
func (m *StateManager) TransitionState(from, to string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges, ok := m.transitions[from]
	if !ok {
		m.countTransition(from, to, "unknown_from")
		return errors.WrapInvalid(errors.ErrStateNotFound, "StateManager", "TransitionState",
			fmt.Sprintf("no transitions registered from state %q", from))
	}

	valid := false
	for _, edge := range edges {
		if edge.ToState == to {
			valid = true
			break
		}
	}
	if !valid {
		m.countTransition(from, to, "invalid")
		return errors.WrapInvalid(errors.ErrInvalidTransition, "StateManager", "TransitionState",
			fmt.Sprintf("transition from %q to %q is not registered", from, to))
	}

	target, ok := m.states[to]
	if !ok {
		m.countTransition(from, to, "missing_target")
		return errors.WrapInvalid(errors.ErrStateNotFound, "StateManager", "TransitionState",
			fmt.Sprintf("target state %q is not registered", to))
	}

	target.UpdatedAt = time.Now().UTC()
	m.history = append(m.history, StateHistoryEntry{
		FromState: from,
		ToState:   to,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})

	m.countTransition(from, to, "ok")
	m.logger.Debug("state transition recorded", "from", from, "to", to)
	return nil
}

// GetState returns a clone of the named state.
func (m *StateManager) GetState(name string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrStateNotFound, "StateManager", "GetState",
			fmt.Sprintf("state %q is not registered", name))
	}
	return state.Clone(), nil
}

// GetValidTransitions returns a copy of the edges registered out of the
// given state. Returns an empty slice when none are registered.
func (m *StateManager) GetValidTransitions(from string) []StateTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := m.transitions[from]
	out := make([]StateTransition, len(edges))
	copy(out, edges)
	return out
}

// GetHistory returns a copy of the append-only transition history.
func (m *StateManager) GetHistory() []StateHistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]StateHistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

func (m *StateManager) countTransition(from, to, result string) {
	if m.metrics == nil {
		return
	}
	m.metrics.StateTransitions.WithLabelValues(from, to, result).Inc()
}
