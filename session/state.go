package session

import (
	"time"

	"github.com/google/uuid"
)

// State is a named, versioned session record. It is created by first
// registration under a name and mutated only through Set/Update (which
// bump the version) or the manager's TransitionState (which touches
// UpdatedAt).
type State struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	Version   uint64         `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// persisted tracks whether the current version has been saved.
	// Cleared on every mutation; not part of the wire shape.
	persisted bool
}

// NewState creates a version-1 state with a generated ID.
func NewState(name string, data map[string]any) *State {
	now := time.Now().UTC()
	if data == nil {
		data = make(map[string]any)
	}
	return &State{
		ID:        uuid.New().String(),
		Name:      name,
		Data:      data,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Set stores a single key, increments the version and marks the state
// as not yet persisted.
func (s *State) Set(key string, value any) {
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	s.Data[key] = value
	s.touch()
}

// Update merges the given entries into the state data, increments the
// version once and marks the state as not yet persisted.
func (s *State) Update(data map[string]any) {
	if s.Data == nil {
		s.Data = make(map[string]any, len(data))
	}
	for k, v := range data {
		s.Data[k] = v
	}
	s.touch()
}

// touch records a mutation: version bump, timestamp, dirty flag.
func (s *State) touch() {
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	s.persisted = false
}

// Persisted reports whether the current version has been saved.
func (s *State) Persisted() bool {
	return s.persisted
}

// markPersisted is set by the persistence layer after a successful save.
func (s *State) markPersisted() {
	s.persisted = true
}

// Clone returns a copy of the state with its own data and metadata
// maps. Nested values are shared; callers treating them as immutable
// keeps clones independent.
func (s *State) Clone() *State {
	clone := *s
	if s.Data != nil {
		clone.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			clone.Data[k] = v
		}
	}
	if s.Metadata != nil {
		clone.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// StateTransition is a registered edge in the transition graph.
// Condition and validation-rule names are carried for collaborators;
// the transition table itself only checks edge existence.
type StateTransition struct {
	FromState       string   `json:"from_state"`
	ToState         string   `json:"to_state"`
	Conditions      []string `json:"conditions,omitempty"`
	ValidationRules []string `json:"validation_rules,omitempty"`
}

// StateHistoryEntry records one completed transition in the manager's
// append-only history log.
type StateHistoryEntry struct {
	FromState string         `json:"from_state"`
	ToState   string         `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
