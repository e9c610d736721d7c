package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/DataScienceBioLab/squirrel/errors"
)

// maxTrackerHistory bounds the snapshot ring kept by ContextTracker.
const maxTrackerHistory = 100

// ContextState is the single versioned state tracked by ContextTracker.
type ContextState struct {
	Version   uint64         `json:"version"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// clone copies the state with its own data map.
func (cs ContextState) clone() ContextState {
	out := cs
	if cs.Data != nil {
		out.Data = make(map[string]any, len(cs.Data))
		for k, v := range cs.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Subscriber receives the new state after every update.
type Subscriber func(ContextState)

// ContextTracker tracks a single versioned context state with a bounded
// snapshot history and synchronous subscriber notification.
//
// The history is an append-only audit trail: RollbackTo restores a
// prior snapshot as the current state but never truncates entries
// recorded after it, so rollback-then-redo traces coexist in the log
// and version numbers in History are not monotonically time-ordered
// after a rollback.
type ContextTracker struct {
	mu          sync.RWMutex
	current     ContextState
	history     []ContextState
	subscribers []Subscriber
}

// NewContextTracker creates a tracker at version 0 with empty data.
func NewContextTracker() *ContextTracker {
	return &ContextTracker{
		current: ContextState{
			Version:   0,
			Data:      make(map[string]any),
			UpdatedAt: time.Now().UTC(),
		},
	}
}

// UpdateState merges the given entries into the tracked state,
// increments the version, snapshots the new state into the bounded
// history ring (oldest evicted past the cap) and notifies subscribers
// synchronously. Returns the new state.
func (t *ContextTracker) UpdateState(data map[string]any) ContextState {
	t.mu.Lock()

	next := t.current.clone()
	for k, v := range data {
		next.Data[k] = v
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	t.current = next
	t.appendSnapshotLocked(next.clone())

	snapshot := next.clone()
	subscribers := make([]Subscriber, len(t.subscribers))
	copy(subscribers, t.subscribers)
	t.mu.Unlock()

	// Notify outside the lock so subscribers may read the tracker
	for _, fn := range subscribers {
		fn(snapshot)
	}
	return snapshot
}

// Subscribe registers a callback invoked synchronously on every update
// and rollback.
func (t *ContextTracker) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// Current returns a copy of the tracked state.
func (t *ContextTracker) Current() ContextState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current.clone()
}

// History returns a copy of the snapshot ring, oldest first.
func (t *ContextTracker) History() []ContextState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ContextState, len(t.history))
	for i, snapshot := range t.history {
		out[i] = snapshot.clone()
	}
	return out
}

// RollbackTo restores the snapshot carrying the given version as the
// current state. Fails with ErrInvalidState when no snapshot in the
// history carries that version. Later history entries are preserved.
func (t *ContextTracker) RollbackTo(version uint64) error {
	t.mu.Lock()

	var found *ContextState
	for i := range t.history {
		if t.history[i].Version == version {
			found = &t.history[i]
			break
		}
	}
	if found == nil {
		t.mu.Unlock()
		return errors.WrapInvalid(errors.ErrInvalidState, "ContextTracker", "RollbackTo",
			fmt.Sprintf("no snapshot in history carries version %d", version))
	}

	t.current = found.clone()

	snapshot := t.current.clone()
	subscribers := make([]Subscriber, len(t.subscribers))
	copy(subscribers, t.subscribers)
	t.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
	return nil
}

// appendSnapshotLocked pushes a snapshot, evicting the oldest entry
// once the ring is full. Callers must hold t.mu.
func (t *ContextTracker) appendSnapshotLocked(snapshot ContextState) {
	t.history = append(t.history, snapshot)
	if len(t.history) > maxTrackerHistory {
		t.history = t.history[1:]
	}
}
