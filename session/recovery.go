package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/metric"
)

// DefaultMaxPointsPerState bounds the recovery points kept per state
// name. The oldest point is evicted when the bound is exceeded.
const DefaultMaxPointsPerState = 10

// RecoveryPoint is a durable snapshot of a state at a moment in time,
// re-applicable through RecoverState.
type RecoveryPoint struct {
	ID        string           `json:"id"`
	StateName string           `json:"state_name"`
	Timestamp time.Time        `json:"timestamp"`
	State     *State           `json:"state"`
	Metadata  RecoveryMetadata `json:"metadata"`
}

// RecoveryMetadata describes why a recovery point exists and what it
// depends on.
type RecoveryMetadata struct {
	Version      uint64   `json:"version"`
	Reason       string   `json:"reason,omitempty"`
	IsAutomatic  bool     `json:"is_automatic"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// StateRecovery captures recovery points for persisted states and
// restores them on demand. Points live in memory; the states they
// restore go through the persistence layer.
type StateRecovery struct {
	mu          sync.RWMutex
	points      map[string][]RecoveryPoint
	maxPerState int

	persistence *StatePersistence
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// RecoveryOption configures a StateRecovery at construction time.
type RecoveryOption func(*StateRecovery)

// WithMaxPointsPerState overrides the per-state retention bound.
func WithMaxPointsPerState(limit int) RecoveryOption {
	return func(r *StateRecovery) {
		if limit > 0 {
			r.maxPerState = limit
		}
	}
}

// WithRecoveryLogger sets the structured logger.
func WithRecoveryLogger(logger *slog.Logger) RecoveryOption {
	return func(r *StateRecovery) {
		r.logger = logger
	}
}

// WithRecoveryMetrics attaches platform metrics.
func WithRecoveryMetrics(metrics *metric.Metrics) RecoveryOption {
	return func(r *StateRecovery) {
		r.metrics = metrics
	}
}

// NewStateRecovery creates a recovery manager over the given
// persistence layer.
func NewStateRecovery(persistence *StatePersistence, opts ...RecoveryOption) *StateRecovery {
	r := &StateRecovery{
		points:      make(map[string][]RecoveryPoint),
		maxPerState: DefaultMaxPointsPerState,
		persistence: persistence,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRecoveryPoint persists the given state and records a snapshot
// of it as a recovery point, so the point always refers to the state as
// the caller sees it, saved or not.
func (r *StateRecovery) CreateRecoveryPoint(ctx context.Context, state *State, meta RecoveryMetadata) (*RecoveryPoint, error) {
	if state == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidState, "StateRecovery", "CreateRecoveryPoint",
			"state must not be nil")
	}

	if err := r.persistence.SaveState(ctx, state); err != nil {
		return nil, errors.Wrap(err, "StateRecovery", "CreateRecoveryPoint", "current state save")
	}

	meta.Version = state.Version
	point := RecoveryPoint{
		ID:        uuid.NewString(),
		StateName: state.Name,
		Timestamp: time.Now().UTC(),
		State:     state.Clone(),
		Metadata:  meta,
	}

	r.mu.Lock()
	pts := append(r.points[state.Name], point)
	if len(pts) > r.maxPerState {
		pts = pts[len(pts)-r.maxPerState:]
	}
	r.points[state.Name] = pts
	count := len(pts)
	r.mu.Unlock()

	r.gaugePoints(state.Name, count)
	r.logger.Info("recovery point created",
		"name", state.Name, "point_id", point.ID, "version", meta.Version, "automatic", meta.IsAutomatic)
	return &point, nil
}

// RecoverState restores the state captured by the identified recovery
// point, or by the most recent point when pointID is empty, and
// persists the restored state.
func (r *StateRecovery) RecoverState(ctx context.Context, name, pointID string) (*State, error) {
	r.mu.RLock()
	pts := r.points[name]
	var found *RecoveryPoint
	if pointID == "" {
		if len(pts) > 0 {
			found = &pts[len(pts)-1]
		}
	} else {
		for i := range pts {
			if pts[i].ID == pointID {
				found = &pts[i]
				break
			}
		}
	}
	var restored *State
	if found != nil {
		restored = found.State.Clone()
	}
	r.mu.RUnlock()

	if restored == nil {
		return nil, errors.WrapInvalid(errors.ErrNotFound, "StateRecovery", "RecoverState",
			fmt.Sprintf("no recovery point for state %q id %q", name, pointID))
	}

	if err := r.persistence.SaveState(ctx, restored); err != nil {
		return nil, errors.Wrap(err, "StateRecovery", "RecoverState", "restored state save")
	}

	r.logger.Info("state recovered", "name", name, "version", restored.Version)
	return restored, nil
}

// ListRecoveryPoints returns the points held for a state, newest first.
func (r *StateRecovery) ListRecoveryPoints(name string) []RecoveryPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pts := r.points[name]
	out := make([]RecoveryPoint, len(pts))
	for i := range pts {
		out[len(pts)-1-i] = pts[i]
	}
	return out
}

// VerifyRecoveryChain checks that the points for a state form a usable
// chain: versions strictly increase and every declared dependency has
// at least one point of its own. Problems are logged and make the chain
// unverified; they do not fail the call.
func (r *StateRecovery) VerifyRecoveryChain(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pts := r.points[name]
	if len(pts) == 0 {
		return false
	}

	ok := true
	var lastVersion uint64
	for i, pt := range pts {
		if i > 0 && pt.Metadata.Version <= lastVersion {
			r.logger.Warn("recovery chain version regression",
				"name", name, "point_id", pt.ID,
				"version", pt.Metadata.Version, "previous", lastVersion)
			ok = false
		}
		lastVersion = pt.Metadata.Version

		for _, dep := range pt.Metadata.Dependencies {
			if len(r.points[dep]) == 0 {
				r.logger.Warn("recovery chain dependency has no points",
					"name", name, "point_id", pt.ID, "dependency", dep)
				ok = false
			}
		}
	}
	return ok
}

func (r *StateRecovery) gaugePoints(name string, count int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecoveryPoints.WithLabelValues(name).Set(float64(count))
}
