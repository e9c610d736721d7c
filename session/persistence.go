package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/metric"
	"github.com/DataScienceBioLab/squirrel/storage"
)

// stateFileSuffix is appended to the state name to form the storage key.
const stateFileSuffix = ".json"

// persistedEnvelope is the on-disk shape: the state plus a metadata
// block carrying the checksum computed over the serialized state.
type persistedEnvelope struct {
	State    *State          `json:"state"`
	Metadata persistMetadata `json:"metadata"`
}

type persistMetadata struct {
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Checksum  string    `json:"checksum"`
}

// StatePersistence saves and loads session states through a pluggable
// storage backend, with SHA-256 checksums for corruption detection and
// an in-memory cache of the last saved value per name.
type StatePersistence struct {
	mu    sync.RWMutex
	store storage.Store
	cache map[string]*State

	logger  *slog.Logger
	metrics *metric.Metrics
}

// PersistenceOption configures a StatePersistence at construction time.
type PersistenceOption func(*StatePersistence)

// WithPersistenceLogger sets the structured logger.
func WithPersistenceLogger(logger *slog.Logger) PersistenceOption {
	return func(p *StatePersistence) {
		p.logger = logger
	}
}

// WithPersistenceMetrics attaches platform metrics.
func WithPersistenceMetrics(metrics *metric.Metrics) PersistenceOption {
	return func(p *StatePersistence) {
		p.metrics = metrics
	}
}

// NewStatePersistence creates a persistence layer over the given store.
func NewStatePersistence(store storage.Store, opts ...PersistenceOption) *StatePersistence {
	p := &StatePersistence{
		store:  store,
		cache:  make(map[string]*State),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// checksum computes the hex SHA-256 of the canonical serialization of a
// state. The same computation runs at save and load time, so any drift
// in the stored state surfaces as a mismatch.
func checksum(state *State) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SaveState serializes the state, computes its checksum and writes the
// pretty-printed envelope at "<name>.json". The cached copy is marked
// persisted.
func (p *StatePersistence) SaveState(ctx context.Context, state *State) error {
	start := time.Now()
	if state == nil {
		return errors.WrapInvalid(errors.ErrInvalidState, "StatePersistence", "SaveState",
			"state must not be nil")
	}
	if state.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidState, "StatePersistence", "SaveState",
			"state name must not be empty")
	}

	sum, err := checksum(state)
	if err != nil {
		p.countOp("save", "error")
		return errors.WrapInvalid(err, "StatePersistence", "SaveState", "state serialization")
	}

	envelope := persistedEnvelope{
		State: state,
		Metadata: persistMetadata{
			Version:   state.Version,
			CreatedAt: state.CreatedAt,
			UpdatedAt: state.UpdatedAt,
			Checksum:  sum,
		},
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		p.countOp("save", "error")
		return errors.WrapInvalid(err, "StatePersistence", "SaveState", "envelope serialization")
	}

	if err := p.store.Put(ctx, state.Name+stateFileSuffix, data); err != nil {
		p.countOp("save", "error")
		return errors.Wrap(err, "StatePersistence", "SaveState", "storage write")
	}

	cached := state.Clone()
	cached.markPersisted()
	state.markPersisted()

	p.mu.Lock()
	p.cache[state.Name] = cached
	p.mu.Unlock()

	p.observeOp("save", start)
	p.countOp("save", "ok")
	p.logger.Debug("state saved", "name", state.Name, "version", state.Version, "checksum", sum)
	return nil
}

// LoadState reads the envelope for the named state, recomputes the
// checksum over the decoded state and fails with ErrChecksumMismatch on
// drift. A missing state fails with ErrNotFound.
func (p *StatePersistence) LoadState(ctx context.Context, name string) (*State, error) {
	start := time.Now()
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidState, "StatePersistence", "LoadState",
			"state name must not be empty")
	}

	data, err := p.store.Get(ctx, name+stateFileSuffix)
	if err != nil {
		p.countOp("load", "error")
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "StatePersistence", "LoadState",
				fmt.Sprintf("no persisted state named %q", name))
		}
		return nil, errors.Wrap(err, "StatePersistence", "LoadState", "storage read")
	}

	var envelope persistedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		p.countOp("load", "corrupt")
		return nil, errors.WrapInvalid(errors.ErrDataCorrupted, "StatePersistence", "LoadState",
			fmt.Sprintf("persisted envelope for %q does not parse: %v", name, err))
	}
	if envelope.State == nil {
		p.countOp("load", "corrupt")
		return nil, errors.WrapInvalid(errors.ErrDataCorrupted, "StatePersistence", "LoadState",
			fmt.Sprintf("persisted envelope for %q carries no state", name))
	}

	sum, err := checksum(envelope.State)
	if err != nil {
		p.countOp("load", "error")
		return nil, errors.WrapInvalid(err, "StatePersistence", "LoadState", "checksum recomputation")
	}
	if sum != envelope.Metadata.Checksum {
		p.countOp("load", "corrupt")
		return nil, errors.WrapInvalid(errors.ErrChecksumMismatch, "StatePersistence", "LoadState",
			fmt.Sprintf("state %q checksum %s does not match stored %s",
				name, sum, envelope.Metadata.Checksum))
	}

	loaded := envelope.State
	loaded.markPersisted()

	p.mu.Lock()
	p.cache[name] = loaded.Clone()
	p.mu.Unlock()

	p.observeOp("load", start)
	p.countOp("load", "ok")
	return loaded, nil
}

// DeleteState removes the persisted state and its cache entry. Removing
// an absent cache entry is a no-op; storage failures propagate.
func (p *StatePersistence) DeleteState(ctx context.Context, name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidState, "StatePersistence", "DeleteState",
			"state name must not be empty")
	}

	if err := p.store.Delete(ctx, name+stateFileSuffix); err != nil {
		p.countOp("delete", "error")
		return errors.Wrap(err, "StatePersistence", "DeleteState", "storage delete")
	}

	p.mu.Lock()
	delete(p.cache, name)
	p.mu.Unlock()

	p.countOp("delete", "ok")
	return nil
}

// CachedState returns a clone of the cached copy for the name, if any.
func (p *StatePersistence) CachedState(name string) (*State, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.cache[name]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// ListStates returns the names of all persisted states.
func (p *StatePersistence) ListStates(ctx context.Context) ([]string, error) {
	keys, err := p.store.List(ctx, "")
	if err != nil {
		return nil, errors.Wrap(err, "StatePersistence", "ListStates", "storage listing")
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, stateFileSuffix) {
			names = append(names, strings.TrimSuffix(key, stateFileSuffix))
		}
	}
	return names, nil
}

func (p *StatePersistence) countOp(op, status string) {
	if p.metrics == nil {
		return
	}
	p.metrics.PersistenceOps.WithLabelValues(op, status).Inc()
}

func (p *StatePersistence) observeOp(op string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.PersistenceDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
