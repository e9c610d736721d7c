// Package natsstore implements the storage.Store interface on a NATS
// JetStream key-value bucket. It is the backend used when session state
// must survive process restarts without shared disk.
package natsstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/pkg/retry"
	"github.com/DataScienceBioLab/squirrel/storage"
)

// Config configures the KV bucket backing a Store.
type Config struct {
	// Bucket is the KV bucket name. Created if it does not exist.
	Bucket string

	// Description is attached to the bucket at creation time.
	Description string

	// Timeout bounds each KV operation. Zero means no per-operation
	// timeout beyond the caller's context.
	Timeout time.Duration

	// Replicas is the JetStream replication factor for the bucket.
	Replicas int

	// Retry configures transient-failure retries on writes.
	Retry retry.Config
}

// DefaultConfig returns sensible defaults for session state storage.
func DefaultConfig() Config {
	return Config{
		Bucket:      "squirrel-state",
		Description: "Squirrel session state persistence",
		Timeout:     5 * time.Second,
		Replicas:    1,
		Retry:       retry.DefaultConfig(),
	}
}

// Store is a JetStream KV-backed storage.Store.
type Store struct {
	kv     jetstream.KeyValue
	config Config
}

var _ storage.Store = (*Store)(nil)

// New binds to the configured KV bucket, creating it when absent.
func New(ctx context.Context, nc *nats.Conn, cfg Config) (*Store, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "NATSStore", "New",
			"nats connection must not be nil")
	}
	if cfg.Bucket == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSStore", "New",
			"bucket name must not be empty")
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.WrapFatal(err, "NATSStore", "New", "jetstream context creation")
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if stderrors.Is(err, jetstream.ErrBucketNotFound) {
		replicas := cfg.Replicas
		if replicas < 1 {
			replicas = 1
		}
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: cfg.Description,
			Replicas:    replicas,
		})
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSStore", "New",
			fmt.Sprintf("bucket %q binding", cfg.Bucket))
	}

	return &Store{kv: kv, config: cfg}, nil
}

// applyTimeout applies the configured per-operation timeout.
func (s *Store) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return ctx, func() {}
}

// encodeKey maps store keys onto the KV key charset. Slashes are legal
// KV separators; anything else outside [-/_=.a-zA-Z0-9] is rejected.
func encodeKey(key string) (string, error) {
	if key == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "NATSStore", "encodeKey",
			"key must not be empty")
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '/' || r == '_' || r == '=' || r == '.':
		default:
			return "", errors.WrapInvalid(errors.ErrInvalidConfig, "NATSStore", "encodeKey",
				fmt.Sprintf("key %q contains character %q outside the KV charset", key, r))
		}
	}
	return key, nil
}

// Put stores data at the key, retrying transient JetStream failures.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	k, err := encodeKey(key)
	if err != nil {
		return err
	}

	return retry.Do(ctx, s.config.Retry, func() error {
		opCtx, cancel := s.applyTimeout(ctx)
		defer cancel()

		if _, err := s.kv.Put(opCtx, k, data); err != nil {
			if !errors.IsTransient(err) {
				return retry.NonRetryable(
					errors.Wrap(err, "NATSStore", "Put", "kv put"))
			}
			return errors.WrapTransient(err, "NATSStore", "Put", "kv put")
		}
		return nil
	})
}

// Get retrieves the value stored at the key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := s.applyTimeout(ctx)
	defer cancel()

	entry, err := s.kv.Get(opCtx, k)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "NATSStore", "Get",
				fmt.Sprintf("no value stored at key %q", key))
		}
		return nil, errors.WrapTransient(err, "NATSStore", "Get", "kv get")
	}
	return entry.Value(), nil
}

// Delete removes the key. Purge is used so deletion is idempotent and
// leaves no tombstone history behind.
func (s *Store) Delete(ctx context.Context, key string) error {
	k, err := encodeKey(key)
	if err != nil {
		return err
	}

	opCtx, cancel := s.applyTimeout(ctx)
	defer cancel()

	if err := s.kv.Purge(opCtx, k); err != nil {
		return errors.WrapTransient(err, "NATSStore", "Delete", "kv purge")
	}
	return nil
}

// List returns all keys with the given prefix, sorted lexicographically.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	opCtx, cancel := s.applyTimeout(ctx)
	defer cancel()

	lister, err := s.kv.ListKeys(opCtx, jetstream.IgnoreDeletes())
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, errors.WrapTransient(err, "NATSStore", "List", "kv key listing")
	}

	keys := []string{}
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}
