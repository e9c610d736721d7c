// Package filestore implements the storage.Store interface on the local
// filesystem. It is the reference backend for session state
// persistence: one file per key under a root directory, written
// atomically via a temp file and rename.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/DataScienceBioLab/squirrel/errors"
	"github.com/DataScienceBioLab/squirrel/storage"
)

// Store is a filesystem-backed storage.Store. Keys map to file paths
// relative to the root directory; "/" separators become directories.
type Store struct {
	root string
}

var _ storage.Store = (*Store)(nil)

// tmpPrefix marks in-flight Put temp files; List ignores them.
const tmpPrefix = ".put-"

// New creates a file store rooted at the given directory, creating it
// if necessary.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "FileStore", "New",
			"root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "FileStore", "New", "root directory creation")
	}
	return &Store{root: root}, nil
}

// Root returns the root directory of the store.
func (s *Store) Root() string {
	return s.root
}

// keyPath validates a key and resolves it to an absolute path under the
// store root. Path traversal outside the root is rejected.
func (s *Store) keyPath(key string) (string, error) {
	if key == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "FileStore", "keyPath",
			"key must not be empty")
	}
	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig, "FileStore", "keyPath",
			fmt.Sprintf("key %q escapes the store root", key))
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put writes data to the key's file atomically: the content goes to a
// temp file in the same directory, then renames over the target.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "FileStore", "Put", "context check")
	}

	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "FileStore", "Put", "directory creation")
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return errors.WrapTransient(err, "FileStore", "Put", "temp file creation")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapTransient(err, "FileStore", "Put", "temp file write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapTransient(err, "FileStore", "Put", "temp file close")
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.WrapTransient(err, "FileStore", "Put", "rename into place")
	}
	return nil
}

// Get reads the value stored at the key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "FileStore", "Get", "context check")
	}

	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "FileStore", "Get",
				fmt.Sprintf("no value stored at key %q", key))
		}
		return nil, errors.WrapTransient(err, "FileStore", "Get", "file read")
	}
	return data, nil
}

// Delete removes the key's file. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "FileStore", "Delete", "context check")
	}

	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WrapTransient(err, "FileStore", "Delete", "file removal")
	}
	return nil
}

// List walks the store root and returns all keys with the given prefix,
// sorted lexicographically.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "FileStore", "List", "context check")
	}

	keys := []string{}
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// In-flight Put temp files are not committed values.
		if strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "FileStore", "List", "directory walk")
	}

	sort.Strings(keys)
	return keys, nil
}
