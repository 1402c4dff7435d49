// Package store persists service state as JSON files, one mapping id->record per file.
//
// Writes go to a temp file in the same directory and are renamed over the
// target, so readers never observe a torn file. Each file has its own mutex.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"jobpilot/internal/errors"
)

// File names shared by the services.
const (
	UsersFile        = "users.json"
	ProfilesFile     = "profiles.json"
	CVsFile          = "cvs.json"
	JobsFile         = "jobs.json"
	SessionsFile     = "sessions.json"
	CVSessionsFile   = "cv_sessions.json"
	AnalysesFile     = "analyses.json"
	CampaignsFile    = "campaigns.json"
	TranslationsFile = "translations.json"
	RankingsFile     = "rankings.json"
	ExperimentsFile  = "experiments.json"
	VariantsFile     = "variants.json"
	ApplicationsFile = "applications.json"
	MessagesFile     = "messages.json"
	MetricsFile      = "metrics.json"
)

const maxSwapAttempts = 3

// Store is a directory of JSON collections.
type Store struct {
	dir    string
	logger *errors.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string, logger *errors.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "data directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot create data directory %s", dir), err)
	}
	if logger == nil {
		logger = errors.NewNop()
	}
	return &Store{dir: dir, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute location of a file in the store.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Collection is a typed view over one JSON file.
type Collection[T any] struct {
	store *Store
	name  string
	mu    *sync.Mutex
}

// NewCollection binds a collection to name inside s.
func NewCollection[T any](s *Store, name string) *Collection[T] {
	return &Collection[T]{store: s, name: name, mu: s.lock(name)}
}

// Name returns the file name of the collection.
func (c *Collection[T]) Name() string { return c.name }

type fileStamp struct {
	exists  bool
	size    int64
	modTime int64
}

func (c *Collection[T]) stamp() (fileStamp, error) {
	info, err := os.Stat(c.store.Path(c.name))
	if err != nil {
		if os.IsNotExist(err) {
			return fileStamp{}, nil
		}
		return fileStamp{}, err
	}
	return fileStamp{exists: true, size: info.Size(), modTime: info.ModTime().UnixNano()}, nil
}

// read parses the file. A missing or blank file is an empty collection.
func (c *Collection[T]) read() (map[string]T, error) {
	data, err := os.ReadFile(c.store.Path(c.name))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]T{}, nil
		}
		return nil, errors.NewPersistenceError(errors.ErrCodePersistenceCorrupt,
			fmt.Sprintf("cannot read %s", c.name), err).WithContext("file", c.name)
	}
	records := map[string]T{}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.NewPersistenceError(errors.ErrCodePersistenceCorrupt,
			fmt.Sprintf("state file %s cannot be parsed", c.store.Path(c.name)), err).WithContext("file", c.name)
	}
	return records, nil
}

// write replaces the file atomically. encoding/json sorts map keys, so output is stable.
func (c *Collection[T]) write(records map[string]T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot encode %s", c.name), err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(c.store.Path(c.name), data)
}

// WriteFileAtomic writes data to a temp file next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot create temp file for %s", path), err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot write %s", path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot sync %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot close %s", path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed,
			fmt.Sprintf("cannot replace %s", path), err)
	}
	return nil
}

// Verify parses the file and reports PersistenceCorrupt if it cannot.
// Services call it at startup for every file they own.
func (c *Collection[T]) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.read()
	return err
}

// Load returns a snapshot of every record.
func (c *Collection[T]) Load() (map[string]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

// Get returns the record stored under id.
func (c *Collection[T]) Get(id string) (T, bool, error) {
	var zero T
	records, err := c.Load()
	if err != nil {
		return zero, false, err
	}
	v, ok := records[id]
	return v, ok, nil
}

// List returns every record ordered by id.
func (c *Collection[T]) List() ([]T, error) {
	records, err := c.Load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, records[id])
	}
	return out, nil
}

// Put stores v under id.
func (c *Collection[T]) Put(id string, v T) error {
	return c.Update(func(records map[string]T) error {
		records[id] = v
		return nil
	})
}

// Delete removes id and reports whether it existed.
func (c *Collection[T]) Delete(id string) (bool, error) {
	found := false
	err := c.Update(func(records map[string]T) error {
		_, found = records[id]
		delete(records, id)
		return nil
	})
	return found, err
}

// Update reads a fresh snapshot, applies fn and swaps the result in.
// If another writer replaced the file in between, the cycle is retried.
// An error from fn aborts the update and leaves the file untouched.
func (c *Collection[T]) Update(fn func(records map[string]T) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		before, err := c.stamp()
		if err != nil {
			return errors.NewPersistenceError(errors.ErrCodePersistenceCorrupt,
				fmt.Sprintf("cannot stat %s", c.name), err)
		}
		records, err := c.read()
		if err != nil {
			return err
		}
		if err := fn(records); err != nil {
			return err
		}
		after, err := c.stamp()
		if err != nil {
			return errors.NewPersistenceError(errors.ErrCodePersistenceCorrupt,
				fmt.Sprintf("cannot stat %s", c.name), err)
		}
		if after != before && attempt < maxSwapAttempts {
			c.store.logger.Warn("State file changed during update, retrying", "file", c.name, "attempt", attempt)
			continue
		}
		return c.write(records)
	}
}
