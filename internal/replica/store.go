// Package replica mirrors entity state into an embedded, prefix-subscribable
// key-value store. Keys are slash-separated document paths; values are
// CBOR-encoded documents. The replica is never authoritative.
package replica

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/rpggio/tally/internal/codec"
	"github.com/rpggio/tally/internal/logging"
)

// ErrNotFound is returned when no document exists at a path.
var ErrNotFound = errors.New("replica document not found")

const maxTxnRetries = 5

// Config holds configuration for a replica store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a badger-backed replica. It is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens a replica store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent replica")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create replica directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := logging.Component(cfg.Logger, "replica")
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open replica database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set replaces the document at path. A stored document carrying a higher
// version is kept.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	fields, err := codec.Fields(value)
	if err != nil {
		return fmt.Errorf("replica set %s: %w", path, err)
	}
	return s.write(ctx, path, func(_ map[string]any) map[string]any {
		return fields
	})
}

// Update merges fields into the document at path, creating it if absent.
// Fields set to nil are removed from the document.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.write(ctx, path, func(current map[string]any) map[string]any {
		merged := make(map[string]any, len(current)+len(fields))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range fields {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		return merged
	})
}

// Remove deletes the document at path and every document below it.
func (s *Store) Remove(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(path)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if underPath(string(key), path) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replica remove %s: %w", path, err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("replica remove %s: %w", path, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("replica remove %s: %w", path, err)
	}
	return nil
}

// Get decodes the document at path into dst.
func (s *Store) Get(ctx context.Context, path string, dst any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("replica get %s: %w", path, err)
		}
		return item.Value(func(val []byte) error {
			return codec.Unmarshal(val, dst)
		})
	})
}

// List returns the paths of documents directly or indirectly below prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if prefix == "" || underPath(key, prefix) {
				paths = append(paths, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replica list %s: %w", prefix, err)
	}
	return paths, nil
}

// write runs a read-modify-write of one document, retrying on badger
// transaction conflicts.
func (s *Store) write(ctx context.Context, path string, next func(current map[string]any) map[string]any) error {
	if err := validatePath(path); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			current, err := readFields(txn, path)
			if err != nil {
				return err
			}
			doc := next(current)
			if stale(current, doc) {
				s.logger.Debug("skipping stale replica write", "path", path)
				return nil
			}
			data, err := codec.Marshal(doc)
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			return txn.Set([]byte(path), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("replica write %s: %w", path, err)
	}
	return nil
}

func readFields(txn *badger.Txn, path string) (map[string]any, error) {
	item, err := txn.Get([]byte(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	err = item.Value(func(val []byte) error {
		return codec.Unmarshal(val, &fields)
	})
	return fields, err
}

// stale reports whether next carries an older version than current.
func stale(current, next map[string]any) bool {
	if current == nil {
		return false
	}
	have, ok := codec.Int64(current["version"])
	if !ok {
		return false
	}
	want, ok := codec.Int64(next["version"])
	if !ok {
		return false
	}
	return want < have
}

func validatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return fmt.Errorf("invalid replica path %q", path)
	}
	return nil
}

// underPath reports whether key is path itself or a descendant of it.
func underPath(key, path string) bool {
	return key == path || strings.HasPrefix(key, path+"/")
}

// Change is one replica mutation delivered to watchers. Removed is set
// when the document was deleted; Data is then empty.
type Change struct {
	Path    string `json:"path"`
	Removed bool   `json:"removed"`
	Data    []byte `json:"-"`
	Version uint64 `json:"-"`
}

// Decode decodes the changed document into dst.
func (c Change) Decode(dst any) error {
	if c.Removed {
		return ErrNotFound
	}
	return codec.Unmarshal(c.Data, dst)
}

// Watch streams changes at or below prefix to fn until ctx is done or fn
// returns an error.
func (s *Store) Watch(ctx context.Context, prefix string, fn func(Change) error) error {
	if err := validatePath(prefix); err != nil {
		return err
	}
	match := []pb.Match{{Prefix: []byte(prefix)}}
	err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		for _, kv := range kvs.Kv {
			key := string(kv.Key)
			if !underPath(key, prefix) {
				continue
			}
			change := Change{
				Path:    key,
				Removed: len(kv.Value) == 0,
				Data:    bytes.Clone(kv.Value),
				Version: kv.Version,
			}
			if err := fn(change); err != nil {
				return err
			}
		}
		return nil
	}, match)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
