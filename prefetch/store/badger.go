package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory is set.
	DataDir string

	// InMemory keeps all data in RAM. Nothing is persisted.
	InMemory bool

	// SyncWrites fsyncs after every write.
	SyncWrites bool
}

// Badger is a durable key-value store backed by BadgerDB.
type Badger struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a Badger store in dataDir.
func OpenBadger(dataDir string) (*Badger, error) {
	return OpenBadgerWithOptions(BadgerOptions{DataDir: dataDir})
}

// OpenBadgerWithOptions opens a Badger store with explicit options.
// Counter values are tiny, so memory settings are kept small.
func OpenBadgerWithOptions(opts BadgerOptions) (*Badger, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, errors.New("store: badger data dir is required")
	}
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(4 << 20).
		WithIndexCacheSize(2 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("store: opening badger at %q: %w", opts.DataDir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// GetItem returns the value stored under key.
func (b *Badger) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := b.checkOpen(); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var (
		value string
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("store: badger get %q: %w", key, err)
	}
	return value, found, nil
}

// SetItem stores value under key.
func (b *Badger) SetItem(ctx context.Context, key, value string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("store: badger set %q: %w", key, err)
	}
	return nil
}

// Keys returns the sorted keys that start with prefix.
func (b *Badger) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: badger scan %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close flushes and closes the database. Closing twice is a no-op.
func (b *Badger) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
