package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// KV is the full surface shared by every backend.
type KV interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

var validBackends = map[string]bool{
	"memory": true,
	"badger": true,
	"sqlite": true,
}

// IsValidBackend reports whether name is a recognized backend.
func IsValidBackend(name string) bool { return validBackends[name] }

// ValidBackendNames returns the sorted backend names.
func ValidBackendNames() []string {
	names := make([]string, 0, len(validBackends))
	for n := range validBackends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open opens the named backend rooted at dataDir. The memory backend ignores dataDir.
func Open(backend, dataDir string) (KV, error) {
	switch backend {
	case "memory":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(filepath.Join(dataDir, "ledger"))
	case "sqlite":
		return OpenSQLite(filepath.Join(dataDir, "ledger.db"))
	default:
		return nil, fmt.Errorf("unknown store backend %q; valid: %s", backend, strings.Join(ValidBackendNames(), ", "))
	}
}
