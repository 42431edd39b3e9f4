package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openAll returns one fresh instance of every backend.
func openAll(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()

	b, err := OpenBadger(filepath.Join(dir, "badger"))
	require.NoError(t, err)
	s, err := OpenSQLite(filepath.Join(dir, "sqlite", "kv.db"))
	require.NoError(t, err)

	stores := map[string]KV{"memory": NewMemory(), "badger": b, "sqlite": s}
	t.Cleanup(func() {
		for _, kv := range stores {
			_ = kv.Close()
		}
	})
	return stores
}

func TestStores_GetMissingKey(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			v, ok, err := kv.GetItem(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, v)
		})
	}
}

func TestStores_SetThenGetOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.SetItem(ctx, "daily_2026-10-19", "0.5"))
			require.NoError(t, kv.SetItem(ctx, "daily_2026-10-19", "0.75"))

			v, ok, err := kv.GetItem(ctx, "daily_2026-10-19")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "0.75", v)
		})
	}
}

func TestStores_KeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.SetItem(ctx, "p_daily_b", "1"))
			require.NoError(t, kv.SetItem(ctx, "p_daily_a", "1"))
			require.NoError(t, kv.SetItem(ctx, "q_daily_a", "1"))

			keys, err := kv.Keys(ctx, "p_")
			require.NoError(t, err)
			assert.Equal(t, []string{"p_daily_a", "p_daily_b"}, keys)
		})
	}
}

func TestStores_ClosedStoreReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Close())
			_, _, err := kv.GetItem(ctx, "k")
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, kv.SetItem(ctx, "k", "v"), ErrClosed)
			// second close is harmless
			assert.NoError(t, kv.Close())
		})
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ledger")

	b, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, b.SetItem(ctx, "monthly_2026-10", "12.5"))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir)
	require.NoError(t, err)
	defer b.Close()
	v, ok, err := b.GetItem(ctx, "monthly_2026-10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12.5", v)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SetItem(ctx, "daily_photos_2026-10-19", "0.021"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetItem(ctx, "daily_photos_2026-10-19")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.021", v)
}

func TestMemory_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.SetItem(ctx, "k", "v")
			_, _, _ = m.GetItem(ctx, "k")
		}()
	}
	wg.Wait()
	v, ok, err := m.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestOpen_KnownBackends(t *testing.T) {
	for _, name := range ValidBackendNames() {
		t.Run(name, func(t *testing.T) {
			kv, err := Open(name, t.TempDir())
			require.NoError(t, err)
			assert.NoError(t, kv.Close())
		})
	}
}
