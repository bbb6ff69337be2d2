package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/storage"
	"github.com/polisai/polis-dao/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) domain.Store {
		return storage.NewMemoryStore()
	})
}

func TestMemoryStoreNestedAtomically(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	err := store.Atomically(ctx, func(ctx context.Context) error {
		return store.Atomically(ctx, func(ctx context.Context) error {
			return store.UpsertMember(ctx, domain.Member{ID: "alice", Name: "Alice"})
		})
	})
	require.NoError(t, err)

	size, err := store.CouncilSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), size)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := storage.Open(ctx, storage.DriverMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)

	store, err = storage.Open(ctx, "SQLite", filepath.Join(t.TempDir(), "dao.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = storage.Open(ctx, "postgres", "")
	assert.Error(t, err)
}
