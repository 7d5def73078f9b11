package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal/identity/store"
	"reconcile/internal/platform/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		backend, closeFn, err := store.Open(ctx, config.DatabaseConfig{Dialect: "memory"})
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &store.InMemory{}, backend)
		assert.NoError(t, backend.Ping(ctx))
	})

	t.Run("sqlite is migrated on open", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "contacts.db")
		backend, closeFn, err := store.Open(ctx, config.DatabaseConfig{Dialect: "sqlite", Storage: path})
		require.NoError(t, err)
		found, err := backend.FindByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, found)
		require.NoError(t, closeFn())

		// reopening runs the migrations again against the existing file
		_, closeFn, err = store.Open(ctx, config.DatabaseConfig{Dialect: "sqlite", Storage: path})
		require.NoError(t, err)
		require.NoError(t, closeFn())
	})

	t.Run("unknown dialect", func(t *testing.T) {
		_, _, err := store.Open(ctx, config.DatabaseConfig{Dialect: "mysql"})
		assert.Error(t, err)
	})
}
