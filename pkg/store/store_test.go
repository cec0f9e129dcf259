package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chatroom/pkg/config"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "chatroom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestGetMissingKey(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "telegram:1")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "telegram:1", "first"))
			require.NoError(t, s.Put(ctx, "telegram:1", "second"))

			got, err := s.Get(ctx, "telegram:1")
			require.NoError(t, err)
			require.Equal(t, "second", got)
		})
	}
}

func TestResolveUserID(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	minted, err := ResolveUserID(ctx, s, "cli:default", "")
	require.NoError(t, err)
	require.NotEmpty(t, minted)

	again, err := ResolveUserID(ctx, s, "cli:default", "")
	require.NoError(t, err)
	require.Equal(t, minted, again, "stored id should be reused")

	explicit, err := ResolveUserID(ctx, s, "cli:default", " alice ")
	require.NoError(t, err)
	require.Equal(t, "alice", explicit)

	stored, err := s.Get(ctx, "cli:default")
	require.NoError(t, err)
	require.Equal(t, "alice", stored)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chatroom.db")

	first, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "telegram:42", "user-42"))
	require.NoError(t, first.Close())

	second, err := NewSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "telegram:42")
	require.NoError(t, err)
	require.Equal(t, "user-42", got)
}

func TestNewSelectsDriver(t *testing.T) {
	s, err := New(config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)

	_, err = New(config.StoreConfig{Driver: "postgres"})
	require.Error(t, err)
}
