package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.json")
	store, err := New(path)
	require.NoError(t, err)

	want := []string{"fp-1", "fp-2", "fp-3"}
	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store, err := New(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLoadCorruptFileReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := New(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	require.Error(t, err)
}

func TestSaveOverwritesPriorSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.json")
	store, err := New(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), []string{"old"}))
	require.NoError(t, store.Save(context.Background(), []string{"new-1", "new-2"}))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"new-1", "new-2"}, got)

	// The temp file must not linger after a successful rename.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestNewCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "deeper", "ledger.json")
	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), []string{"fp"}))
}
