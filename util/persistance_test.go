package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Epoch uint64
	Key   []byte
}

func TestPersistAndLoad(t *testing.T) {
	t.Parallel()
	filename := filepath.Join(t.TempDir(), "record.bin")
	require.NoError(t, Persist(filename, &record{Epoch: 3, Key: []byte{1, 2}}))

	// overwriting replaces the whole file
	require.NoError(t, Persist(filename, &record{Epoch: 4, Key: []byte{3}}))

	var loaded record
	require.NoError(t, Load(filename, &loaded))
	require.Equal(t, record{Epoch: 4, Key: []byte{3}}, loaded)

	info, err := os.Stat(filename)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	var loaded record
	err := Load(filepath.Join(t.TempDir(), "missing"), &loaded)
	require.ErrorIs(t, err, os.ErrNotExist)
}
