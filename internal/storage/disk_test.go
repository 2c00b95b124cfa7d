package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	f1 := filepath.Join(dir, "f1.txt")
	require.NoError(t, os.WriteFile(f1, []byte("hello"), 0644))
	got, err := DiskUsageBytes(f1)
	require.NoError(t, err)
	assert.EqualValues(t, 5, got)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b"), []byte("c"), 0644))
	got, err = DiskUsageBytes(sub)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got)

	got, err = DiskUsageBytes(f1, filepath.Join(dir, "nonexistent"), "", sub)
	require.NoError(t, err)
	assert.EqualValues(t, 8, got)
}

func TestDatabaseFootprint(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(db, []byte("1234"), 0644))
	require.NoError(t, os.WriteFile(db+"-wal", []byte("56"), 0644))

	got, err := DatabaseFootprint(db)
	require.NoError(t, err)
	assert.EqualValues(t, 6, got)

	got, err = DatabaseFootprint("")
	require.NoError(t, err)
	assert.Zero(t, got)
}
