package csvfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendCreatesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	header := []string{"a", "b"}

	require.NoError(t, Append(path, header, []string{"1", "x,y"}))
	require.NoError(t, Append(path, header, []string{"2", "z"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,\"x,y\"\n2,z\n", string(data))

	table, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, header, table.Header)
	require.Len(t, table.Rows, 2)
	require.Equal(t, "x,y", table.Field(table.Rows[0], "b"))
	require.Equal(t, "", table.Field(table.Rows[0], "missing"))
}

func TestReadMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "nope.csv"))
	require.True(t, errors.Is(err, os.ErrNotExist))

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	table, err := Read(empty)
	require.NoError(t, err)
	require.Empty(t, table.Header)
	require.Empty(t, table.Rows)
	require.False(t, table.Has("a"))
}

func TestColumnMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeffa, b\n1,2\n"), 0o644))

	table, err := Read(path)
	require.NoError(t, err)
	idx, err := table.Column("a")
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, "2", table.Field(table.Rows[0], "b"))

	_, err = table.Column("c")
	require.ErrorIs(t, err, ErrMissingColumn)
}

func TestWriteAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	require.NoError(t, WriteAtomic(path, []string{"user_id"}, [][]string{{"alice"}, {"bob"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "user_id\nalice\nbob\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
