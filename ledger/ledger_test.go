package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAndReload(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, "appdb")
	require.NoError(t, err)
	require.False(t, l.Has("accounts"))

	require.NoError(t, l.Record("accounts"))
	require.NoError(t, l.Record("audit"))
	// Recording twice is a no-op.
	require.NoError(t, l.Record("accounts"))
	require.True(t, l.Has("accounts"))
	require.NoError(t, l.Close())

	reloaded, err := Open(dir, "appdb")
	require.NoError(t, err)
	defer reloaded.Close()
	require.True(t, reloaded.Has("accounts"))
	require.True(t, reloaded.Has("audit"))
	require.False(t, reloaded.Has("other"))
	require.Len(t, reloaded.Entries(), 2)
}

func TestScopedPerDatabase(t *testing.T) {
	dir := t.TempDir()

	l1, err := Open(dir, "db1")
	require.NoError(t, err)
	require.NoError(t, l1.Record("accounts"))
	require.NoError(t, l1.Close())

	l2, err := Open(dir, "db2")
	require.NoError(t, err)
	defer l2.Close()
	require.False(t, l2.Has("accounts"))
}

func TestFileFormat(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "appdb")
	require.NoError(t, err)
	require.NoError(t, l.Record("a"))
	require.NoError(t, l.Record("b"))
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(filepath.Join(dir, "appdb.ledger"))
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", string(contents))
}

func TestRecordAfterClose(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "appdb")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	err = l.Record("accounts")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrWrite)
}
