package mmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestOpenAndRead(t *testing.T) {
	content := []byte("hello mapped world")
	path := writeTestFile(t, content)

	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, int64(len(content)), m.Len())
	assert.Equal(t, content, m.Bytes())

	chunk, err := m.ReadRange(6, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("mapped"), chunk)

	// Ranges are clamped at the end of the file
	tail, err := m.ReadRange(12, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), tail)

	_, err = m.ReadRange(int64(len(content)), 1)
	assert.Error(t, err)
	_, err = m.ReadRange(-1, 1)
	assert.Error(t, err)
}

func TestOpenSharesMapping(t *testing.T) {
	path := writeTestFile(t, []byte("shared bytes"))

	a, err := Open(path)
	require.NoError(t, err)
	b, err := Open(path)
	require.NoError(t, err)

	assert.Same(t, a, b, "the same path maps once")

	require.NoError(t, a.Close())
	// Still readable through the second handle
	assert.Equal(t, []byte("shared bytes"), b.Bytes())
	require.NoError(t, b.Close())

	// Closing the last handle releases the registry slot
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Error(t, c.Close(), "double close of the last handle is an error")
}

func TestOpenDetectsReplacedFile(t *testing.T) {
	path := writeTestFile(t, []byte("first"))

	old, err := Open(path)
	require.NoError(t, err)

	// Replace the file through the temp-then-rename protocol while the old
	// handle is still open; the new inode must map fresh.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("second!"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	fresh, err := Open(path)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, []byte("second!"), fresh.Bytes())
	assert.Equal(t, []byte("first"), old.Bytes(), "the stale handle keeps its own bytes")

	require.NoError(t, fresh.Close())
	require.NoError(t, old.Close())

	// With both drained, the path maps the current file again
	again, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("second!"), again.Bytes())
	require.NoError(t, again.Close())
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestOpenEmptyFile(t *testing.T) {
	path := writeTestFile(t, nil)
	_, err := Open(path)
	assert.Error(t, err)
}

func TestPrefetchDoesNotPanic(t *testing.T) {
	path := writeTestFile(t, make([]byte, 64*1024))
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	m.Prefetch(0, 32*1024)
	m.Prefetch(60*1024, 200*1024)
	m.Prefetch(100, 50)
}
