package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "test.db"), DefaultPageSize, nil)
	require.NoError(t, err)
	defer m.ShutDown()

	id := m.AllocatePageID()
	out := make([]byte, DefaultPageSize)
	copy(out, "hello page")

	require.NoError(t, m.WritePage(id, out))

	in := make([]byte, DefaultPageSize)
	require.NoError(t, m.ReadPage(id, in))
	require.Equal(t, out, in)
}

func TestAllocatePageIDMonotonic(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "test.db"), DefaultPageSize, nil)
	require.NoError(t, err)
	defer m.ShutDown()

	first := m.AllocatePageID()
	second := m.AllocatePageID()
	require.Equal(t, first+1, second)
}

func TestBadBufferSizeRejected(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "test.db"), DefaultPageSize, nil)
	require.NoError(t, err)
	defer m.ShutDown()

	id := m.AllocatePageID()
	require.ErrorIs(t, m.WritePage(id, make([]byte, 10)), ErrBadBufferSize)
	require.ErrorIs(t, m.ReadPage(id, make([]byte, 10)), ErrBadBufferSize)
}

func TestShutDownClosesFile(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "test.db"), DefaultPageSize, nil)
	require.NoError(t, err)
	require.NoError(t, m.ShutDown())

	id := m.AllocatePageID()
	require.ErrorIs(t, m.WritePage(id, make([]byte, DefaultPageSize)), ErrFileNotOpen)
}

func TestReopenContinuesPageCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	m1, err := Open(path, DefaultPageSize, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id := m1.AllocatePageID()
		require.NoError(t, m1.WritePage(id, make([]byte, DefaultPageSize)))
	}
	require.NoError(t, m1.ShutDown())

	m2, err := Open(path, DefaultPageSize, nil)
	require.NoError(t, err)
	defer m2.ShutDown()
	require.Equal(t, PageID(3), m2.AllocatePageID())
}
