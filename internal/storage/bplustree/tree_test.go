package bplustree

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/storage/buffer"
	"github.com/emberdb/ember/internal/storage/disk"
)

func intCodec() Codec[int, string] {
	return Codec[int, string]{
		KeyCodec: KeyCodec[int]{
			EncodeKey: func(k int) ([]byte, error) {
				b := make([]byte, 8)
				binary.LittleEndian.PutUint64(b, uint64(k))
				return b, nil
			},
			DecodeKey: func(b []byte) (int, error) {
				return int(binary.LittleEndian.Uint64(b)), nil
			},
		},
		EncodeValue: func(v string) ([]byte, error) { return []byte(v), nil },
		DecodeValue: func(b []byte) (string, error) { return string(b), nil },
	}
}

func newTestTree(t *testing.T, poolSize int, cfg Config) *BPlusTree[int, string] {
	t.Helper()
	d, err := disk.Open(filepath.Join(t.TempDir(), "tree.db"), buffer.PageSize, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.ShutDown() })
	pool := buffer.NewPool(buffer.Config{PoolSize: poolSize, ReplacerK: 2}, d, nil)
	tree, err := New[int, string](pool, intCodec(), cfg, nil)
	require.NoError(t, err)
	return tree
}

func collect(t *testing.T, tree *BPlusTree[int, string]) []int {
	t.Helper()
	it, err := tree.Begin()
	require.NoError(t, err)
	var got []int
	for !it.IsEnd() {
		k, _ := it.Current()
		got = append(got, k)
		it.Advance()
	}
	return got
}

func TestInsertGetValueRoundTrip(t *testing.T) {
	tree := newTestTree(t, 32, Config{LeafMaxSize: 4, InternalMaxSize: 4})

	perm := rand.New(rand.NewSource(7)).Perm(50)
	for _, k := range perm {
		ok, err := tree.Insert(k, fmt.Sprintf("v%d", k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for k := 0; k < 50; k++ {
		values, found, err := tree.GetValue(k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []string{fmt.Sprintf("v%d", k)}, values)
	}

	_, found, err := tree.GetValue(1000)
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertRejectsDuplicateKeys(t *testing.T) {
	tree := newTestTree(t, 16, Config{LeafMaxSize: 4, InternalMaxSize: 4})

	ok, err := tree.Insert(1, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(1, "b")
	require.NoError(t, err)
	require.False(t, ok)

	values, found, err := tree.GetValue(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"a"}, values)
}

func TestIterationVisitsKeysInOrder(t *testing.T) {
	tree := newTestTree(t, 32, Config{LeafMaxSize: 3, InternalMaxSize: 3})

	perm := rand.New(rand.NewSource(42)).Perm(30)
	for _, k := range perm {
		_, err := tree.Insert(k, fmt.Sprintf("v%d", k))
		require.NoError(t, err)
	}

	var want []int
	for i := 0; i < 30; i++ {
		want = append(want, i)
	}
	require.Equal(t, want, collect(t, tree))
}

func TestRemoveIdempotence(t *testing.T) {
	tree := newTestTree(t, 16, Config{LeafMaxSize: 4, InternalMaxSize: 4})
	_, err := tree.Insert(5, "five")
	require.NoError(t, err)

	require.NoError(t, tree.Remove(5))
	require.NoError(t, tree.Remove(5))

	_, found, err := tree.GetValue(5)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, 16, Config{LeafMaxSize: 4, InternalMaxSize: 4})
	_, err := tree.Insert(1, "one")
	require.NoError(t, err)

	require.NoError(t, tree.Remove(999))

	values, found, err := tree.GetValue(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"one"}, values)
}

// TestInsertThenRemoveAllEndsEmpty mirrors a full fill-then-drain pass:
// leaf_max=3, internal_max=4, insert 1..10 ascending, remove 1..10 in
// reverse, ending on an empty tree.
func TestInsertThenRemoveAllEndsEmpty(t *testing.T) {
	tree := newTestTree(t, 32, Config{LeafMaxSize: 3, InternalMaxSize: 4})

	for k := 1; k <= 10; k++ {
		ok, err := tree.Insert(k, fmt.Sprintf("v%d", k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	stats, err := tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 10, stats.KeyCount)

	for k := 10; k >= 1; k-- {
		require.NoError(t, tree.Remove(k))
	}

	root, err := tree.RootPageID()
	require.NoError(t, err)
	if root != disk.InvalidPageID {
		it, err := tree.Begin()
		require.NoError(t, err)
		require.True(t, it.IsEnd())
	}

	for k := 1; k <= 10; k++ {
		_, found, err := tree.GetValue(k)
		require.NoError(t, err)
		require.False(t, found)
	}
}

func TestBeginAtSeeksToLowerBound(t *testing.T) {
	tree := newTestTree(t, 32, Config{LeafMaxSize: 4, InternalMaxSize: 4})
	for _, k := range []int{2, 4, 6, 8, 10} {
		_, err := tree.Insert(k, fmt.Sprintf("v%d", k))
		require.NoError(t, err)
	}

	it, err := tree.BeginAt(5)
	require.NoError(t, err)
	require.False(t, it.IsEnd())
	k, _ := it.Current()
	require.Equal(t, 6, k)
}

// TestConcurrentDisjointRangeInserts exercises latch crabbing under
// contention: each goroutine inserts its own key range, and a final
// single-threaded iteration confirms every key landed in order with none
// lost or duplicated.
func TestConcurrentDisjointRangeInserts(t *testing.T) {
	tree := newTestTree(t, 64, Config{LeafMaxSize: 4, InternalMaxSize: 4})

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			base := w * perWorker
			for i := 0; i < perWorker; i++ {
				k := base + i
				_, err := tree.Insert(k, fmt.Sprintf("v%d", k))
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var want []int
	for i := 0; i < workers*perWorker; i++ {
		want = append(want, i)
	}
	require.Equal(t, want, collect(t, tree))
}

func TestStatsReportsDepthAndKeyCount(t *testing.T) {
	tree := newTestTree(t, 32, Config{LeafMaxSize: 3, InternalMaxSize: 3})
	stats, err := tree.Stats()
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)

	for i := 0; i < 20; i++ {
		_, err := tree.Insert(i, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
	}
	stats, err = tree.Stats()
	require.NoError(t, err)
	require.Equal(t, 20, stats.KeyCount)
	require.GreaterOrEqual(t, stats.Depth, 2)
}
