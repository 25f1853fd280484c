package replacer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvictionOrderMixedMaturity(t *testing.T) {
	// k=2 over frame ids 1..7 (the replacer is sized 8 so that id 7 is in
	// range); every frame is set evictable once the whole sequence has been
	// recorded.
	r := New(8, 2)

	sequence := []FrameID{1, 2, 3, 4, 1, 2, 5, 6, 1, 2, 3, 4, 5, 6, 7}
	for _, f := range sequence {
		r.RecordAccess(f)
	}
	for f := FrameID(1); f <= 7; f++ {
		r.SetEvictable(f, true)
	}

	var got []FrameID
	for {
		f, ok := r.Evict()
		if !ok {
			break
		}
		got = append(got, f)
	}

	// Frame 7 has a single access (immature, evicted first). Among the
	// mature frames, the one whose k-th most recent access is furthest in
	// the past goes next: 3's two accesses land at t=2,10; 4 at t=3,11;
	// 1 at t=4,8; 2 at t=5,9; 5 at t=6,12; 6 at t=7,13.
	require.Equal(t, []FrameID{7, 3, 4, 1, 2, 5, 6}, got)
}

func TestRecordAccessCreatesNodeOnFirstTouch(t *testing.T) {
	r := New(2, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())
}

func TestSetEvictableTogglesSize(t *testing.T) {
	r := New(2, 2)
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	require.Equal(t, 1, r.Size())
	r.SetEvictable(0, false)
	require.Equal(t, 0, r.Size())
}

func TestRemovePanicsOnNonEvictable(t *testing.T) {
	r := New(2, 2)
	r.RecordAccess(0)
	require.Panics(t, func() { r.Remove(0) })
}

func TestEvictReturnsFalseWhenNothingEvictable(t *testing.T) {
	r := New(2, 2)
	r.RecordAccess(0)
	_, ok := r.Evict()
	require.False(t, ok)
}

func TestFrameOutOfRangePanics(t *testing.T) {
	r := New(2, 2)
	require.Panics(t, func() { r.RecordAccess(5) })
}
