package txn

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockTableGrantsCompatibleSharedLocks(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	t1 := tm.Begin(ReadCommitted)
	t2 := tm.Begin(ReadCommitted)

	ok, err := lm.LockTable(t1, Shared, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockTable(t2, Shared, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockTableSameModeIsNoop(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)

	ok, err := lm.LockTable(txn, Shared, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lm.LockTable(txn, Shared, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLockTableIncompatibleUpgradeAborts(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)

	_, err := lm.LockTable(txn, IntentionShared, 1)
	require.NoError(t, err)

	_, err = lm.LockTable(txn, IntentionShared, 1)
	require.NoError(t, err)

	txn2 := tm.Begin(ReadCommitted)
	_, err = lm.LockTable(txn2, Shared, 1)
	require.NoError(t, err)

	_, err = lm.LockTable(txn2, IntentionExclusive, 1)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, IncompatibleUpgrade, abortErr.Reason)
	require.Equal(t, Aborted, txn2.State())
}

// TestFIFOFairnessAbsentUpgrades: two exclusive requests on the same
// table are mutually incompatible, so the second must not be granted
// until the first unlocks, preserving queue order.
func TestFIFOFairnessAbsentUpgrades(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	t1 := tm.Begin(ReadCommitted)
	t2 := tm.Begin(ReadCommitted)

	ok, err := lm.LockTable(t1, Exclusive, 1)
	require.NoError(t, err)
	require.True(t, ok)

	var granted atomic.Bool
	done := make(chan struct{})
	go func() {
		ok, err := lm.LockTable(t2, Exclusive, 1)
		require.NoError(t, err)
		require.True(t, ok)
		granted.Store(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, granted.Load(), "t2 should still be waiting behind t1")

	require.NoError(t, lm.UnlockTable(t1, 1))
	<-done
	require.True(t, granted.Load())
}

func TestRowLockRequiresTableIntentLock(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)

	_, err := lm.LockRow(txn, Exclusive, 1, RID{PageID: 1, Slot: 0})
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, TableLockNotPresent, abortErr.Reason)
}

func TestRowIntentionLockRejected(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)
	_, err := lm.LockTable(txn, IntentionExclusive, 1)
	require.NoError(t, err)

	_, err = lm.LockRow(txn, IntentionExclusive, 1, RID{PageID: 1, Slot: 0})
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, AttemptedIntentionLockOnRow, abortErr.Reason)
}

func TestUnlockUnderRepeatableReadEntersShrinking(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(RepeatableRead)
	_, err := lm.LockTable(txn, Shared, 1)
	require.NoError(t, err)

	require.NoError(t, lm.UnlockTable(txn, 1))
	require.Equal(t, Shrinking, txn.State())
}

func TestLockOnShrinkingAbortsUnderRepeatableRead(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(RepeatableRead)
	_, err := lm.LockTable(txn, Shared, 1)
	require.NoError(t, err)
	require.NoError(t, lm.UnlockTable(txn, 1))
	require.Equal(t, Shrinking, txn.State())

	_, err = lm.LockTable(txn, Shared, 2)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, LockOnShrinking, abortErr.Reason)
}

func TestUnlockTableBeforeRowsAborts(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)
	_, err := lm.LockTable(txn, IntentionExclusive, 1)
	require.NoError(t, err)
	_, err = lm.LockRow(txn, Exclusive, 1, RID{PageID: 1, Slot: 0})
	require.NoError(t, err)

	err = lm.UnlockTable(txn, 1)
	var abortErr *AbortError
	require.ErrorAs(t, err, &abortErr)
	require.Equal(t, TableUnlockedBeforeUnlockingRows, abortErr.Reason)
}

// TestDeadlockVictimIsHighestIDOnCycle builds the {1->2, 2->3, 3->1}
// waits-for graph directly against the detector's internal state and
// confirms it selects txn 3.
func TestDeadlockVictimIsHighestIDOnCycle(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	d := NewDeadlockDetector(lm, tm, time.Hour, nil)

	d.waitsFor = map[TxnID][]TxnID{1: {2}, 2: {3}, 3: {1}}
	victim, found := d.hasCycle()
	require.True(t, found)
	require.Equal(t, TxnID(3), victim)
}

// TestDeadlockDetectorBuildsEdgesFromQueues: t1 holds an exclusive table
// lock and t2 blocks waiting for it; a manual detectOnce call (standing in
// for the periodic tick) must record the waits-for edge t2 -> t1 built
// from the queue. There is no cycle, so nothing is aborted.
func TestDeadlockDetectorBuildsEdgesFromQueues(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	d := NewDeadlockDetector(lm, tm, time.Hour, nil)

	t1 := tm.Begin(ReadCommitted)
	t2 := tm.Begin(ReadCommitted)
	_, err := lm.LockTable(t1, Exclusive, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = lm.LockTable(t2, Exclusive, 1)
	}()
	time.Sleep(20 * time.Millisecond)

	d.detectOnce()
	d.mu.Lock()
	edges := d.waitsFor[t2.id]
	d.mu.Unlock()
	require.Contains(t, edges, t1.id)

	require.NoError(t, lm.UnlockTable(t1, 1))
	wg.Wait()
}
