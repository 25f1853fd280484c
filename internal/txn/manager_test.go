package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	deleted map[RID]bool
	failing bool
	undone  []RID
}

func newFakeTable() *fakeTable { return &fakeTable{deleted: make(map[RID]bool)} }

func (f *fakeTable) UndoInsert(rid RID) error {
	if f.failing {
		return errors.New("undo insert failed")
	}
	f.deleted[rid] = true
	f.undone = append(f.undone, rid)
	return nil
}

func (f *fakeTable) UndoDelete(rid RID) error {
	if f.failing {
		return errors.New("undo delete failed")
	}
	f.deleted[rid] = false
	f.undone = append(f.undone, rid)
	return nil
}

type fakeIndex struct {
	entries map[RID]bool
}

func newFakeIndex() *fakeIndex { return &fakeIndex{entries: make(map[RID]bool)} }

func (f *fakeIndex) UndoInsert(key []byte, rid RID) error {
	delete(f.entries, rid)
	return nil
}

func (f *fakeIndex) UndoDelete(key []byte, rid RID) error {
	f.entries[rid] = true
	return nil
}

func TestBeginAssignsMonotonicIDs(t *testing.T) {
	tm := NewTransactionManager(NewLockManager(nil), nil)
	t1 := tm.Begin(ReadCommitted)
	t2 := tm.Begin(ReadCommitted)
	require.Equal(t, t1.ID()+1, t2.ID())
	require.Equal(t, Growing, t1.State())
}

func TestCommitReleasesLocksAndMarksCommitted(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)
	_, err := lm.LockTable(txn, Shared, 1)
	require.NoError(t, err)

	tm.Commit(txn)
	require.Equal(t, Committed, txn.State())
	_, held := txn.TableLockMode(1)
	require.False(t, held)
}

func TestAbortUndoesWritesInLIFOOrder(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)

	table := newFakeTable()
	rid1 := RID{PageID: 1, Slot: 0}
	rid2 := RID{PageID: 1, Slot: 1}
	table.deleted[rid1] = false
	table.deleted[rid2] = true

	tm.RecordTableWrite(txn, TableWriteRecord{Table: table, RID: rid1, Type: WInsert})
	tm.RecordTableWrite(txn, TableWriteRecord{Table: table, RID: rid2, Type: WDelete})

	index := newFakeIndex()
	index.entries[rid1] = true
	tm.RecordIndexWrite(txn, IndexWriteRecord{Index: index, RID: rid1, Type: WInsert})

	err := tm.Abort(txn)
	require.NoError(t, err)
	require.Equal(t, Aborted, txn.State())
	require.True(t, table.deleted[rid1], "insert must be undone to a tombstone")
	require.False(t, table.deleted[rid2], "delete must be un-tombstoned")
	require.Equal(t, []RID{rid2, rid1}, table.undone, "table writes must be undone last-first")
	require.False(t, index.entries[rid1], "index insert must be undone")
}

func TestAbortAggregatesUndoErrors(t *testing.T) {
	lm := NewLockManager(nil)
	tm := NewTransactionManager(lm, nil)
	txn := tm.Begin(ReadCommitted)

	table := newFakeTable()
	table.failing = true
	tm.RecordTableWrite(txn, TableWriteRecord{Table: table, RID: RID{PageID: 1, Slot: 0}, Type: WInsert})

	err := tm.Abort(txn)
	require.Error(t, err)
	require.Equal(t, Aborted, txn.State())
}
