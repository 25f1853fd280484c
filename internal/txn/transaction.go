package txn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/emberdb/ember/internal/storage/disk"
)

// TxnID is a monotonically allocated transaction identifier.
type TxnID uint64

// TableOID names a table-like resource the lock manager can grant table
// locks against; row locks are scoped within a TableOID.
type TableOID uint32

// RID identifies a row: the page holding it plus its slot within that
// page, mirroring BusTub's RID.
type RID struct {
	PageID disk.PageID
	Slot   uint32
}

// IsolationLevel governs which lock/unlock transitions are legal.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

// State is a transaction's lifecycle position.
type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// WType is the kind of mutation a write-set record undoes on abort.
type WType int

const (
	WInsert WType = iota
	WDelete
)

// TableMutator is the minimal surface a table-like resource exposes so
// the transaction manager can undo a write on abort, without this
// package depending on any concrete table/heap implementation (that
// lives above the storage/txn core).
type TableMutator interface {
	UndoInsert(rid RID) error
	UndoDelete(rid RID) error
}

// IndexMutator is the symmetric undo surface for a secondary index.
type IndexMutator interface {
	UndoInsert(key []byte, rid RID) error
	UndoDelete(key []byte, rid RID) error
}

// TableWriteRecord is one entry in a txn's table write set.
type TableWriteRecord struct {
	Table TableMutator
	RID   RID
	Type  WType
}

// IndexWriteRecord is one entry in a txn's index write set.
type IndexWriteRecord struct {
	Index IndexMutator
	Key   []byte
	RID   RID
	Type  WType
}

// Transaction is the in-memory record of one active transaction: its
// isolation level, lifecycle state, held locks, and undo logs.
type Transaction struct {
	id        TxnID
	sessionID uuid.UUID
	isolation IsolationLevel

	mu    sync.Mutex
	state State

	tableLocks map[TableOID]LockMode
	rowLocks   map[TableOID]map[RID]LockMode

	tableWriteSet []TableWriteRecord
	indexWriteSet []IndexWriteRecord
}

func newTransaction(id TxnID, level IsolationLevel) *Transaction {
	return &Transaction{
		id:         id,
		sessionID:  uuid.New(),
		isolation:  level,
		state:      Growing,
		tableLocks: make(map[TableOID]LockMode),
		rowLocks:   make(map[TableOID]map[RID]LockMode),
	}
}

func (t *Transaction) ID() TxnID                     { return t.id }
func (t *Transaction) SessionID() uuid.UUID           { return t.sessionID }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// TableLockMode returns the mode currently held on table, if any.
func (t *Transaction) TableLockMode(table TableOID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.tableLocks[table]
	return m, ok
}

func (t *Transaction) setTableLock(table TableOID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableLocks[table] = mode
}

func (t *Transaction) clearTableLock(table TableOID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tableLocks, table)
}

// RowLockMode returns the mode currently held on (table, rid), if any.
func (t *Transaction) RowLockMode(table TableOID, rid RID) (LockMode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, ok := t.rowLocks[table]
	if !ok {
		return 0, false
	}
	m, ok := rows[rid]
	return m, ok
}

func (t *Transaction) setRowLock(table TableOID, rid RID, mode LockMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, ok := t.rowLocks[table]
	if !ok {
		rows = make(map[RID]LockMode)
		t.rowLocks[table] = rows
	}
	rows[rid] = mode
}

func (t *Transaction) clearRowLock(table TableOID, rid RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rows, ok := t.rowLocks[table]; ok {
		delete(rows, rid)
	}
}

// rowLockCount returns how many rows of table this txn still holds a
// lock on, used by unlock_table's TABLE_UNLOCKED_BEFORE_UNLOCKING_ROWS
// check.
func (t *Transaction) rowLockCount(table TableOID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rowLocks[table])
}

func (t *Transaction) appendTableWrite(rec TableWriteRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tableWriteSet = append(t.tableWriteSet, rec)
}

func (t *Transaction) appendIndexWrite(rec IndexWriteRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexWriteSet = append(t.indexWriteSet, rec)
}
