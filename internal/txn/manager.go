package txn

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TransactionManager allocates transaction ids and implements
// begin/commit/abort. The id allocator and the lock manager it drives
// are explicit fields, not hidden globals, so a process can run more
// than one instance (e.g. in tests) without cross-talk.
type TransactionManager struct {
	mu        sync.Mutex
	nextTxnID TxnID
	txns      map[TxnID]*Transaction

	lockManager *LockManager
	log         *zap.Logger
}

func NewTransactionManager(lockManager *LockManager, log *zap.Logger) *TransactionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionManager{
		nextTxnID:   1,
		txns:        make(map[TxnID]*Transaction),
		lockManager: lockManager,
		log:         log.Named("transaction_manager"),
	}
}

// Begin allocates a new transaction id and starts it in GROWING state.
func (tm *TransactionManager) Begin(level IsolationLevel) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	id := tm.nextTxnID
	tm.nextTxnID++
	t := newTransaction(id, level)
	tm.txns[id] = t
	return t
}

// GetTransaction looks up a txn by id, or returns nil if this manager never
// began a txn with that id. Committed and aborted txns stay registered.
func (tm *TransactionManager) GetTransaction(id TxnID) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.txns[id]
}

// Commit releases every lock t holds and marks it COMMITTED.
func (tm *TransactionManager) Commit(t *Transaction) {
	tm.lockManager.releaseAll(t)
	t.setState(Committed)
}

// Abort unwinds t's write sets in LIFO order — each table INSERT
// becomes a tombstone, each DELETE is un-tombstoned; each index INSERT
// is deleted and each index DELETE is re-inserted — then releases every
// lock and marks t ABORTED. UPDATE undo is not handled: the write sets
// only ever record INSERT/DELETE.
func (tm *TransactionManager) Abort(t *Transaction) error {
	t.mu.Lock()
	tableWrites := t.tableWriteSet
	t.tableWriteSet = nil
	indexWrites := t.indexWriteSet
	t.indexWriteSet = nil
	t.mu.Unlock()

	var errs error
	for i := len(tableWrites) - 1; i >= 0; i-- {
		rec := tableWrites[i]
		var err error
		switch rec.Type {
		case WInsert:
			err = rec.Table.UndoInsert(rec.RID)
		case WDelete:
			err = rec.Table.UndoDelete(rec.RID)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for i := len(indexWrites) - 1; i >= 0; i-- {
		rec := indexWrites[i]
		var err error
		switch rec.Type {
		case WInsert:
			err = rec.Index.UndoInsert(rec.Key, rec.RID)
		case WDelete:
			err = rec.Index.UndoDelete(rec.Key, rec.RID)
		}
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	tm.lockManager.releaseAll(t)
	t.setState(Aborted)
	if errs != nil {
		tm.log.Warn("abort undo encountered errors", zap.Uint64("txn_id", uint64(t.id)), zap.Error(errs))
	}
	return errs
}

// RecordTableWrite appends a table write-set entry, used by an executor
// before an insert/delete commits to the visible state.
func (tm *TransactionManager) RecordTableWrite(t *Transaction, rec TableWriteRecord) {
	t.appendTableWrite(rec)
}

// RecordIndexWrite appends an index write-set entry.
func (tm *TransactionManager) RecordIndexWrite(t *Transaction, rec IndexWriteRecord) {
	t.appendIndexWrite(rec)
}
