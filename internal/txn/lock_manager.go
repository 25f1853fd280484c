package txn

import (
	"context"
	"sync"

	"go.uber.org/zap"

	internaltelemetry "github.com/emberdb/ember/internal/telemetry"
)

// InvalidTxnID marks a lock-request queue's upgrading slot as empty.
const InvalidTxnID TxnID = 0

type lockRequest struct {
	txnID   TxnID
	mode    LockMode
	granted bool
}

// lockRequestQueue is one resource's FIFO of lock requests: a condition
// variable broadcasts on every grant/release so waiters re-check.
type lockRequestQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  []*lockRequest
	upgrading TxnID
}

func newLockRequestQueue() *lockRequestQueue {
	q := &lockRequestQueue{upgrading: InvalidTxnID}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// grantIfPossible walks the queue in order, granting a pending request
// iff its mode is compatible with every mode already granted (including
// grants made earlier in this same pass), so a compatible prefix is
// granted in one call. Caller must hold q.mu.
func grantIfPossible(q *lockRequestQueue) {
	var grantedModes []LockMode
	for _, req := range q.requests {
		if req.granted {
			grantedModes = append(grantedModes, req.mode)
		}
	}
	for _, req := range q.requests {
		if req.granted {
			continue
		}
		ok := true
		for _, g := range grantedModes {
			if !AreLocksCompatible(g, req.mode) {
				ok = false
				break
			}
		}
		if !ok {
			break
		}
		if req.txnID == q.upgrading {
			q.upgrading = InvalidTxnID
		}
		req.granted = true
		grantedModes = append(grantedModes, req.mode)
	}
}

// LockManager grants and releases table/row locks per spec.md's
// hierarchical locking protocol, and aborts transactions that request a
// lock forbidden by their isolation level or the upgrade matrix.
type LockManager struct {
	tableMapMu sync.Mutex
	tableQueue map[TableOID]*lockRequestQueue

	rowMapMu sync.Mutex
	rowQueue map[RID]*lockRequestQueue

	log     *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// SetMetrics attaches storage metrics instruments; nil disables recording.
func (lm *LockManager) SetMetrics(m *internaltelemetry.StorageMetrics) {
	lm.metrics = m
}

func NewLockManager(log *zap.Logger) *LockManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &LockManager{
		tableQueue: make(map[TableOID]*lockRequestQueue),
		rowQueue:   make(map[RID]*lockRequestQueue),
		log:        log.Named("lock_manager"),
	}
}

func (lm *LockManager) tableQueueFor(table TableOID) *lockRequestQueue {
	lm.tableMapMu.Lock()
	defer lm.tableMapMu.Unlock()
	q, ok := lm.tableQueue[table]
	if !ok {
		q = newLockRequestQueue()
		lm.tableQueue[table] = q
	}
	return q
}

func (lm *LockManager) rowQueueFor(rid RID) *lockRequestQueue {
	lm.rowMapMu.Lock()
	defer lm.rowMapMu.Unlock()
	q, ok := lm.rowQueue[rid]
	if !ok {
		q = newLockRequestQueue()
		lm.rowQueue[rid] = q
	}
	return q
}

// CanTxnTakeLock aborts txn if mode is forbidden by its isolation level
// in its current state.
func (lm *LockManager) CanTxnTakeLock(t *Transaction, mode LockMode) error {
	state := t.State()
	switch t.IsolationLevel() {
	case ReadUncommitted:
		if mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive {
			t.setState(Aborted)
			return &AbortError{TxnID: t.id, Reason: LockSharedOnReadUncommitted}
		}
		if state == Shrinking {
			t.setState(Aborted)
			return &AbortError{TxnID: t.id, Reason: LockOnShrinking}
		}
	case ReadCommitted:
		if state == Shrinking && mode != Shared && mode != IntentionShared {
			t.setState(Aborted)
			return &AbortError{TxnID: t.id, Reason: LockOnShrinking}
		}
	case RepeatableRead:
		if state == Shrinking {
			t.setState(Aborted)
			return &AbortError{TxnID: t.id, Reason: LockOnShrinking}
		}
	}
	return nil
}

// CheckAppropriateLockOnTable enforces row-level locking prerequisites:
// no intention locks on rows, and row-X requires a qualifying table lock.
func (lm *LockManager) CheckAppropriateLockOnTable(t *Transaction, table TableOID, rowMode LockMode) error {
	if rowMode == IntentionExclusive || rowMode == IntentionShared || rowMode == SharedIntentionExclusive {
		t.setState(Aborted)
		return &AbortError{TxnID: t.id, Reason: AttemptedIntentionLockOnRow}
	}
	if rowMode == Exclusive {
		held, ok := t.TableLockMode(table)
		if !ok || (held != Exclusive && held != IntentionExclusive && held != SharedIntentionExclusive) {
			t.setState(Aborted)
			return &AbortError{TxnID: t.id, Reason: TableLockNotPresent}
		}
	}
	return nil
}

// LockTable acquires mode on table for t, blocking until granted or the
// txn is aborted/committed out from under it. Returns false, nil if t
// already holds exactly mode.
func (lm *LockManager) LockTable(t *Transaction, mode LockMode, table TableOID) (bool, error) {
	if err := lm.CanTxnTakeLock(t, mode); err != nil {
		return false, err
	}

	q := lm.tableQueueFor(table)

	held, hasLock := t.TableLockMode(table)
	if hasLock && held == mode {
		return false, nil
	}

	q.mu.Lock()
	if hasLock {
		if !CanLockUpgrade(held, mode) {
			q.mu.Unlock()
			t.setState(Aborted)
			return false, &AbortError{TxnID: t.id, Reason: IncompatibleUpgrade}
		}
		if q.upgrading != InvalidTxnID {
			q.mu.Unlock()
			t.setState(Aborted)
			return false, &AbortError{TxnID: t.id, Reason: UpgradeConflict}
		}
	}

	req := &lockRequest{txnID: t.id, mode: mode}
	lm.enqueue(q, t.id, req, hasLock)

	for {
		if t.State() == Aborted || t.State() == Committed {
			lm.removeRequest(q, req)
			q.mu.Unlock()
			return false, nil
		}
		grantIfPossible(q)
		if req.granted {
			break
		}
		if lm.metrics != nil {
			lm.metrics.LockWaits.Add(context.Background(), 1)
		}
		q.cond.Wait()
	}
	q.mu.Unlock()

	t.setTableLock(table, mode)
	return true, nil
}

// enqueue places req in q: if this is an upgrade (hasLock true), it
// removes the old request first and reinserts immediately after the
// last granted request, outranking any non-upgrade waiter already
// enqueued behind that point. Caller holds q.mu.
func (lm *LockManager) enqueue(q *lockRequestQueue, txnID TxnID, req *lockRequest, isUpgrade bool) {
	if isUpgrade {
		for i, r := range q.requests {
			if r.txnID == txnID {
				q.requests = append(q.requests[:i], q.requests[i+1:]...)
				break
			}
		}
		q.upgrading = txnID
		insertAt := len(q.requests)
		for i, r := range q.requests {
			if !r.granted {
				insertAt = i
				break
			}
		}
		q.requests = append(q.requests, nil)
		copy(q.requests[insertAt+1:], q.requests[insertAt:])
		q.requests[insertAt] = req
		return
	}
	q.requests = append(q.requests, req)
}

func (lm *LockManager) removeRequest(q *lockRequestQueue, target *lockRequest) {
	for i, r := range q.requests {
		if r == target {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			break
		}
	}
	if target.txnID == q.upgrading {
		q.upgrading = InvalidTxnID
	}
	q.cond.Broadcast()
}

// UnlockTable releases t's lock on table, updating t's state per its
// isolation level's shrinking-phase rule.
func (lm *LockManager) UnlockTable(t *Transaction, table TableOID) error {
	if t.rowLockCount(table) > 0 {
		t.setState(Aborted)
		return &AbortError{TxnID: t.id, Reason: TableUnlockedBeforeUnlockingRows}
	}
	mode, ok := t.TableLockMode(table)
	if !ok {
		t.setState(Aborted)
		return &AbortError{TxnID: t.id, Reason: AttemptedUnlockButNoLockHeld}
	}

	lm.applyUnlockStateTransition(t, mode, false)

	q := lm.tableQueueFor(table)
	q.mu.Lock()
	for i, r := range q.requests {
		if r.txnID == t.id {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			break
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	t.clearTableLock(table)
	return nil
}

// LockRow acquires mode on (table, rid) for t.
func (lm *LockManager) LockRow(t *Transaction, mode LockMode, table TableOID, rid RID) (bool, error) {
	if held, ok := t.RowLockMode(table, rid); ok && (held == Exclusive || (held == Shared && mode == Shared)) {
		return false, nil
	}
	if err := lm.CheckAppropriateLockOnTable(t, table, mode); err != nil {
		return false, err
	}
	if err := lm.CanTxnTakeLock(t, mode); err != nil {
		return false, err
	}

	q := lm.rowQueueFor(rid)
	_, hasLock := t.RowLockMode(table, rid)

	q.mu.Lock()
	if hasLock {
		if q.upgrading != InvalidTxnID {
			q.mu.Unlock()
			t.setState(Aborted)
			return false, &AbortError{TxnID: t.id, Reason: UpgradeConflict}
		}
	}
	req := &lockRequest{txnID: t.id, mode: mode}
	lm.enqueue(q, t.id, req, hasLock)

	for {
		if t.State() == Aborted || t.State() == Committed {
			lm.removeRequest(q, req)
			q.mu.Unlock()
			return false, nil
		}
		grantIfPossible(q)
		if req.granted {
			break
		}
		if lm.metrics != nil {
			lm.metrics.LockWaits.Add(context.Background(), 1)
		}
		q.cond.Wait()
	}
	q.mu.Unlock()

	t.setRowLock(table, rid, mode)
	return true, nil
}

// UnlockRow releases t's lock on (table, rid). force skips the
// shrinking-phase state transition; releaseAll uses it on commit and
// abort, where the phase transition is moot.
func (lm *LockManager) UnlockRow(t *Transaction, table TableOID, rid RID, force bool) error {
	mode, ok := t.RowLockMode(table, rid)
	if !ok {
		t.setState(Aborted)
		return &AbortError{TxnID: t.id, Reason: AttemptedUnlockButNoLockHeld}
	}

	if !force {
		lm.applyUnlockStateTransition(t, mode, true)
	}

	q := lm.rowQueueFor(rid)
	q.mu.Lock()
	for i, r := range q.requests {
		if r.txnID == t.id {
			q.requests = append(q.requests[:i], q.requests[i+1:]...)
			break
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	t.clearRowLock(table, rid)
	return nil
}

// applyUnlockStateTransition advances t into SHRINKING when its
// isolation level says this particular unlock ends the growing phase.
func (lm *LockManager) applyUnlockStateTransition(t *Transaction, mode LockMode, isRow bool) {
	switch t.IsolationLevel() {
	case ReadUncommitted:
		if mode == Exclusive {
			t.setState(Shrinking)
		}
	case ReadCommitted:
		if mode == Exclusive {
			t.setState(Shrinking)
		}
	case RepeatableRead:
		if mode == Exclusive || mode == Shared {
			t.setState(Shrinking)
		}
	}
}

// releaseAll drops every lock t holds, in any order, used by commit and
// abort. Failures are logged, not propagated: releasing a lock the
// manager's own bookkeeping no longer recognizes is not fatal to the
// caller that is already unwinding.
func (lm *LockManager) releaseAll(t *Transaction) {
	t.mu.Lock()
	tables := make([]TableOID, 0, len(t.tableLocks))
	for table := range t.tableLocks {
		tables = append(tables, table)
	}
	rows := make(map[TableOID][]RID, len(t.rowLocks))
	for table, rids := range t.rowLocks {
		for rid := range rids {
			rows[table] = append(rows[table], rid)
		}
	}
	t.mu.Unlock()

	for table, rids := range rows {
		for _, rid := range rids {
			if err := lm.UnlockRow(t, table, rid, true); err != nil {
				lm.log.Warn("unlock row during release-all failed", zap.Error(err))
			}
		}
	}
	for _, table := range tables {
		q := lm.tableQueueFor(table)
		q.mu.Lock()
		for i, r := range q.requests {
			if r.txnID == t.id {
				q.requests = append(q.requests[:i], q.requests[i+1:]...)
				break
			}
		}
		q.cond.Broadcast()
		q.mu.Unlock()
		t.clearTableLock(table)
	}
}
