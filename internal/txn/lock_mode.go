package txn

// LockMode is one of the five hierarchical lock modes: two intention
// modes, shared, exclusive, and the shared+intention-exclusive hybrid
// used when a txn both scans and updates the same table.
type LockMode int

const (
	IntentionShared LockMode = iota
	IntentionExclusive
	Shared
	SharedIntentionExclusive
	Exclusive
)

func (m LockMode) String() string {
	switch m {
	case IntentionShared:
		return "IS"
	case IntentionExclusive:
		return "IX"
	case Shared:
		return "S"
	case SharedIntentionExclusive:
		return "SIX"
	case Exclusive:
		return "X"
	default:
		return "UNKNOWN"
	}
}

// compatible[held][requested] mirrors spec.md's compatibility matrix.
var compatible = [5][5]bool{
	IntentionShared:          {true, true, true, true, false},
	IntentionExclusive:       {true, true, false, false, false},
	Shared:                   {true, false, true, false, false},
	SharedIntentionExclusive: {true, false, false, false, false},
	Exclusive:                {false, false, false, false, false},
}

// AreLocksCompatible reports whether a lock already held in mode held
// permits a concurrent grant of mode requested. Kept as a pure function,
// independent of any queue state, so the matrix is unit-testable on its
// own.
func AreLocksCompatible(held, requested LockMode) bool {
	return compatible[held][requested]
}

// upgradesTo[current] is the set of modes current may upgrade to.
var upgradesTo = map[LockMode]map[LockMode]bool{
	IntentionShared:          {Shared: true, Exclusive: true, IntentionExclusive: true, SharedIntentionExclusive: true},
	Shared:                   {Exclusive: true, SharedIntentionExclusive: true},
	IntentionExclusive:       {Exclusive: true, SharedIntentionExclusive: true},
	SharedIntentionExclusive: {Exclusive: true},
}

// CanLockUpgrade reports whether current may upgrade to requested per
// spec.md's upgrade matrix. Any pair not named there is illegal.
func CanLockUpgrade(current, requested LockMode) bool {
	return upgradesTo[current][requested]
}
