package txn

import "testing"

func TestCompatibilityMatrix(t *testing.T) {
	cases := []struct {
		held, requested LockMode
		want            bool
	}{
		{IntentionShared, IntentionShared, true},
		{IntentionShared, IntentionExclusive, true},
		{IntentionShared, Shared, true},
		{IntentionShared, SharedIntentionExclusive, true},
		{IntentionShared, Exclusive, false},
		{IntentionExclusive, IntentionShared, true},
		{IntentionExclusive, IntentionExclusive, true},
		{IntentionExclusive, Shared, false},
		{IntentionExclusive, SharedIntentionExclusive, false},
		{IntentionExclusive, Exclusive, false},
		{Shared, IntentionShared, true},
		{Shared, Shared, true},
		{Shared, IntentionExclusive, false},
		{SharedIntentionExclusive, IntentionShared, true},
		{SharedIntentionExclusive, Shared, false},
		{Exclusive, IntentionShared, false},
		{Exclusive, Exclusive, false},
	}
	for _, c := range cases {
		got := AreLocksCompatible(c.held, c.requested)
		if got != c.want {
			t.Errorf("AreLocksCompatible(%s, %s) = %v, want %v", c.held, c.requested, got, c.want)
		}
	}
}

func TestUpgradeMatrix(t *testing.T) {
	cases := []struct {
		current, requested LockMode
		want               bool
	}{
		{IntentionShared, Shared, true},
		{IntentionShared, Exclusive, true},
		{IntentionShared, IntentionExclusive, true},
		{IntentionShared, SharedIntentionExclusive, true},
		{IntentionShared, IntentionShared, false},
		{Shared, Exclusive, true},
		{Shared, SharedIntentionExclusive, true},
		{Shared, IntentionExclusive, false},
		{IntentionExclusive, Exclusive, true},
		{IntentionExclusive, SharedIntentionExclusive, true},
		{SharedIntentionExclusive, Exclusive, true},
		{SharedIntentionExclusive, Shared, false},
		{Exclusive, Shared, false},
	}
	for _, c := range cases {
		got := CanLockUpgrade(c.current, c.requested)
		if got != c.want {
			t.Errorf("CanLockUpgrade(%s, %s) = %v, want %v", c.current, c.requested, got, c.want)
		}
	}
}
