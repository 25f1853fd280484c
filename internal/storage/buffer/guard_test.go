package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteGuardDropUnpinsAndMarksDirty(t *testing.T) {
	p := newTestPool(t, 2)
	basic, err := p.NewPageGuarded()
	require.NoError(t, err)
	id := basic.Page().ID()
	basic.Drop()

	guard, err := p.FetchPageWrite(id)
	require.NoError(t, err)
	page := guard.Page()
	guard.Drop()
	require.True(t, page.IsDirty())

	ok, err := p.DeletePage(id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReadGuardHoldsSharedLatch(t *testing.T) {
	p := newTestPool(t, 2)
	basic, err := p.NewPageGuarded()
	require.NoError(t, err)
	id := basic.Page().ID()
	basic.Drop()

	guard, err := p.FetchPageRead(id)
	require.NoError(t, err)
	require.NotNil(t, guard.Page())

	// A second reader gets in while the first still holds its latch.
	second, err := p.FetchPageRead(id)
	require.NoError(t, err)
	require.NotNil(t, second.Page())
	second.Drop()
	guard.Drop()
}

func TestGuardDropIsIdempotent(t *testing.T) {
	p := newTestPool(t, 2)
	guard, err := p.NewPageGuarded()
	require.NoError(t, err)
	guard.Drop()
	require.NotPanics(t, func() { guard.Drop() })
}

func TestGuardMoveLeavesSourceEmpty(t *testing.T) {
	p := newTestPool(t, 2)
	guard, err := p.NewPageGuarded()
	require.NoError(t, err)

	moved := guard.Move()
	require.Nil(t, guard.Page())
	require.NotNil(t, moved.Page())
	moved.Drop()
}
