package buffer

// BasicPageGuard pins a page for its scope without taking any latch. It is
// movable but not copyable: copying it by value and dropping both copies
// would unpin twice. Callers pass guards by pointer or transfer ownership
// with Move.
type BasicPageGuard struct {
	pool     *Pool
	page     *Page
	isDirty  bool
	released bool
}

func newBasicGuard(pool *Pool, page *Page) BasicPageGuard {
	return BasicPageGuard{pool: pool, page: page}
}

// Page returns the guarded page, or nil if the guard has been dropped or
// moved from.
func (g *BasicPageGuard) Page() *Page { return g.page }

// MarkDirty records that the guard's holder modified the page; the dirty
// bit is applied to the frame when the guard unpins on Drop.
func (g *BasicPageGuard) MarkDirty() { g.isDirty = true }

// Move transfers ownership of the guarded page to the returned guard,
// leaving the receiver empty (releases nothing on its own Drop).
func (g *BasicPageGuard) Move() BasicPageGuard {
	moved := *g
	g.page = nil
	g.pool = nil
	g.released = true
	return moved
}

// Drop releases the guard's pin, if any. Idempotent.
func (g *BasicPageGuard) Drop() {
	if g.released || g.page == nil {
		g.released = true
		return
	}
	g.pool.UnpinPage(g.page.ID(), g.isDirty)
	g.released = true
	g.page = nil
	g.pool = nil
}

// UpgradeRead drops the basic guard and re-fetches the page under a shared
// latch, returning a ReadPageGuard.
func (g *BasicPageGuard) UpgradeRead() (ReadPageGuard, error) {
	pool := g.poolOrPanic()
	id := g.page.ID()
	g.Drop()
	return pool.FetchPageRead(id)
}

func (g *BasicPageGuard) poolOrPanic() *Pool {
	if g.pool == nil {
		panic("buffer: use of dropped or moved-from guard")
	}
	return g.pool
}

// ReadPageGuard pins a page and holds its shared latch for the guard's
// scope. Movable, not copyable; see BasicPageGuard.
type ReadPageGuard struct {
	pool     *Pool
	page     *Page
	released bool
}

func newReadGuard(pool *Pool, page *Page) ReadPageGuard {
	return ReadPageGuard{pool: pool, page: page}
}

// Page returns the guarded page, or nil once dropped/moved.
func (g *ReadPageGuard) Page() *Page { return g.page }

// Move transfers ownership, leaving the receiver empty.
func (g *ReadPageGuard) Move() ReadPageGuard {
	moved := *g
	g.page = nil
	g.pool = nil
	g.released = true
	return moved
}

// Drop releases the shared latch then unpins. Idempotent.
func (g *ReadPageGuard) Drop() {
	if g.released || g.page == nil {
		g.released = true
		return
	}
	g.page.RUnlock()
	g.pool.UnpinPage(g.page.ID(), false)
	g.released = true
	g.page = nil
	g.pool = nil
}

// WritePageGuard pins a page and holds its exclusive latch for the guard's
// scope. Movable, not copyable; see BasicPageGuard.
type WritePageGuard struct {
	pool     *Pool
	page     *Page
	released bool
}

func newWriteGuard(pool *Pool, page *Page) WritePageGuard {
	return WritePageGuard{pool: pool, page: page}
}

// Page returns the guarded page, or nil once dropped/moved.
func (g *WritePageGuard) Page() *Page { return g.page }

// Move transfers ownership, leaving the receiver empty.
func (g *WritePageGuard) Move() WritePageGuard {
	moved := *g
	g.page = nil
	g.pool = nil
	g.released = true
	return moved
}

// Drop releases the exclusive latch then unpins, marking the page dirty
// (a write guard's whole purpose is to mutate the page). Idempotent.
func (g *WritePageGuard) Drop() {
	if g.released || g.page == nil {
		g.released = true
		return
	}
	id := g.page.ID()
	g.page.Unlock()
	g.pool.UnpinPage(id, true)
	g.released = true
	g.page = nil
	g.pool = nil
}
