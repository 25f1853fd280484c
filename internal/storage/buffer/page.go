// Package buffer implements the fixed-size buffer pool manager and the
// scoped page guards built on top of it.
package buffer

import (
	"sync"

	"github.com/emberdb/ember/internal/storage/disk"
)

// PageSize is the fixed size, in bytes, of every page and frame.
const PageSize = disk.DefaultPageSize

// Page is the in-memory copy of a disk page resident in one frame. Its
// bytes are guarded by the frame's latch; its pin count and dirty flag are
// guarded by the owning pool's mutex.
type Page struct {
	id       disk.PageID
	data     [PageSize]byte
	pinCount int
	isDirty  bool
	latch    sync.RWMutex
}

// ID returns the page's id.
func (p *Page) ID() disk.PageID { return p.id }

// Data returns the page's backing byte slice.
func (p *Page) Data() []byte { return p.data[:] }

// IsDirty reports whether the page has unflushed modifications.
func (p *Page) IsDirty() bool { return p.isDirty }

// PinCount returns the page's current pin count.
func (p *Page) PinCount() int { return p.pinCount }

func (p *Page) reset(id disk.PageID) {
	p.id = id
	p.pinCount = 0
	p.isDirty = false
	clear(p.data[:])
}

// RLock acquires the frame's shared latch.
func (p *Page) RLock() { p.latch.RLock() }

// RUnlock releases the frame's shared latch.
func (p *Page) RUnlock() { p.latch.RUnlock() }

// Lock acquires the frame's exclusive latch.
func (p *Page) Lock() { p.latch.Lock() }

// Unlock releases the frame's exclusive latch.
func (p *Page) Unlock() { p.latch.Unlock() }
