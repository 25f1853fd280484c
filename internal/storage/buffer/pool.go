package buffer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/emberdb/ember/internal/storage/disk"
	"github.com/emberdb/ember/internal/storage/replacer"
	internaltelemetry "github.com/emberdb/ember/internal/telemetry"
)

// Config configures a Pool at construction time.
type Config struct {
	PoolSize    int // number of frames
	ReplacerK   int // LRU-K's k, must be > 1
}

// Pool owns a fixed set of frames, the page table mapping resident page ids
// to frame indices, and the shared page-id allocator. A single mutex guards
// pin counts, dirty bits, and the page table; page bytes are guarded
// separately by each frame's own latch (see Page).
type Pool struct {
	mu sync.Mutex

	pages     []Page
	freeList  []replacer.FrameID
	pageTable map[disk.PageID]replacer.FrameID
	replacer  *replacer.LRUK
	disk      *disk.Manager
	fetchOnce singleflight.Group

	log     *zap.Logger
	metrics *internaltelemetry.StorageMetrics
}

// SetMetrics attaches storage metrics instruments; nil disables recording.
func (p *Pool) SetMetrics(m *internaltelemetry.StorageMetrics) {
	p.metrics = m
}

// NewPool builds a buffer pool of cfg.PoolSize frames backed by d.
func NewPool(cfg Config, d *disk.Manager, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		pages:     make([]Page, cfg.PoolSize),
		freeList:  make([]replacer.FrameID, cfg.PoolSize),
		pageTable: make(map[disk.PageID]replacer.FrameID, cfg.PoolSize),
		replacer:  replacer.New(cfg.PoolSize, cfg.ReplacerK),
		disk:      d,
		log:       log.Named("buffer"),
	}
	for i := range p.freeList {
		p.freeList[i] = replacer.FrameID(i)
	}
	return p
}

// acquireFrame obtains a frame to host a page, preferring the free list,
// then asking the replacer to evict. The prior resident (if dirty) is
// flushed before its mapping is dropped. Caller must hold mu.
func (p *Pool) acquireFrame() (replacer.FrameID, error) {
	if n := len(p.freeList); n > 0 {
		frame := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return frame, nil
	}

	frame, ok := p.replacer.Evict()
	if !ok {
		return 0, ErrBufferPoolExhausted
	}
	if p.metrics != nil {
		p.metrics.BufferPoolEvictions.Add(context.Background(), 1)
	}

	victim := &p.pages[frame]
	evictedID := victim.id
	if victim.isDirty {
		if err := p.disk.WritePage(evictedID, victim.Data()); err != nil {
			return 0, fmt.Errorf("buffer: flushing evicted page %d: %w", evictedID, err)
		}
	}
	delete(p.pageTable, evictedID)
	return frame, nil
}

// NewPage allocates a fresh page, installs it pinned into the pool, and
// returns it. Returns ErrBufferPoolExhausted if no frame is available.
func (p *Pool) NewPage() (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, err := p.acquireFrame()
	if err != nil {
		return nil, err
	}

	id := p.disk.AllocatePageID()
	page := &p.pages[frame]
	page.reset(id)
	p.pageTable[id] = frame
	page.pinCount = 1
	p.replacer.RecordAccess(frame)
	p.replacer.SetEvictable(frame, false)
	p.log.Debug("new page", zap.Int32("page_id", int32(id)))
	return page, nil
}

// NewPageGuarded allocates a page and wraps it in a BasicPageGuard,
// bundling allocation with guard construction so callers can never forget
// to unpin a freshly allocated frame (the failure mode the buffer pool's
// free-standing NewPage leaves open).
func (p *Pool) NewPageGuarded() (BasicPageGuard, error) {
	page, err := p.NewPage()
	if err != nil {
		return BasicPageGuard{}, err
	}
	return newBasicGuard(p, page), nil
}

// FetchPage pins and returns the page identified by id, reading it from
// disk on a miss. Concurrent misses on the same id are coalesced into a
// single disk read via singleflight.
func (p *Pool) FetchPage(id disk.PageID) (*Page, error) {
	p.mu.Lock()
	if frame, ok := p.pageTable[id]; ok {
		page := &p.pages[frame]
		p.replacer.RecordAccess(frame)
		p.replacer.SetEvictable(frame, false)
		page.pinCount++
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.BufferPoolHits.Add(context.Background(), 1)
		}
		return page, nil
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.BufferPoolMisses.Add(context.Background(), 1)
	}
	_, err, _ := p.fetchOnce.Do(fmt.Sprintf("%d", id), func() (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if _, ok := p.pageTable[id]; ok {
			return nil, nil
		}

		frame, err := p.acquireFrame()
		if err != nil {
			return nil, err
		}
		page := &p.pages[frame]
		page.reset(id)
		if err := p.disk.ReadPage(id, page.Data()); err != nil {
			return nil, fmt.Errorf("buffer: fetching page %d: %w", id, err)
		}
		p.pageTable[id] = frame
		p.replacer.RecordAccess(frame)
		p.replacer.SetEvictable(frame, false)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	frame, ok := p.pageTable[id]
	if !ok {
		return nil, ErrBufferPoolExhausted
	}
	page := &p.pages[frame]
	page.pinCount++
	return page, nil
}

// FetchPageBasic fetches id and wraps it in an unlatched BasicPageGuard.
func (p *Pool) FetchPageBasic(id disk.PageID) (BasicPageGuard, error) {
	page, err := p.FetchPage(id)
	if err != nil {
		return BasicPageGuard{}, err
	}
	return newBasicGuard(p, page), nil
}

// FetchPageRead fetches id, acquires its shared latch, and wraps it in a
// ReadPageGuard.
func (p *Pool) FetchPageRead(id disk.PageID) (ReadPageGuard, error) {
	page, err := p.FetchPage(id)
	if err != nil {
		return ReadPageGuard{}, err
	}
	page.RLock()
	return newReadGuard(p, page), nil
}

// FetchPageWrite fetches id, acquires its exclusive latch, and wraps it in
// a WritePageGuard.
func (p *Pool) FetchPageWrite(id disk.PageID) (WritePageGuard, error) {
	page, err := p.FetchPage(id)
	if err != nil {
		return WritePageGuard{}, err
	}
	page.Lock()
	return newWriteGuard(p, page), nil
}

// UnpinPage decrements id's pin count, ORing isDirty into its dirty flag.
// Reports false if id is not resident or is already unpinned.
func (p *Pool) UnpinPage(id disk.PageID, isDirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, ok := p.pageTable[id]
	if !ok {
		return false
	}
	page := &p.pages[frame]
	if page.pinCount == 0 {
		return false
	}
	page.pinCount--
	page.isDirty = page.isDirty || isDirty
	if page.pinCount == 0 {
		p.replacer.SetEvictable(frame, true)
	}
	return true
}

// FlushPage writes id to disk if resident, clearing its dirty flag.
func (p *Pool) FlushPage(id disk.PageID) error {
	p.mu.Lock()
	frame, ok := p.pageTable[id]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	page := &p.pages[frame]
	data := append([]byte(nil), page.Data()...)
	p.mu.Unlock()

	if err := p.disk.WritePage(id, data); err != nil {
		return fmt.Errorf("buffer: flushing page %d: %w", id, err)
	}

	p.mu.Lock()
	page.isDirty = false
	p.mu.Unlock()
	return nil
}

// FlushAllPages flushes every resident page concurrently, bounded by pool
// size, aggregating any per-page failures instead of stopping at the
// first one.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	ids := make([]disk.PageID, 0, len(p.pageTable))
	for id := range p.pageTable {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var g errgroup.Group
	var mu sync.Mutex
	var combined error
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := p.FlushPage(id); err != nil {
				mu.Lock()
				combined = multierr.Append(combined, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return combined
}

// DeletePage drops id from the pool, returning its frame to the free list.
// Reports true if id was not resident; false if it is still pinned.
func (p *Pool) DeletePage(id disk.PageID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, ok := p.pageTable[id]
	if !ok {
		return true, nil
	}
	page := &p.pages[frame]
	if page.pinCount > 0 {
		return false, nil
	}
	if page.isDirty {
		if err := p.disk.WritePage(id, page.Data()); err != nil {
			return false, fmt.Errorf("buffer: flushing deleted page %d: %w", id, err)
		}
	}
	delete(p.pageTable, id)
	p.replacer.Remove(frame)
	page.reset(disk.InvalidPageID)
	p.freeList = append(p.freeList, frame)
	return true, nil
}
