// Package bplustree implements a latch-crabbed, disk-resident B+tree index
// over a buffer pool: concurrent point lookup, range iteration, insertion
// with node splits, and deletion with borrow/merge.
package bplustree

import (
	"cmp"
	"fmt"

	"go.uber.org/zap"

	"github.com/emberdb/ember/internal/storage/buffer"
	"github.com/emberdb/ember/internal/storage/disk"
)

// Config bounds node fan-out. Both must be at least 3 for splits/merges to
// behave sensibly (with a max size of 2, min_size is 1 and a split can
// leave a node holding a single entry).
type Config struct {
	LeafMaxSize     int
	InternalMaxSize int
}

func (c Config) leafMinSize() int     { return (c.LeafMaxSize + 1) / 2 }
func (c Config) internalMinSize() int { return (c.InternalMaxSize + 1) / 2 }

// BPlusTree is a concurrent, latch-crabbed B+tree index keyed by K with
// values V, backed by a buffer.Pool.
type BPlusTree[K cmp.Ordered, V any] struct {
	pool         *buffer.Pool
	headerPageID disk.PageID
	codec        Codec[K, V]
	cfg          Config
	log          *zap.Logger
}

// New creates an empty index: allocates its header page and records its id.
func New[K cmp.Ordered, V any](pool *buffer.Pool, codec Codec[K, V], cfg Config, log *zap.Logger) (*BPlusTree[K, V], error) {
	if log == nil {
		log = zap.NewNop()
	}
	guard, err := pool.NewPageGuarded()
	if err != nil {
		return nil, fmt.Errorf("bplustree: allocating header page: %w", err)
	}
	h := &headerPage{rootPageID: disk.InvalidPageID}
	copy(guard.Page().Data(), h.serialize(buffer.PageSize))
	guard.MarkDirty()
	headerID := guard.Page().ID()
	guard.Drop()

	return &BPlusTree[K, V]{
		pool:         pool,
		headerPageID: headerID,
		codec:        codec,
		cfg:          cfg,
		log:          log.Named("bplustree"),
	}, nil
}

func (t *BPlusTree[K, V]) keyCodec() *KeyCodec[K] { return &t.codec.KeyCodec }

func (t *BPlusTree[K, V]) readHeader() (*headerPage, error) {
	guard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	defer guard.Drop()
	return deserializeHeader(guard.Page().Data()), nil
}

// RootPageID returns the current root, or disk.InvalidPageID for an empty
// tree. It is a lock-free read in the sense that it only takes the
// header's own shared latch, never a descent latch.
func (t *BPlusTree[K, V]) RootPageID() (disk.PageID, error) {
	h, err := t.readHeader()
	if err != nil {
		return disk.InvalidPageID, err
	}
	return h.rootPageID, nil
}

func (t *BPlusTree[K, V]) fetchLeafRead(id disk.PageID) (buffer.ReadPageGuard, *leafNode[K, V], error) {
	guard, err := t.pool.FetchPageRead(id)
	if err != nil {
		return buffer.ReadPageGuard{}, nil, err
	}
	leaf, err := deserializeLeaf(id, guard.Page().Data(), &t.codec)
	if err != nil {
		guard.Drop()
		return buffer.ReadPageGuard{}, nil, err
	}
	return guard, leaf, nil
}

func (t *BPlusTree[K, V]) fetchInternalRead(id disk.PageID) (buffer.ReadPageGuard, *internalNode[K], error) {
	guard, err := t.pool.FetchPageRead(id)
	if err != nil {
		return buffer.ReadPageGuard{}, nil, err
	}
	node, err := deserializeInternal(id, guard.Page().Data(), t.keyCodec())
	if err != nil {
		guard.Drop()
		return buffer.ReadPageGuard{}, nil, err
	}
	return guard, node, nil
}

// GetValue returns every value stored under key (the tree forbids
// duplicate keys, so the slice has at most one element), and whether key
// was present.
func (t *BPlusTree[K, V]) GetValue(key K) ([]V, bool, error) {
	headerGuard, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, false, err
	}
	header := deserializeHeader(headerGuard.Page().Data())
	if header.rootPageID == disk.InvalidPageID {
		headerGuard.Drop()
		return nil, false, nil
	}

	currentID := header.rootPageID
	guard, kind, err := t.fetchAnyRead(currentID)
	headerGuard.Drop()
	if err != nil {
		return nil, false, err
	}

	for {
		switch n := kind.(type) {
		case *internalNode[K]:
			childID := n.find(key)
			next, nextKind, err := t.fetchAnyRead(childID)
			guard.Drop()
			if err != nil {
				return nil, false, err
			}
			guard, kind = next, nextKind
		case *leafNode[K, V]:
			i, found := n.find(key)
			guard.Drop()
			if !found {
				return nil, false, nil
			}
			return []V{n.valueAt(i)}, true, nil
		}
	}
}

// fetchAnyRead fetches id under a shared latch and decodes it as whichever
// kind its header tag says it is.
func (t *BPlusTree[K, V]) fetchAnyRead(id disk.PageID) (buffer.ReadPageGuard, any, error) {
	guard, err := t.pool.FetchPageRead(id)
	if err != nil {
		return buffer.ReadPageGuard{}, nil, err
	}
	kind, err := peekKind(guard.Page().Data())
	if err != nil {
		guard.Drop()
		return buffer.ReadPageGuard{}, nil, err
	}
	switch kind {
	case kindLeaf:
		leaf, err := deserializeLeaf(id, guard.Page().Data(), &t.codec)
		if err != nil {
			guard.Drop()
			return buffer.ReadPageGuard{}, nil, err
		}
		return guard, leaf, nil
	default:
		node, err := deserializeInternal(id, guard.Page().Data(), t.keyCodec())
		if err != nil {
			guard.Drop()
			return buffer.ReadPageGuard{}, nil, err
		}
		return guard, node, nil
	}
}

func (t *BPlusTree[K, V]) writeLeaf(page *buffer.Page, leaf *leafNode[K, V]) error {
	data, err := leaf.serialize(&t.codec, buffer.PageSize)
	if err != nil {
		return err
	}
	copy(page.Data(), data)
	return nil
}

func (t *BPlusTree[K, V]) writeInternal(page *buffer.Page, node *internalNode[K]) error {
	data, err := node.serialize(t.keyCodec(), buffer.PageSize)
	if err != nil {
		return err
	}
	copy(page.Data(), data)
	return nil
}

func (t *BPlusTree[K, V]) writeHeader(page *buffer.Page, h *headerPage) {
	copy(page.Data(), h.serialize(buffer.PageSize))
}
