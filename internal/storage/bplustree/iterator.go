package bplustree

import (
	"cmp"

	"github.com/emberdb/ember/internal/storage/disk"
)

// Iterator is a finite, single-pass, key-ordered walk over the tree's
// leaves. It is not safe for concurrent use. It copies each leaf under
// that leaf's shared latch and releases the latch at once, fetching the
// next leaf only when it steps past the current one: changes to the leaf
// it is on are not seen, changes to leaves it has not reached yet are.
// It offers no isolation guarantee stronger than read-committed.
type Iterator[K cmp.Ordered, V any] struct {
	tree  *BPlusTree[K, V]
	leaf  *leafNode[K, V]
	index int
	done  bool
}

// Begin returns an iterator positioned at the first key in the tree.
func (t *BPlusTree[K, V]) Begin() (*Iterator[K, V], error) {
	root, err := t.RootPageID()
	if err != nil {
		return nil, err
	}
	if root == disk.InvalidPageID {
		return &Iterator[K, V]{tree: t, done: true}, nil
	}
	return t.seek(root, nil, false)
}

// BeginAt returns an iterator positioned at the first key >= key.
func (t *BPlusTree[K, V]) BeginAt(key K) (*Iterator[K, V], error) {
	root, err := t.RootPageID()
	if err != nil {
		return nil, err
	}
	if root == disk.InvalidPageID {
		return &Iterator[K, V]{tree: t, done: true}, nil
	}
	return t.seek(root, &key, true)
}

// seek crabs read latches down to the leaf that contains (or would
// contain) key, releasing each ancestor's latch as soon as the next
// level is fetched. With key == nil it always descends via child 0,
// landing on the leftmost leaf.
func (t *BPlusTree[K, V]) seek(id disk.PageID, key *K, useKey bool) (*Iterator[K, V], error) {
	guard, kind, err := t.fetchAnyRead(id)
	if err != nil {
		return nil, err
	}
	for {
		switch n := kind.(type) {
		case *internalNode[K]:
			var childID disk.PageID
			if useKey {
				childID = n.find(*key)
			} else {
				childID = n.childAt(0)
			}
			next, nextKind, err := t.fetchAnyRead(childID)
			guard.Drop()
			if err != nil {
				return nil, err
			}
			guard, kind = next, nextKind
		case *leafNode[K, V]:
			guard.Drop()
			index := 0
			if useKey {
				index, _ = n.find(*key)
			}
			it := &Iterator[K, V]{tree: t, leaf: n, index: index}
			it.skipToValid()
			return it, nil
		}
	}
}

// skipToValid advances to the next leaf while the current position has
// run past the end of its leaf's array.
func (it *Iterator[K, V]) skipToValid() {
	for !it.done && it.leaf != nil && it.index >= it.leaf.size() {
		if it.leaf.nextPageID == disk.InvalidPageID {
			it.done = true
			it.leaf = nil
			return
		}
		guard, err := it.tree.pool.FetchPageRead(it.leaf.nextPageID)
		if err != nil {
			it.done = true
			it.leaf = nil
			return
		}
		next, err := deserializeLeaf(it.leaf.nextPageID, guard.Page().Data(), &it.tree.codec)
		guard.Drop()
		if err != nil {
			it.done = true
			it.leaf = nil
			return
		}
		it.leaf = next
		it.index = 0
	}
}

// IsEnd reports whether the iterator has exhausted every key.
func (it *Iterator[K, V]) IsEnd() bool { return it.done || it.leaf == nil }

// Current returns the key/value pair at the iterator's position. Calling
// it after IsEnd is a programming error.
func (it *Iterator[K, V]) Current() (K, V) {
	return it.leaf.keyAt(it.index), it.leaf.valueAt(it.index)
}

// Advance moves to the next key in order.
func (it *Iterator[K, V]) Advance() {
	if it.IsEnd() {
		return
	}
	it.index++
	it.skipToValid()
}
