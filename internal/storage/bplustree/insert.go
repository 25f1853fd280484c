package bplustree

import (
	"fmt"

	"github.com/emberdb/ember/internal/storage/disk"
)

// Insert places (key, value) into the tree, rejecting duplicate keys. It
// reports false without mutating the tree if key is already present.
func (t *BPlusTree[K, V]) Insert(key K, value V) (bool, error) {
	headerGuard, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return false, err
	}
	header := deserializeHeader(headerGuard.Page().Data())

	if header.rootPageID == disk.InvalidPageID {
		leafGuard, err := t.pool.NewPageGuarded()
		if err != nil {
			headerGuard.Drop()
			return false, err
		}
		leaf := newLeafNode[K, V](leafGuard.Page().ID(), t.cfg.LeafMaxSize)
		leaf.insert(key, value)
		if err := t.writeLeaf(leafGuard.Page(), leaf); err != nil {
			leafGuard.Drop()
			headerGuard.Drop()
			return false, err
		}
		leafGuard.MarkDirty()
		header.rootPageID = leaf.pageID
		t.writeHeader(headerGuard.Page(), header)
		leafGuard.Drop()
		headerGuard.Drop()
		return true, nil
	}

	ctx := &crabContext{header: &headerGuard}
	currentID := header.rootPageID
	for {
		guard, err := t.pool.FetchPageWrite(currentID)
		if err != nil {
			ctx.releaseAll()
			return false, err
		}
		ctx.push(guard)
		cur := ctx.current()

		kind, err := peekKind(cur.Page().Data())
		if err != nil {
			ctx.releaseAll()
			return false, err
		}

		switch kind {
		case kindLeaf:
			leaf, err := deserializeLeaf(currentID, cur.Page().Data(), &t.codec)
			if err != nil {
				ctx.releaseAll()
				return false, err
			}
			if !leaf.insert(key, value) {
				ctx.releaseAll()
				return false, nil
			}
			if leaf.size() <= leaf.maxSize {
				if err := t.writeLeaf(cur.Page(), leaf); err != nil {
					ctx.releaseAll()
					return false, err
				}
				ctx.releaseAll()
				return true, nil
			}
			return t.splitLeafAndInsertParent(ctx, leaf)

		default:
			node, err := deserializeInternal(currentID, cur.Page().Data(), t.keyCodec())
			if err != nil {
				ctx.releaseAll()
				return false, err
			}
			if node.size() < node.maxSize {
				ctx.releaseAncestors()
			}
			currentID = node.find(key)
		}
	}
}

// splitLeafAndInsertParent splits an overflowing leaf (already holding
// maxSize+1 entries after the triggering insert) and propagates the new
// separator into the parent, recursively splitting ancestors as needed.
func (t *BPlusTree[K, V]) splitLeafAndInsertParent(ctx *crabContext, leaf *leafNode[K, V]) (bool, error) {
	total := leaf.size()
	leftCount := (total + 1) / 2

	rightGuard, err := t.pool.NewPageGuarded()
	if err != nil {
		ctx.releaseAll()
		return false, fmt.Errorf("bplustree: allocating split sibling: %w", err)
	}
	right := newLeafNode[K, V](rightGuard.Page().ID(), leaf.maxSize)

	keys, values := leaf.getArray()
	right.setArray(keys, values, leftCount, total)
	right.nextPageID = leaf.nextPageID
	leaf.setArray(keys, values, 0, leftCount)
	leaf.nextPageID = right.pageID

	leafGuard := ctx.path[len(ctx.path)-1]
	if err := t.writeLeaf(leafGuard.Page(), leaf); err != nil {
		rightGuard.Drop()
		ctx.releaseAll()
		return false, err
	}
	if err := t.writeLeaf(rightGuard.Page(), right); err != nil {
		rightGuard.Drop()
		ctx.releaseAll()
		return false, err
	}
	rightGuard.MarkDirty()
	rightGuard.Drop()

	separator := right.keys[0]
	leftID := leaf.pageID
	rightID := right.pageID
	ctx.path = ctx.path[:len(ctx.path)-1]
	leafGuard.Drop()

	return t.insertInParent(ctx, leftID, separator, rightID)
}

// insertInParent installs (separator, right) as a new sibling of left in
// left's parent. If left was the root, a new internal root is created.
func (t *BPlusTree[K, V]) insertInParent(ctx *crabContext, left disk.PageID, separator K, right disk.PageID) (bool, error) {
	if len(ctx.path) == 0 {
		rootGuard, err := t.pool.NewPageGuarded()
		if err != nil {
			ctx.releaseAll()
			return false, fmt.Errorf("bplustree: allocating new root: %w", err)
		}
		root := newInternalNode[K](rootGuard.Page().ID(), t.cfg.InternalMaxSize)
		root.init(left, right, separator)
		if err := t.writeInternal(rootGuard.Page(), root); err != nil {
			rootGuard.Drop()
			ctx.releaseAll()
			return false, err
		}
		rootGuard.MarkDirty()
		rootGuard.Drop()

		header := &headerPage{rootPageID: root.pageID}
		t.writeHeader(ctx.header.Page(), header)
		ctx.releaseAll()
		return true, nil
	}

	parentGuard := ctx.path[len(ctx.path)-1]
	parent, err := deserializeInternal(parentGuard.Page().ID(), parentGuard.Page().Data(), t.keyCodec())
	if err != nil {
		ctx.releaseAll()
		return false, err
	}
	parent.insert(separator, right)

	if parent.size() <= parent.maxSize {
		if err := t.writeInternal(parentGuard.Page(), parent); err != nil {
			ctx.releaseAll()
			return false, err
		}
		ctx.releaseAll()
		return true, nil
	}

	return t.splitInternalAndInsertParent(ctx, parent)
}

func (t *BPlusTree[K, V]) splitInternalAndInsertParent(ctx *crabContext, node *internalNode[K]) (bool, error) {
	total := node.size()
	leftCount := (total + 1) / 2
	keys, children := node.getArray()
	separator := keys[leftCount]

	rightGuard, err := t.pool.NewPageGuarded()
	if err != nil {
		ctx.releaseAll()
		return false, fmt.Errorf("bplustree: allocating internal split sibling: %w", err)
	}
	right := newInternalNode[K](rightGuard.Page().ID(), node.maxSize)
	right.setArray(keys, children, leftCount, total)

	node.setArray(keys, children, 0, leftCount)

	nodeGuard := ctx.path[len(ctx.path)-1]
	if err := t.writeInternal(nodeGuard.Page(), node); err != nil {
		rightGuard.Drop()
		ctx.releaseAll()
		return false, err
	}
	if err := t.writeInternal(rightGuard.Page(), right); err != nil {
		rightGuard.Drop()
		ctx.releaseAll()
		return false, err
	}
	rightGuard.MarkDirty()
	rightGuard.Drop()

	leftID := node.pageID
	rightID := right.pageID
	ctx.path = ctx.path[:len(ctx.path)-1]
	nodeGuard.Drop()

	return t.insertInParent(ctx, leftID, separator, rightID)
}
