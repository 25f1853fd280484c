package bplustree

import (
	"github.com/emberdb/ember/internal/storage/buffer"
	"github.com/emberdb/ember/internal/storage/disk"
)

// Remove deletes key from the tree. Missing keys are a no-op.
func (t *BPlusTree[K, V]) Remove(key K) error {
	headerGuard, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	header := deserializeHeader(headerGuard.Page().Data())
	if header.rootPageID == disk.InvalidPageID {
		headerGuard.Drop()
		return nil
	}

	ctx := &crabContext{header: &headerGuard}
	currentID := header.rootPageID
	for {
		guard, err := t.pool.FetchPageWrite(currentID)
		if err != nil {
			ctx.releaseAll()
			return err
		}
		ctx.push(guard)
		cur := ctx.current()

		kind, err := peekKind(cur.Page().Data())
		if err != nil {
			ctx.releaseAll()
			return err
		}

		isRoot := len(ctx.path) == 1

		if kind == kindLeaf {
			leaf, err := deserializeLeaf(currentID, cur.Page().Data(), &t.codec)
			if err != nil {
				ctx.releaseAll()
				return err
			}
			leaf.deleteEntry(key)

			if isRoot || leaf.size() >= t.cfg.leafMinSize() {
				if err := t.writeLeaf(cur.Page(), leaf); err != nil {
					ctx.releaseAll()
					return err
				}
				ctx.releaseAll()
				return nil
			}
			return t.resolveLeafUnderflow(ctx, leaf)
		}

		node, err := deserializeInternal(currentID, cur.Page().Data(), t.keyCodec())
		if err != nil {
			ctx.releaseAll()
			return err
		}
		if !isRoot && node.size() > t.cfg.internalMinSize() {
			ctx.releaseAncestors()
		}
		currentID = node.find(key)
	}
}

// resolveLeafUnderflow merges leaf with a sibling, or borrows one entry
// across the sibling boundary, per the delete protocol: prefer the right
// sibling, merge when the combined size fits in one node, else borrow and
// rewrite the parent's separator.
func (t *BPlusTree[K, V]) resolveLeafUnderflow(ctx *crabContext, leaf *leafNode[K, V]) error {
	parentGuard := ctx.parent()
	parent, err := deserializeInternal(parentGuard.Page().ID(), parentGuard.Page().Data(), t.keyCodec())
	if err != nil {
		ctx.releaseAll()
		return err
	}
	idx := parent.valueIndex(leaf.pageID)
	preferRight := idx < parent.size()-1
	var siblingID disk.PageID
	if preferRight {
		siblingID = parent.childAt(idx + 1)
	} else {
		siblingID = parent.childAt(idx - 1)
	}

	siblingGuard, err := t.pool.FetchPageWrite(siblingID)
	if err != nil {
		ctx.releaseAll()
		return err
	}
	sibling, err := deserializeLeaf(siblingID, siblingGuard.Page().Data(), &t.codec)
	if err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}

	var left, right *leafNode[K, V]
	var leftPage, rightPage *buffer.Page
	var separatorIdx int
	if preferRight {
		left, right = leaf, sibling
		leftPage, rightPage = ctx.current().Page(), siblingGuard.Page()
		separatorIdx = idx + 1
	} else {
		left, right = sibling, leaf
		leftPage, rightPage = siblingGuard.Page(), ctx.current().Page()
		separatorIdx = idx
	}

	if left.size()+right.size() <= left.maxSize {
		lk, lv := left.getArray()
		rk, rv := right.getArray()
		mergedKeys := append(append([]K(nil), lk...), rk...)
		mergedValues := append(append([]V(nil), lv...), rv...)
		left.setArray(mergedKeys, mergedValues, 0, len(mergedKeys))
		left.nextPageID = right.nextPageID
		if err := t.writeLeaf(leftPage, left); err != nil {
			siblingGuard.Drop()
			ctx.releaseAll()
			return err
		}

		rightID := right.pageID
		leafGuard := ctx.path[len(ctx.path)-1]
		ctx.path = ctx.path[:len(ctx.path)-1]
		if preferRight {
			siblingGuard.Drop()
			leafGuard.Drop()
		} else {
			leafGuard.Drop()
			siblingGuard.Drop()
		}
		if _, err := t.pool.DeletePage(rightID); err != nil {
			ctx.releaseAll()
			return err
		}
		return t.removeInternalEntry(ctx, rightID)
	}

	// Borrow one entry across the boundary instead.
	if preferRight {
		bk, bv := right.keys[0], right.values[0]
		left.keys = append(left.keys, bk)
		left.values = append(left.values, bv)
		right.keys = right.keys[1:]
		right.values = right.values[1:]
		parent.keys[separatorIdx] = right.keys[0]
	} else {
		last := len(left.keys) - 1
		bk, bv := left.keys[last], left.values[last]
		left.keys = left.keys[:last]
		left.values = left.values[:last]
		right.keys = append([]K{bk}, right.keys...)
		right.values = append([]V{bv}, right.values...)
		parent.keys[separatorIdx] = bk
	}
	if err := t.writeLeaf(leftPage, left); err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}
	if err := t.writeLeaf(rightPage, right); err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}
	if err := t.writeInternal(parentGuard.Page(), parent); err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}
	siblingGuard.Drop()
	ctx.releaseAll()
	return nil
}

// removeInternalEntry removes childID's entry from the current node in
// ctx, handling root promotion and cascading underflow.
func (t *BPlusTree[K, V]) removeInternalEntry(ctx *crabContext, childID disk.PageID) error {
	cur := ctx.current()
	node, err := deserializeInternal(cur.Page().ID(), cur.Page().Data(), t.keyCodec())
	if err != nil {
		ctx.releaseAll()
		return err
	}
	node.deleteEntry(childID)

	isRoot := len(ctx.path) == 1
	if isRoot {
		if node.size() == 1 {
			onlyChild := node.childAt(0)
			header := &headerPage{rootPageID: onlyChild}
			t.writeHeader(ctx.header.Page(), header)
			rootID := node.pageID
			ctx.releaseAll()
			_, err := t.pool.DeletePage(rootID)
			return err
		}
		if err := t.writeInternal(cur.Page(), node); err != nil {
			ctx.releaseAll()
			return err
		}
		ctx.releaseAll()
		return nil
	}

	if node.size() >= t.cfg.internalMinSize() {
		if err := t.writeInternal(cur.Page(), node); err != nil {
			ctx.releaseAll()
			return err
		}
		ctx.releaseAll()
		return nil
	}

	return t.resolveInternalUnderflow(ctx, node)
}

func (t *BPlusTree[K, V]) resolveInternalUnderflow(ctx *crabContext, node *internalNode[K]) error {
	parentGuard := ctx.parent()
	parent, err := deserializeInternal(parentGuard.Page().ID(), parentGuard.Page().Data(), t.keyCodec())
	if err != nil {
		ctx.releaseAll()
		return err
	}
	idx := parent.valueIndex(node.pageID)
	preferRight := idx < parent.size()-1
	var siblingID disk.PageID
	if preferRight {
		siblingID = parent.childAt(idx + 1)
	} else {
		siblingID = parent.childAt(idx - 1)
	}

	siblingGuard, err := t.pool.FetchPageWrite(siblingID)
	if err != nil {
		ctx.releaseAll()
		return err
	}
	sibling, err := deserializeInternal(siblingID, siblingGuard.Page().Data(), t.keyCodec())
	if err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}

	var left, right *internalNode[K]
	var leftPage, rightPage *buffer.Page
	var separatorIdx int
	if preferRight {
		left, right = node, sibling
		leftPage, rightPage = ctx.current().Page(), siblingGuard.Page()
		separatorIdx = idx + 1
	} else {
		left, right = sibling, node
		leftPage, rightPage = siblingGuard.Page(), ctx.current().Page()
		separatorIdx = idx
	}

	if left.size()+right.size() <= left.maxSize {
		separator := parent.keyAt(separatorIdx)
		rk, rc := right.getArray()
		rkCopy := append([]K(nil), rk...)
		rkCopy[0] = separator
		lk, lc := left.getArray()
		mergedKeys := append(append([]K(nil), lk...), rkCopy...)
		mergedChildren := append(append([]disk.PageID(nil), lc...), rc...)
		left.setArray(mergedKeys, mergedChildren, 0, len(mergedKeys))
		if err := t.writeInternal(leftPage, left); err != nil {
			siblingGuard.Drop()
			ctx.releaseAll()
			return err
		}

		rightID := right.pageID
		nodeGuard := ctx.path[len(ctx.path)-1]
		ctx.path = ctx.path[:len(ctx.path)-1]
		if preferRight {
			siblingGuard.Drop()
			nodeGuard.Drop()
		} else {
			nodeGuard.Drop()
			siblingGuard.Drop()
		}
		if _, err := t.pool.DeletePage(rightID); err != nil {
			ctx.releaseAll()
			return err
		}
		return t.removeInternalEntry(ctx, rightID)
	}

	// Borrow one (key, child) pair across the boundary.
	if preferRight {
		oldSeparator := parent.keys[separatorIdx]
		borrowedChild := right.children[0]
		left.keys = append(left.keys, oldSeparator)
		left.children = append(left.children, borrowedChild)
		newSeparator := right.keys[1]
		right.keys = right.keys[1:]
		right.children = right.children[1:]
		parent.keys[separatorIdx] = newSeparator
	} else {
		lastIdx := len(left.children) - 1
		borrowedChild := left.children[lastIdx]
		oldSeparator := parent.keys[separatorIdx]
		left.children = left.children[:lastIdx]
		newSeparator := left.keys[lastIdx]
		left.keys = left.keys[:lastIdx]
		right.keys[0] = oldSeparator
		right.children = append([]disk.PageID{borrowedChild}, right.children...)
		right.keys = append([]K{*new(K)}, right.keys...)
		parent.keys[separatorIdx] = newSeparator
	}
	if err := t.writeInternal(leftPage, left); err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}
	if err := t.writeInternal(rightPage, right); err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}
	if err := t.writeInternal(parentGuard.Page(), parent); err != nil {
		siblingGuard.Drop()
		ctx.releaseAll()
		return err
	}
	siblingGuard.Drop()
	ctx.releaseAll()
	return nil
}
