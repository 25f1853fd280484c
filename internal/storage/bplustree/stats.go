package bplustree

import "github.com/emberdb/ember/internal/storage/disk"

// Stats summarizes the tree's on-disk shape. It replaces a graphical
// debug dump with numbers a caller can log or export as metrics.
type Stats struct {
	Depth     int
	PageCount int
	KeyCount  int
}

// Stats walks the tree under read latches and reports its current shape.
// It takes no locks beyond each node's own shared latch in turn, so it
// can observe a tree being concurrently mutated; the numbers it returns
// are a best-effort snapshot, not a transactionally consistent one.
func (t *BPlusTree[K, V]) Stats() (Stats, error) {
	root, err := t.RootPageID()
	if err != nil {
		return Stats{}, err
	}
	if root == disk.InvalidPageID {
		return Stats{}, nil
	}
	var s Stats
	if err := t.walkStats(root, 1, &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (t *BPlusTree[K, V]) walkStats(id disk.PageID, depth int, s *Stats) error {
	guard, kind, err := t.fetchAnyRead(id)
	if err != nil {
		return err
	}
	s.PageCount++
	if depth > s.Depth {
		s.Depth = depth
	}

	switch n := kind.(type) {
	case *leafNode[K, V]:
		s.KeyCount += n.size()
		guard.Drop()
		return nil
	case *internalNode[K]:
		children := append([]disk.PageID(nil), n.children...)
		guard.Drop()
		for _, child := range children {
			if err := t.walkStats(child, depth+1, s); err != nil {
				return err
			}
		}
		return nil
	}
	guard.Drop()
	return nil
}
