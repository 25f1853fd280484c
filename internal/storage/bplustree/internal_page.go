package bplustree

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"sort"

	"github.com/emberdb/ember/internal/storage/disk"
)

// internalNode is a B+tree internal page: an array [(_, P0), (k1, P1), ...,
// (kn, Pn)] where key[i] is the smallest key reachable through child[i] for
// i > 0; key[0] is unused.
type internalNode[K cmp.Ordered] struct {
	pageID   disk.PageID
	maxSize  int
	keys     []K             // keys[0] is a placeholder, never read
	children []disk.PageID
}

func newInternalNode[K cmp.Ordered](id disk.PageID, maxSize int) *internalNode[K] {
	return &internalNode[K]{pageID: id, maxSize: maxSize}
}

func (n *internalNode[K]) size() int    { return len(n.children) }
func (n *internalNode[K]) isFull() bool { return n.size() >= n.maxSize }

// find returns Pi such that keys[i] <= key < keys[i+1] (upper_bound - 1).
func (n *internalNode[K]) find(key K) disk.PageID {
	i := sort.Search(len(n.keys), func(i int) bool { return i > 0 && n.keys[i] > key })
	return n.children[i-1]
}

func (n *internalNode[K]) keyAt(i int) K            { return n.keys[i] }
func (n *internalNode[K]) childAt(i int) disk.PageID { return n.children[i] }

// valueIndex returns the slot index of child, or -1 if absent.
func (n *internalNode[K]) valueIndex(child disk.PageID) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// init sets up a fresh root with two children and a separator key.
func (n *internalNode[K]) init(left, right disk.PageID, separator K) {
	var zero K
	n.keys = []K{zero, separator}
	n.children = []disk.PageID{left, right}
}

// insert places (key, child) in sorted order without touching slot 0.
func (n *internalNode[K]) insert(key K, child disk.PageID) {
	i := sort.Search(len(n.keys)-1, func(i int) bool { return n.keys[i+1] > key }) + 1
	n.keys = append(n.keys, key)
	n.children = append(n.children, child)
	copy(n.keys[i+1:], n.keys[i:len(n.keys)-1])
	copy(n.children[i+1:], n.children[i:len(n.children)-1])
	n.keys[i] = key
	n.children[i] = child
}

// deleteEntry removes the child at valueIndex(child) and its preceding key.
func (n *internalNode[K]) deleteEntry(child disk.PageID) {
	i := n.valueIndex(child)
	if i < 0 {
		return
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.children = append(n.children[:i], n.children[i+1:]...)
}

func (n *internalNode[K]) getArray() ([]K, []disk.PageID) { return n.keys, n.children }

func (n *internalNode[K]) setArray(keys []K, children []disk.PageID, begin, end int) {
	n.keys = append([]K(nil), keys[begin:end]...)
	n.children = append([]disk.PageID(nil), children[begin:end]...)
}

func (n *internalNode[K]) serialize(codec *KeyCodec[K], pageSize int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kindInternal))
	if err := binary.Write(&buf, binary.LittleEndian, int32(n.maxSize)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(n.children))); err != nil {
		return nil, err
	}
	for i := range n.children {
		if i == 0 {
			if err := writeLenPrefixed(&buf, nil); err != nil {
				return nil, err
			}
		} else {
			kb, err := codec.EncodeKey(n.keys[i])
			if err != nil {
				return nil, err
			}
			if err := writeLenPrefixed(&buf, kb); err != nil {
				return nil, err
			}
		}
		if err := writePageID(&buf, n.children[i]); err != nil {
			return nil, err
		}
	}
	return writeChecked(&buf, pageSize)
}

func deserializeInternal[K cmp.Ordered](id disk.PageID, data []byte, codec *KeyCodec[K]) (*internalNode[K], error) {
	payload, err := verifyChecksum(data)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	n := &internalNode[K]{pageID: id}
	var maxSize int32
	if err := binary.Read(r, binary.LittleEndian, &maxSize); err != nil {
		return nil, err
	}
	n.maxSize = int(maxSize)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	n.keys = make([]K, count)
	n.children = make([]disk.PageID, count)
	for i := uint32(0); i < count; i++ {
		kb, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if n.keys[i], err = codec.DecodeKey(kb); err != nil {
				return nil, err
			}
		}
		if n.children[i], err = readPageID(r); err != nil {
			return nil, err
		}
	}
	return n, nil
}
