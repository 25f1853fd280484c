package bplustree

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"sort"

	"github.com/emberdb/ember/internal/storage/disk"
)

// leafNode is a B+tree leaf: an ordered array of unique (key, value) pairs
// plus a right-link to the next leaf in key order.
type leafNode[K cmp.Ordered, V any] struct {
	pageID     disk.PageID
	nextPageID disk.PageID
	maxSize    int
	keys       []K
	values     []V
}

func newLeafNode[K cmp.Ordered, V any](id disk.PageID, maxSize int) *leafNode[K, V] {
	return &leafNode[K, V]{pageID: id, nextPageID: disk.InvalidPageID, maxSize: maxSize}
}

func (n *leafNode[K, V]) size() int    { return len(n.keys) }
func (n *leafNode[K, V]) isFull() bool { return n.size() >= n.maxSize }

// find returns the slot holding key and whether it was present.
func (n *leafNode[K, V]) find(key K) (index int, found bool) {
	i := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= key })
	if i < len(n.keys) && n.keys[i] == key {
		return i, true
	}
	return i, false
}

func (n *leafNode[K, V]) keyAt(i int) K   { return n.keys[i] }
func (n *leafNode[K, V]) valueAt(i int) V { return n.values[i] }

// insert places (key, value) in sorted position, rejecting duplicates.
func (n *leafNode[K, V]) insert(key K, value V) bool {
	i, found := n.find(key)
	if found {
		return false
	}
	n.keys = append(n.keys, key)
	n.values = append(n.values, value)
	copy(n.keys[i+1:], n.keys[i:])
	copy(n.values[i+1:], n.values[i:])
	n.keys[i] = key
	n.values[i] = value
	return true
}

// deleteEntry removes key if present; a no-op otherwise.
func (n *leafNode[K, V]) deleteEntry(key K) {
	i, found := n.find(key)
	if !found {
		return
	}
	n.keys = append(n.keys[:i], n.keys[i+1:]...)
	n.values = append(n.values[:i], n.values[i+1:]...)
}

// getArray returns the full ordered key/value arrays, for splits and merges.
func (n *leafNode[K, V]) getArray() ([]K, []V) { return n.keys, n.values }

// setArray replaces the node's contents with src[begin:end].
func (n *leafNode[K, V]) setArray(keys []K, values []V, begin, end int) {
	n.keys = append([]K(nil), keys[begin:end]...)
	n.values = append([]V(nil), values[begin:end]...)
}

func (n *leafNode[K, V]) serialize(codec *Codec[K, V], pageSize int) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kindLeaf))
	if err := writePageID(&buf, n.nextPageID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(n.maxSize)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(n.keys))); err != nil {
		return nil, err
	}
	for i := range n.keys {
		kb, err := codec.EncodeKey(n.keys[i])
		if err != nil {
			return nil, err
		}
		if err := writeLenPrefixed(&buf, kb); err != nil {
			return nil, err
		}
		vb, err := codec.EncodeValue(n.values[i])
		if err != nil {
			return nil, err
		}
		if err := writeLenPrefixed(&buf, vb); err != nil {
			return nil, err
		}
	}
	return writeChecked(&buf, pageSize)
}

func deserializeLeaf[K cmp.Ordered, V any](id disk.PageID, data []byte, codec *Codec[K, V]) (*leafNode[K, V], error) {
	payload, err := verifyChecksum(data)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(payload)
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	n := &leafNode[K, V]{pageID: id}
	if n.nextPageID, err = readPageID(r); err != nil {
		return nil, err
	}
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
	n.values = make([]V, count)
	for i := uint32(0); i < count; i++ {
		kb, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		if n.keys[i], err = codec.DecodeKey(kb); err != nil {
			return nil, err
		}
		vb, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		if n.values[i], err = codec.DecodeValue(vb); err != nil {
			return nil, err
		}
	}
	return n, nil
}
