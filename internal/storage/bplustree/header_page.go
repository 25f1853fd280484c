package bplustree

import (
	"encoding/binary"

	"github.com/emberdb/ember/internal/storage/disk"
)

// headerPage is the single page per index that stores the current root.
// Its on-disk payload starts with a 32-bit root_page_id, per the on-disk
// layout contract; the rest of the page is unused.
type headerPage struct {
	rootPageID disk.PageID
}

func (h *headerPage) serialize(pageSize int) []byte {
	out := make([]byte, pageSize)
	binary.LittleEndian.PutUint32(out[:4], uint32(int32(h.rootPageID)))
	return out
}

func deserializeHeader(data []byte) *headerPage {
	return &headerPage{rootPageID: disk.PageID(int32(binary.LittleEndian.Uint32(data[:4])))}
}
