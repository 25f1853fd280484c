package bplustree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/emberdb/ember/internal/storage/disk"
)

const checksumSize = 8 // trailing xxhash64 sum

var (
	// ErrChecksumMismatch is returned when a page's stored checksum does not
	// match its content, indicating corruption.
	ErrChecksumMismatch = errors.New("bplustree: page checksum mismatch")
	// ErrKeyTooLarge is returned when a node's serialized form would not fit
	// in one page.
	ErrKeyTooLarge = errors.New("bplustree: serialized node exceeds page size")
)

type pageKind uint8

const (
	kindLeaf pageKind = iota + 1
	kindInternal
)

// KeyCodec supplies the byte encoding for a key type; internal pages only
// ever need to encode/decode keys, never values.
type KeyCodec[K any] struct {
	EncodeKey func(K) ([]byte, error)
	DecodeKey func([]byte) (K, error)
}

// Codec supplies the byte encoding for a key/value pair type. Every
// BPlusTree instance is parameterized by exactly one Codec.
type Codec[K any, V any] struct {
	KeyCodec[K]
	EncodeValue func(V) ([]byte, error)
	DecodeValue func([]byte) (V, error)
}

func writeChecked(buf *bytes.Buffer, pageSize int) ([]byte, error) {
	if buf.Len()+checksumSize > pageSize {
		return nil, fmt.Errorf("%w: %d bytes + %d checksum > %d page size", ErrKeyTooLarge, buf.Len(), checksumSize, pageSize)
	}
	out := make([]byte, pageSize)
	copy(out, buf.Bytes())
	sum := xxhash.Sum64(out[:pageSize-checksumSize])
	binary.LittleEndian.PutUint64(out[pageSize-checksumSize:], sum)
	return out, nil
}

func verifyChecksum(data []byte) ([]byte, error) {
	pageSize := len(data)
	stored := binary.LittleEndian.Uint64(data[pageSize-checksumSize:])
	got := xxhash.Sum64(data[:pageSize-checksumSize])
	if stored != got {
		return nil, fmt.Errorf("%w: stored=%x got=%x", ErrChecksumMismatch, stored, got)
	}
	return data[:pageSize-checksumSize], nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := buf.Write(data)
	return err
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func peekKind(data []byte) (pageKind, error) {
	payload, err := verifyChecksum(data)
	if err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return 0, errors.New("bplustree: empty page payload")
	}
	return pageKind(payload[0]), nil
}

func writePageID(buf *bytes.Buffer, id disk.PageID) error {
	return binary.Write(buf, binary.LittleEndian, int32(id))
}

func readPageID(r *bytes.Reader) (disk.PageID, error) {
	var v int32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return disk.PageID(v), nil
}
