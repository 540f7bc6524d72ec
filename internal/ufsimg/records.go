package ufsimg

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

// arenaSlice returns the byte region backing arena kind k.
func (img *Image) arenaSlice(kind int) []byte {
	h := img.header
	start := h.Offsets[kind]
	var end uint64
	switch kind {
	case ArenaFile:
		end = start + recordSize[ArenaFile]*h.Sizes[ArenaFile]
	case ArenaArea:
		end = start + recordSize[ArenaArea]*h.Sizes[ArenaArea]
	case ArenaNode:
		end = start + recordSize[ArenaNode]*h.Sizes[ArenaNode]
	case ArenaString:
		end = start + h.Sizes[ArenaString]
	}
	return img.data[start:end]
}

// FileCapacity, AreaCapacity, NodeCapacity, StringCapacity expose the
// arena sizes recorded in the header (spec.md §4.2 sizes[4]).
func (img *Image) FileCapacity() uint64   { return img.header.Sizes[ArenaFile] }
func (img *Image) AreaCapacity() uint64   { return img.header.Sizes[ArenaArea] }
func (img *Image) NodeCapacity() uint64   { return img.header.Sizes[ArenaNode] }
func (img *Image) StringCapacity() uint64 { return img.header.Sizes[ArenaString] }

func (img *Image) fileRecordBytes(i uint64) []byte {
	sz := recordSize[ArenaFile]
	return img.arenaSlice(ArenaFile)[i*sz : i*sz+sz]
}

func (img *Image) areaRecordBytes(i uint64) []byte {
	sz := recordSize[ArenaArea]
	return img.arenaSlice(ArenaArea)[i*sz : i*sz+sz]
}

func (img *Image) nodeRecordBytes(i uint64) []byte {
	sz := recordSize[ArenaNode]
	return img.arenaSlice(ArenaNode)[i*sz : i*sz+sz]
}

// ReadFile/WriteFile access slot i (0-based) of the file arena.
func (img *Image) ReadFile(i uint64) FileRecord {
	b := img.fileRecordBytes(i)
	return FileRecord{
		InUse:     b[0],
		StrOffset: binary.LittleEndian.Uint64(b[8:16]),
		ParentDir: int64(binary.LittleEndian.Uint64(b[16:24])),
	}
}

func (img *Image) WriteFile(i uint64, r FileRecord) {
	b := img.fileRecordBytes(i)
	b[0] = r.InUse
	binary.LittleEndian.PutUint64(b[8:16], r.StrOffset)
	binary.LittleEndian.PutUint64(b[16:24], uint64(r.ParentDir))
}

// ReadArea/WriteArea access slot i (0-based) of the area arena.
func (img *Image) ReadArea(i uint64) AreaRecord {
	b := img.areaRecordBytes(i)
	return AreaRecord{
		InUse:     b[0],
		StrOffset: binary.LittleEndian.Uint64(b[8:16]),
	}
}

func (img *Image) WriteArea(i uint64, r AreaRecord) {
	b := img.areaRecordBytes(i)
	b[0] = r.InUse
	binary.LittleEndian.PutUint64(b[8:16], r.StrOffset)
}

// ReadNode/WriteNode access slot i (0-based) of the node arena.
func (img *Image) ReadNode(i uint64) NodeRecord {
	b := img.nodeRecordBytes(i)
	return NodeRecord{
		InUse:   b[0],
		NumKeys: b[1],
		Left:    int64(binary.LittleEndian.Uint64(b[8:16])),
		Right:   int64(binary.LittleEndian.Uint64(b[16:24])),
		Key0:    int64(binary.LittleEndian.Uint64(b[24:32])),
		Key1:    int64(binary.LittleEndian.Uint64(b[32:40])),
	}
}

func (img *Image) WriteNode(i uint64, r NodeRecord) {
	b := img.nodeRecordBytes(i)
	b[0] = r.InUse
	b[1] = r.NumKeys
	binary.LittleEndian.PutUint64(b[8:16], uint64(r.Left))
	binary.LittleEndian.PutUint64(b[16:24], uint64(r.Right))
	binary.LittleEndian.PutUint64(b[24:32], uint64(r.Key0))
	binary.LittleEndian.PutUint64(b[32:40], uint64(r.Key1))
}

// ReadCString reads a NUL-terminated name starting at byte offset off
// within the string pool.
func (img *Image) ReadCString(off uint64) (string, error) {
	pool := img.arenaSlice(ArenaString)
	if off >= uint64(len(pool)) {
		return "", xerrors.New("ufsimg: string offset out of range")
	}
	end := bytes.IndexByte(pool[off:], 0)
	if end < 0 {
		return "", xerrors.New("ufsimg: unterminated string in pool")
	}
	return string(pool[off : off+uint64(end)]), nil
}

// WriteCString writes name plus its NUL terminator at byte offset off.
// The caller (the string pool, internal/ufscore/stringpool.go) is
// responsible for ensuring off+len(name)+1 fits within the pool.
func (img *Image) WriteCString(off uint64, name string) {
	pool := img.arenaSlice(ArenaString)
	copy(pool[off:], name)
	pool[off+uint64(len(name))] = 0
}
