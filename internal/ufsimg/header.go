// Package ufsimg implements the persisted image format described in
// spec.md §4.1 and §4.2: a single page-aligned, memory-mapped file holding
// a typed header and four parallel arenas (file, area, node, string pool).
//
// Grounded on the original C reference (original_source/src/ufs_header.c,
// ufs_image.c) and on distr1-distri/internal/squashfs's habit of describing
// an on-disk layout as a fixed Go struct read with encoding/binary.
package ufsimg

import (
	"encoding/binary"
	"os"

	"golang.org/x/xerrors"
)

// MagicNumber is "ufs\0" read as a little-endian uint32, per spec.md §6.
const MagicNumber uint32 = 0x00736675

// Version is bumped on every incompatible index change (spec.md I8).
const Version uint32 = 1

// Arena kind indices, matching the fixed order file, area, node, string
// that spec.md §4.2's layout algorithm iterates in.
const (
	ArenaFile = iota
	ArenaArea
	ArenaNode
	ArenaString
	arenaCount
)

// recordSize is the packed (no host padding) on-disk size of one record of
// the given arena kind, as encoding/binary.Write would emit it. The string
// arena has no fixed record size — it is a flat byte pool.
var recordSize = [arenaCount]uint64{
	ArenaFile: uint64(binary.Size(FileRecord{})),
	ArenaArea: uint64(binary.Size(AreaRecord{})),
	ArenaNode: uint64(binary.Size(NodeRecord{})),
}

// wordAlign and stringAlign are the alignments spec.md §4.2 step 3 rounds each arena's
// start offset up to. All fixed-size records align to 8 (their widest
// field, a uint64/int64); the string pool is a byte stream and aligns to 1.
const (
	wordAlign   = 8
	stringAlign = 1
)

// FileRecord is the on-disk shape of a File entity (spec.md §6 bit-layout).
type FileRecord struct {
	InUse     uint8
	_         [7]byte // pad to keep StrOffset/ParentDir naturally aligned when memory-mapped
	StrOffset uint64
	ParentDir int64
}

// AreaRecord is the on-disk shape of an Area entity. Per DESIGN.md's
// directory-index design, a record in this arena additionally represents a
// Directory whenever its reserved node (see NodeRecord) is in use.
type AreaRecord struct {
	InUse     uint8
	_         [7]byte
	StrOffset uint64
}

// NodeRecord is one binary-search-tree node of a directory index (spec.md
// §4.5), drawn from the shared node arena. Node slots [0, numAreas) are
// reserved one-to-one with area ids as directory roots; slots beyond that
// are the free pool handed out for overflow (see DESIGN.md).
type NodeRecord struct {
	InUse        uint8
	NumKeys      uint8
	_            [6]byte
	Left, Right  int64
	Key0, Key1   int64
}

// SizeRequest mirrors ufsHeaderSizeRequestStruct from the original C
// reference: arena capacities requested at image-creation time.
type SizeRequest struct {
	NumFiles    uint64
	NumAreas    uint64
	NumNodes    uint64
	NumStrBytes uint64
}

// DefaultSizeRequest mirrors ufsDefaultSizeRequest from
// original_source/src/ufs_header.c.
var DefaultSizeRequest = SizeRequest{
	NumFiles:    256,
	NumAreas:    256,
	NumNodes:    512,
	NumStrBytes: 1024,
}

// Header is the fixed-size record placed right after the length word
// (spec.md §6 bit-layout).
type Header struct {
	Magic   uint32
	Version uint32
	Sizes   [arenaCount]uint64
	Offsets [arenaCount]uint64
}

const headerSize = 4 + 4 + 8*arenaCount + 8*arenaCount

func roundToBoundary(val, align uint64) uint64 {
	return (val + (align - 1)) &^ (align - 1)
}

// layout holds the outcome of the deterministic layout algorithm, identical
// between Create and Open (spec.md §4.2).
type layout struct {
	headerOffset uint64
	offsets      [arenaCount]uint64
	total        uint64
}

// computeLayout replays spec.md §4.2's algorithm: reserve the length word,
// place the header, then lay out file/area/node/string arenas in that
// fixed order, finally rounding the tail up to the page size.
func computeLayout(sizes SizeRequest) (layout, error) {
	if sizes.NumFiles == 0 || sizes.NumAreas == 0 || sizes.NumNodes == 0 || sizes.NumStrBytes == 0 {
		return layout{}, xerrors.New("ufsimg: all arena sizes must be non-zero")
	}
	if sizes.NumNodes < sizes.NumAreas {
		return layout{}, xerrors.New("ufsimg: numNodes must be >= numAreas (one node reserved per area as its directory root)")
	}

	var l layout
	offset := roundToBoundary(8, wordAlign)
	l.headerOffset = offset
	offset += headerSize

	offset = roundToBoundary(offset, wordAlign)
	l.offsets[ArenaFile] = offset
	offset += recordSize[ArenaFile] * sizes.NumFiles

	offset = roundToBoundary(offset, wordAlign)
	l.offsets[ArenaArea] = offset
	offset += recordSize[ArenaArea] * sizes.NumAreas

	offset = roundToBoundary(offset, wordAlign)
	l.offsets[ArenaNode] = offset
	offset += recordSize[ArenaNode] * sizes.NumNodes

	offset = roundToBoundary(offset, stringAlign)
	l.offsets[ArenaString] = offset
	offset += sizes.NumStrBytes

	l.total = roundToBoundary(offset, uint64(os.Getpagesize()))
	return l, nil
}

// writeHeader stamps a freshly created image's header and length word,
// mirroring mountHeader in original_source/src/ufs_header.c.
func writeHeader(data []byte, sizes SizeRequest, l layout) {
	binary.LittleEndian.PutUint64(data[0:8], uint64(len(data)))

	h := Header{
		Magic:   MagicNumber,
		Version: Version,
		Sizes: [arenaCount]uint64{
			ArenaFile:   sizes.NumFiles,
			ArenaArea:   sizes.NumAreas,
			ArenaNode:   sizes.NumNodes,
			ArenaString: sizes.NumStrBytes,
		},
		Offsets: l.offsets,
	}
	putHeader(data[l.headerOffset:], h)
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	off := 8
	for i := 0; i < arenaCount; i++ {
		binary.LittleEndian.PutUint64(b[off:off+8], h.Sizes[i])
		off += 8
	}
	for i := 0; i < arenaCount; i++ {
		binary.LittleEndian.PutUint64(b[off:off+8], h.Offsets[i])
		off += 8
	}
}

func getHeader(b []byte) Header {
	var h Header
	h.Magic = binary.LittleEndian.Uint32(b[0:4])
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	off := 8
	for i := 0; i < arenaCount; i++ {
		h.Sizes[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	for i := 0; i < arenaCount; i++ {
		h.Offsets[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	return h
}

// headerOffsetFor returns where the header sits in an image of any size
// (it is always right after the aligned length word).
func headerOffsetFor() uint64 {
	return roundToBoundary(8, wordAlign)
}
