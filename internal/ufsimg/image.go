package ufsimg

import (
	"encoding/binary"
	"os"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Image is a file-backed (or, for Anonymous, purely in-process) memory
// region holding a ufs header and its four arenas (spec.md §4.1). Every
// higher layer addresses the image directly through the mapping rather
// than through a serialization step.
type Image struct {
	f      *os.File // nil for an anonymous image
	data   []byte
	header Header
}

// Create makes a new, zero-initialized, page-aligned image file at path
// sized to fit sizes, maps it read-write, and stamps the header (spec.md
// §4.1 "create", §4.2 layout algorithm). The zero-filled file is sized and
// committed via renameio, so a partially sized file never appears at path
// (the same atomic-replace pattern distri's internal/install package uses
// when laying down package files); the header is stamped through the
// mapping after that commit.
func Create(path string, sizes SizeRequest) (*Image, error) {
	if path == "" {
		return nil, xerrors.New("ufsimg: empty path")
	}
	l, err := computeLayout(sizes)
	if err != nil {
		return nil, xerrors.Errorf("ufsimg: %w", err)
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return nil, xerrors.Errorf("ufsimg: creating %s: %w", path, err)
	}
	defer t.Cleanup()

	if err := t.Truncate(int64(l.total)); err != nil {
		return nil, xerrors.Errorf("ufsimg: truncating %s to %d bytes: %w", path, l.total, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return nil, xerrors.Errorf("ufsimg: committing %s: %w", path, err)
	}

	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	writeHeader(img.data, sizes, l)
	img.header = getHeader(img.data[headerOffsetFor():])
	return img, nil
}

// Open maps an existing image file read-write (spec.md §4.1 "open"). The
// mapped length equals the on-disk length; validate (spec.md §4.2) is left
// to callers that need header semantics (internal/ufscore.Open calls it
// immediately after).
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("ufsimg: opening %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("ufsimg: stat %s: %w", path, err)
	}
	if fi.Size() < 8 {
		f.Close()
		return nil, xerrors.New("ufsimg: image too small to contain even the length word")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Errorf("ufsimg: mmap %s: %w", path, err)
	}

	img := &Image{f: f, data: data}
	if uint64(len(data)) >= headerOffsetFor()+headerSize {
		img.header = getHeader(data[headerOffsetFor():])
	}
	return img, nil
}

// Anonymous creates a purely in-memory image (no backing file, no path),
// matching the original ufsInit's note that init "does not mount" and
// returns a working instance with no persistence obligation. It is backed
// by an anonymous mmap so the rest of the core can treat it identically to
// a file-backed image.
func Anonymous(sizes SizeRequest) (*Image, error) {
	l, err := computeLayout(sizes)
	if err != nil {
		return nil, xerrors.Errorf("ufsimg: %w", err)
	}
	data, err := unix.Mmap(-1, 0, int(l.total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, xerrors.Errorf("ufsimg: anonymous mmap: %w", err)
	}
	img := &Image{data: data}
	writeHeader(img.data, sizes, l)
	img.header = getHeader(img.data[headerOffsetFor():])
	return img, nil
}

// Validate checks the invariants of spec.md §4.2: word length, magic,
// version, and that the image's size conforms to the arena layout implied
// by its own recorded sizes.
func (img *Image) Validate() error {
	if uint64(len(img.data)) < headerOffsetFor()+headerSize {
		return xerrors.New("ufsimg: image too small to contain a header")
	}
	storedLen := img.StoredLength()
	if storedLen != uint64(len(img.data)) {
		return xerrors.New("ufsimg: image too small (length word does not match mapped size)")
	}
	h := img.header
	if h.Magic != MagicNumber {
		return xerrors.New("ufsimg: bad magic number, image is corrupted")
	}
	if h.Version != Version {
		return xerrors.New("ufsimg: version mismatch")
	}
	l, err := computeLayout(SizeRequest{
		NumFiles:    h.Sizes[ArenaFile],
		NumAreas:    h.Sizes[ArenaArea],
		NumNodes:    h.Sizes[ArenaNode],
		NumStrBytes: h.Sizes[ArenaString],
	})
	if err != nil {
		return xerrors.Errorf("ufsimg: header sizes do not describe a valid layout: %w", err)
	}
	if l.total != uint64(len(img.data)) || l.offsets != h.Offsets {
		return xerrors.New("ufsimg: image does not conform to the arena layout computed from its sizes")
	}
	return nil
}

// StoredLength returns the value the image's first machine word holds
// (spec.md I8: it must equal the image's byte length).
func (img *Image) StoredLength() uint64 {
	if len(img.data) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(img.data[:8])
}

// Header returns the parsed header (valid only after a successful Open or
// Create; callers should call Validate first when opening untrusted data).
func (img *Image) Header() Header { return img.header }

// Len returns the mapped byte length of the image.
func (img *Image) Len() int { return len(img.data) }

// Sync flushes the mapping to disk (spec.md §4.1 "sync"). A no-op success
// for anonymous images, which have no backing file to flush to.
func (img *Image) Sync() error {
	if err := unix.Msync(img.data, unix.MS_SYNC); err != nil {
		return xerrors.Errorf("ufsimg: msync: %w", err)
	}
	if img.f != nil {
		if err := img.f.Sync(); err != nil {
			return xerrors.Errorf("ufsimg: fsync: %w", err)
		}
	}
	return nil
}

// Release unmaps the image; no flush obligation (spec.md §4.1 "release").
func (img *Image) Release() error {
	if img.data == nil {
		return nil
	}
	err := unix.Munmap(img.data)
	img.data = nil
	if img.f != nil {
		if cerr := img.f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return xerrors.Errorf("ufsimg: release: %w", err)
	}
	return nil
}
