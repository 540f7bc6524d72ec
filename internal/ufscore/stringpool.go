package ufscore

import (
	"github.com/unionfs/ufs/internal/ufsimg"
	"golang.org/x/xerrors"
)

// stringPool is the append-only interner over the image's string arena
// (spec.md §4.3). The arena's header only records a capacity, not a
// high-water mark, so the pool's free-space cursor is reconstructed by
// scanning in-use File and Area records at Open time — the same technique
// spec.md §4.4 prescribes for rebuilding name→id lookup tables.
type stringPool struct {
	img  *ufsimg.Image
	next uint64 // first unused byte offset
}

func newStringPool(img *ufsimg.Image) *stringPool {
	return &stringPool{img: img}
}

// Append writes name plus its NUL terminator and returns its offset.
// Interning is optional per spec.md §4.3: identical names may appear
// twice, so no dedup lookup happens here.
func (p *stringPool) Append(name string) (uint64, error) {
	need := uint64(len(name)) + 1
	if p.next+need > p.img.StringCapacity() {
		return 0, newErr(OutOfMemory, xerrors.New("string pool exhausted"))
	}
	off := p.next
	p.img.WriteCString(off, name)
	p.next += need
	return off, nil
}

// Get reads back a previously written name.
func (p *stringPool) Get(off uint64) (string, error) {
	return p.img.ReadCString(off)
}

// observe advances the cursor to account for a name already written at
// off (used while reconstructing pool state from an opened image).
func (p *stringPool) observe(off uint64, nameLen int) {
	end := off + uint64(nameLen) + 1
	if end > p.next {
		p.next = end
	}
}
