package ufscore

import (
	"github.com/unionfs/ufs/internal/ufsimg"
	"golang.org/x/xerrors"
)

type fileKey struct {
	parent Id
	name   string
}

// registry is the entity registry of spec.md §4.4: it allocates and frees
// file, area and directory records within their arenas and maintains
// name→id lookups reconstructed at Open time by scanning in-use records.
type registry struct {
	img  *ufsimg.Image
	pool *stringPool

	fileByKey  map[fileKey]Id
	areaByName map[string]Id // shared namespace: areas AND directories (see DESIGN.md)
}

func newRegistry(img *ufsimg.Image, pool *stringPool) *registry {
	return &registry{
		img:        img,
		pool:       pool,
		fileByKey:  make(map[fileKey]Id),
		areaByName: make(map[string]Id),
	}
}

// rebuild reconstructs the in-memory lookup tables (and the string pool's
// cursor) by scanning every in-use record, as spec.md §4.4 allows ("may be
// reconstructed at open by scanning in-use records").
func (r *registry) rebuild() error {
	for i := uint64(0); i < r.img.AreaCapacity(); i++ {
		rec := r.img.ReadArea(i)
		if rec.InUse == 0 {
			continue
		}
		name, err := r.pool.Get(rec.StrOffset)
		if err != nil {
			return xerrors.Errorf("ufscore: rebuilding area registry: %w", err)
		}
		r.pool.observe(rec.StrOffset, len(name))
		r.areaByName[name] = Id(i + 1)
	}
	for i := uint64(0); i < r.img.FileCapacity(); i++ {
		rec := r.img.ReadFile(i)
		if rec.InUse == 0 {
			continue
		}
		name, err := r.pool.Get(rec.StrOffset)
		if err != nil {
			return xerrors.Errorf("ufscore: rebuilding file registry: %w", err)
		}
		r.pool.observe(rec.StrOffset, len(name))
		r.fileByKey[fileKey{parent: Id(rec.ParentDir), name: name}] = Id(i + 1)
	}
	return nil
}

func areaSlot(id Id) uint64 { return uint64(id - 1) }
func fileSlot(id Id) uint64 { return uint64(id - 1) }

// isDirectory reports whether the in-use area at id also owns a reserved,
// in-use directory-index root node — this implementation's discriminator
// between a plain Area record and a Directory (see DESIGN.md).
func (r *registry) isDirectory(img *ufsimg.Image, id Id) bool {
	return img.ReadNode(areaSlot(id)).InUse != 0
}

func (r *registry) findFreeAreaSlot() (uint64, bool) {
	for i := uint64(0); i < r.img.AreaCapacity(); i++ {
		if r.img.ReadArea(i).InUse == 0 {
			return i, true
		}
	}
	return 0, false
}

func (r *registry) findFreeFileSlot() (uint64, bool) {
	for i := uint64(0); i < r.img.FileCapacity(); i++ {
		if r.img.ReadFile(i).InUse == 0 {
			return i, true
		}
	}
	return 0, false
}

// addAreaLike implements the shared machinery behind AddArea and
// AddDirectory: both allocate from the area arena and share one name
// namespace (I4 as this implementation reads it — see DESIGN.md).
func (r *registry) addAreaLike(name string, asDirectory bool) (Id, error) {
	if name == "" {
		return 0, newErr(BadCall, xerrors.New("empty name"))
	}
	if _, exists := r.areaByName[name]; exists {
		return 0, newErr(AlreadyExists, nil)
	}
	slot, ok := r.findFreeAreaSlot()
	if !ok {
		return 0, newErr(OutOfMemory, xerrors.New("area arena exhausted"))
	}
	off, err := r.pool.Append(name)
	if err != nil {
		return 0, err
	}
	r.img.WriteArea(slot, ufsimg.AreaRecord{InUse: 1, StrOffset: off})
	id := Id(slot + 1)
	if asDirectory {
		r.img.WriteNode(slot, ufsimg.NodeRecord{InUse: 1, NumKeys: 0, Left: -1, Right: -1})
	}
	r.areaByName[name] = id
	SetErrno(NoError)
	return id, nil
}

func (r *registry) AddArea(name string) (Id, error) {
	return r.addAreaLike(name, false)
}

func (r *registry) AddDirectory(name string) (Id, error) {
	return r.addAreaLike(name, true)
}

func (r *registry) getAreaLike(name string, wantDirectory bool) (Id, error) {
	id, ok := r.areaByName[name]
	if !ok || r.isDirectory(r.img, id) != wantDirectory {
		return 0, newErr(DoesNotExist, nil)
	}
	SetErrno(NoError)
	return id, nil
}

func (r *registry) GetArea(name string) (Id, error)      { return r.getAreaLike(name, false) }
func (r *registry) GetDirectory(name string) (Id, error) { return r.getAreaLike(name, true) }

// AddFile allocates a file record. parentDir must name an in-use
// directory (spec.md I2); per spec.md's open question, this only ever
// resolves parentDir as the exact directory id supplied, never through a
// view.
func (r *registry) AddFile(parentDir Id, name string) (Id, error) {
	if name == "" {
		return 0, newErr(BadCall, xerrors.New("empty name"))
	}
	if parentDir <= 0 || uint64(parentDir) > r.img.AreaCapacity() ||
		r.img.ReadArea(areaSlot(parentDir)).InUse == 0 || !r.isDirectory(r.img, parentDir) {
		return 0, newErr(DoesNotExist, xerrors.New("parent directory does not exist"))
	}
	key := fileKey{parent: parentDir, name: name}
	if _, exists := r.fileByKey[key]; exists {
		return 0, newErr(AlreadyExists, nil)
	}
	slot, ok := r.findFreeFileSlot()
	if !ok {
		return 0, newErr(OutOfMemory, xerrors.New("file arena exhausted"))
	}
	off, err := r.pool.Append(name)
	if err != nil {
		return 0, err
	}
	r.img.WriteFile(slot, ufsimg.FileRecord{InUse: 1, StrOffset: off, ParentDir: int64(parentDir)})
	id := Id(slot + 1)
	r.fileByKey[key] = id
	SetErrno(NoError)
	return id, nil
}

func (r *registry) GetFile(parentDir Id, name string) (Id, error) {
	id, ok := r.fileByKey[fileKey{parent: parentDir, name: name}]
	if !ok {
		return 0, newErr(DoesNotExist, nil)
	}
	SetErrno(NoError)
	return id, nil
}

// fileName returns the interned name for a file record.
func (r *registry) fileName(id Id) (string, error) {
	rec := r.img.ReadFile(fileSlot(id))
	return r.pool.Get(rec.StrOffset)
}

func (r *registry) areaName(id Id) (string, error) {
	rec := r.img.ReadArea(areaSlot(id))
	return r.pool.Get(rec.StrOffset)
}

// removeAreaRecord clears an area slot and its name-index entry. It does
// not touch mappings or the directory index — callers (RemoveArea,
// RemoveDirectory) are responsible for those per their own preconditions.
func (r *registry) removeAreaRecord(id Id) error {
	name, err := r.areaName(id)
	if err != nil {
		return err
	}
	r.img.WriteArea(areaSlot(id), ufsimg.AreaRecord{})
	delete(r.areaByName, name)
	return nil
}

func (r *registry) removeFileRecord(id Id) error {
	rec := r.img.ReadFile(fileSlot(id))
	name, err := r.fileName(id)
	if err != nil {
		return err
	}
	r.img.WriteFile(fileSlot(id), ufsimg.FileRecord{})
	delete(r.fileByKey, fileKey{parent: Id(rec.ParentDir), name: name})
	return nil
}
