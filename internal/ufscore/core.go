// Package ufscore implements the in-memory object model, resolution and
// iteration algorithms, and collapse operation of spec.md §§2–4: the
// "core" of UFS. It depends only on internal/ufsimg for the persisted
// image and on the ExternalFS interface for BASE — never on an OS package
// directly, so it can be exercised against a fake filesystem in tests.
package ufscore

import (
	"github.com/unionfs/ufs/internal/ufsimg"
	"golang.org/x/xerrors"
)

// Core is a live UFS instance: an image plus the in-memory state layered
// on top of it (name lookups, the mapping set). It is not safe for
// concurrent use — spec.md §5 documents the core as single-threaded
// cooperative by design.
type Core struct {
	img      *ufsimg.Image
	registry *registry
	mappings *mappingSet
	dirIndex *dirIndex
	extfs    ExternalFS
}

func newCore(img *ufsimg.Image, extfs ExternalFS) *Core {
	if extfs == nil {
		extfs = nopExternalFS{}
	}
	pool := newStringPool(img)
	return &Core{
		img:      img,
		registry: newRegistry(img, pool),
		mappings: newMappingSet(),
		dirIndex: newDirIndex(img),
		extfs:    extfs,
	}
}

// Init creates a purely in-process, non-persistent instance (spec.md §6
// ufsInit: "this function does NOT mount ufs, it just returns an instance
// of it"). It is backed by an anonymous mapping with
// ufsimg.DefaultSizeRequest capacities.
func Init(extfs ExternalFS) (*Core, error) {
	img, err := ufsimg.Anonymous(ufsimg.DefaultSizeRequest)
	if err != nil {
		return nil, newErr(OutOfMemory, err)
	}
	SetErrno(NoError)
	return newCore(img, extfs), nil
}

// Create makes a new on-disk image at path and returns a Core backed by
// it (spec.md §4.1 "create" + §4.2's header/arena layout).
func Create(path string, sizes ufsimg.SizeRequest, extfs ExternalFS) (*Core, error) {
	img, err := ufsimg.Create(path, sizes)
	if err != nil {
		return nil, newErr(CantCreateFile, err)
	}
	SetErrno(NoError)
	return newCore(img, extfs), nil
}

// Open maps an existing image at path, validates it, and reconstructs the
// in-memory lookup tables from it (spec.md §4.1 "open" + §4.4).
func Open(path string, extfs ExternalFS) (*Core, error) {
	img, err := ufsimg.Open(path)
	if err != nil {
		return nil, newErr(ImageDoesNotExist, err)
	}
	if err := img.Validate(); err != nil {
		img.Release()
		return nil, newErr(classifyValidateErr(err), err)
	}
	c := newCore(img, extfs)
	if err := c.registry.rebuild(); err != nil {
		img.Release()
		return nil, newErr(ImageIsCorrupted, err)
	}
	SetErrno(NoError)
	return c, nil
}

func classifyValidateErr(err error) Status {
	msg := err.Error()
	switch {
	case contains(msg, "too small"):
		return ImageTooSmall
	case contains(msg, "version mismatch"):
		return VersionMismatch
	default:
		return ImageIsCorrupted
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Sync flushes the image to disk (spec.md §4.1 "sync").
func (c *Core) Sync() error {
	if err := c.img.Sync(); err != nil {
		return newErr(ImageCouldNotSync, err)
	}
	SetErrno(NoError)
	return nil
}

// Destroy releases the image (spec.md §6 ufsDestroy: accepting nil is a
// no-op).
func Destroy(c *Core) error {
	if c == nil {
		SetErrno(NoError)
		return nil
	}
	if err := c.img.Release(); err != nil {
		return newErr(UnknownError, err)
	}
	SetErrno(NoError)
	return nil
}

// --- Entities (spec.md §4.4) ---

func (c *Core) AddDirectory(name string) (Id, error) { return c.registry.AddDirectory(name) }
func (c *Core) AddArea(name string) (Id, error)      { return c.registry.AddArea(name) }
func (c *Core) AddFile(parentDir Id, name string) (Id, error) {
	id, err := c.registry.AddFile(parentDir, name)
	if err != nil {
		return 0, err
	}
	if err := c.dirIndex.Insert(areaSlot(parentDir), id); err != nil {
		// Roll back the just-created file record so a failed insert
		// (node arena exhaustion) does not leave a file with no
		// representation in its directory's index (spec.md I3).
		_ = c.registry.removeFileRecord(id)
		return 0, err
	}
	SetErrno(NoError)
	return id, nil
}

func (c *Core) GetDirectory(name string) (Id, error)         { return c.registry.GetDirectory(name) }
func (c *Core) GetArea(name string) (Id, error)               { return c.registry.GetArea(name) }
func (c *Core) GetFile(parentDir Id, name string) (Id, error) { return c.registry.GetFile(parentDir, name) }

// RemoveDirectory requires files_in_dir(d) = ∅ (spec.md I3, §4.4).
func (c *Core) RemoveDirectory(id Id) error {
	if id <= 0 || uint64(id) > c.img.AreaCapacity() || c.img.ReadArea(areaSlot(id)).InUse == 0 || !c.registry.isDirectory(c.img, id) {
		return newErr(DoesNotExist, nil)
	}
	if members := c.dirIndex.Iterate(areaSlot(id)); len(members) > 0 {
		return newErr(DirectoryIsNotEmpty, nil)
	}
	c.mappings.RemoveByArea(id)
	c.mappings.RemoveByStorage(DirStorage(id))
	c.img.WriteNode(areaSlot(id), ufsimg.NodeRecord{}) // release the reserved root
	if err := c.registry.removeAreaRecord(id); err != nil {
		return newErr(UnknownError, err)
	}
	SetErrno(NoError)
	return nil
}

// RemoveArea removes a plain (non-directory) area, purging every mapping
// naming it (spec.md §4.4 "Removing an area additionally purges every
// mapping whose area is the removed id").
func (c *Core) RemoveArea(id Id) error {
	if id <= 0 || uint64(id) > c.img.AreaCapacity() || c.img.ReadArea(areaSlot(id)).InUse == 0 {
		return newErr(DoesNotExist, nil)
	}
	if c.registry.isDirectory(c.img, id) {
		return newErr(BadCall, xerrors.New("id names a directory; use RemoveDirectory"))
	}
	c.mappings.RemoveByArea(id)
	if err := c.registry.removeAreaRecord(id); err != nil {
		return newErr(UnknownError, err)
	}
	SetErrno(NoError)
	return nil
}

// RemoveFile unlinks id from its parent directory's index (spec.md §4.4).
func (c *Core) RemoveFile(id Id) error {
	if id <= 0 || uint64(id) > c.img.FileCapacity() || c.img.ReadFile(fileSlot(id)).InUse == 0 {
		return newErr(DoesNotExist, nil)
	}
	parent := Id(c.img.ReadFile(fileSlot(id)).ParentDir)
	c.dirIndex.Remove(areaSlot(parent), id)
	c.mappings.RemoveByStorage(FileStorage(id))
	if err := c.registry.removeFileRecord(id); err != nil {
		return newErr(UnknownError, err)
	}
	SetErrno(NoError)
	return nil
}

// --- Mappings (spec.md §4.6) ---

// AddMapping rejects unknown operands before delegating to the mapping
// set (spec.md §4.6: add "returns DOES_NOT_EXIST for unknown operands" —
// original_source/include/ufs.h:423 "The area or the storage do not
// exist in ufs").
func (c *Core) AddMapping(area Id, s Storage) error {
	if err := c.validateAreaExists(area); err != nil {
		return err
	}
	if err := c.validateStorageExists(s); err != nil {
		return err
	}
	return c.mappings.Add(area, s)
}

// validateAreaExists reports DoesNotExist for any area id that is not an
// in-use, non-BASE area record — mappingSet.Add only rejects BASE and
// duplicates, so this is the operand-existence check §4.6 requires.
func (c *Core) validateAreaExists(area Id) error {
	if area == Base {
		return nil // mappingSet.Add itself rejects BASE with BadCall.
	}
	if area <= 0 || uint64(area) > c.img.AreaCapacity() || c.img.ReadArea(areaSlot(area)).InUse == 0 {
		return newErr(DoesNotExist, xerrors.New("area does not exist"))
	}
	return nil
}

func (c *Core) ProbeMapping(area Id, s Storage) error {
	return c.mappings.Probe(area, s)
}

func (c *Core) validateStorageExists(s Storage) error {
	switch s.Kind {
	case StorageFile:
		if s.Id <= 0 || uint64(s.Id) > c.img.FileCapacity() || c.img.ReadFile(fileSlot(s.Id)).InUse == 0 {
			return newErr(DoesNotExist, xerrors.New("file does not exist"))
		}
	case StorageDir:
		if s.Id <= 0 || uint64(s.Id) > c.img.AreaCapacity() || c.img.ReadArea(areaSlot(s.Id)).InUse == 0 || !c.registry.isDirectory(c.img, s.Id) {
			return newErr(DoesNotExist, xerrors.New("directory does not exist"))
		}
	}
	return nil
}

// FileName and AreaName look up an entity's registered name, for callers
// (cmd/ufsmount's inode layer) that need to present entities by name
// rather than by id.
func (c *Core) FileName(id Id) (string, error) { return c.registry.fileName(id) }
func (c *Core) AreaName(id Id) (string, error) { return c.registry.areaName(id) }

// ExternalFS returns the collaborator this Core was constructed with, for
// callers that need to reach it directly.
func (c *Core) ExternalFS() ExternalFS { return c.extfs }

// Image exposes the underlying image for callers that need raw
// introspection.
func (c *Core) Image() *ufsimg.Image { return c.img }
