// Package ufs is the public surface of the union filesystem object model
// described in spec.md §6: a thin façade over internal/ufscore that
// re-exports the types and functions callers (cmd/ufsctl, cmd/ufsmount,
// and library consumers) need, without exposing the arena/registry
// internals.
package ufs

import (
	"github.com/unionfs/ufs/internal/ufscore"
	"github.com/unionfs/ufs/internal/ufsimg"
)

// Id, Base, Storage and the StorageKind tag mirror spec.md §3.
type (
	Id          = ufscore.Id
	StorageKind = ufscore.StorageKind
	Storage     = ufscore.Storage
)

const Base = ufscore.Base

const (
	StorageFile = ufscore.StorageFile
	StorageDir  = ufscore.StorageDir
)

func FileStorage(id Id) Storage { return ufscore.FileStorage(id) }
func DirStorage(id Id) Storage  { return ufscore.DirStorage(id) }

// Status and its named values mirror spec.md §6/§7's unified status
// enumeration.
type Status = ufscore.Status

const (
	NoError                = ufscore.NoError
	OutOfMemory            = ufscore.OutOfMemory
	BadCall                = ufscore.BadCall
	ViewContainsDuplicates = ufscore.ViewContainsDuplicates
	InvalidAreaInView      = ufscore.InvalidAreaInView
	AlreadyExists          = ufscore.AlreadyExists
	DoesNotExist           = ufscore.DoesNotExist
	DirectoryIsNotEmpty    = ufscore.DirectoryIsNotEmpty
	CannotResolveStorage   = ufscore.CannotResolveStorage
	UnknownError           = ufscore.UnknownError
	ImageDoesNotExist      = ufscore.ImageDoesNotExist
	ImageIsCorrupted       = ufscore.ImageIsCorrupted
	ImageTooSmall          = ufscore.ImageTooSmall
	VersionMismatch        = ufscore.VersionMismatch
	CantCreateFile         = ufscore.CantCreateFile
	ImageCouldNotSync      = ufscore.ImageCouldNotSync
)

// Errno returns the status left by the most recently completed UFS call
// (spec.md §7's thread-local errno, carried here as a package global per
// the single-threaded-cooperative concurrency model of §5).
func Errno() Status { return ufscore.Errno() }

// StatusOf extracts the Status a UFS error was constructed with.
func StatusOf(err error) Status { return ufscore.StatusOf(err) }

// ExternalFS is the collaborator interface of spec.md §6.
type ExternalFS = ufscore.ExternalFS

// SizeRequest and DefaultSizeRequest mirror spec.md §4.2's image sizing
// knobs.
type SizeRequest = ufsimg.SizeRequest

var DefaultSizeRequest = ufsimg.DefaultSizeRequest

// ViewMax and ViewTerminator mirror spec.md §3.
const (
	ViewMax        = ufscore.ViewMax
	ViewTerminator = ufscore.ViewTerminator
)

// ParseView reads a raw, terminator-delimited view (spec.md §3) into a
// Go slice of area ids.
func ParseView(raw []int64) []Id { return ufscore.ParseView(raw) }

// DirIterFunc mirrors ufsDirIter (spec.md §6).
type DirIterFunc = ufscore.DirIterFunc

// RunIter drives fn over entries returned by IterateDirInView.
func RunIter(entries []Storage, fn DirIterFunc) error { return ufscore.RunIter(entries, fn) }

// UFS is a live instance: the object model of spec.md §2 plus the
// algorithms of §4.7, bound to one image and one external filesystem
// collaborator.
type UFS struct {
	core *ufscore.Core
}

// Init returns a non-persistent instance backed by an anonymous mapping
// (spec.md §6 ufsInit: "this function does NOT mount ufs").
func Init(extfs ExternalFS) (*UFS, error) {
	c, err := ufscore.Init(extfs)
	if err != nil {
		return nil, err
	}
	return &UFS{core: c}, nil
}

// Create makes a new on-disk image at path and returns an instance backed
// by it (spec.md §4.1 "create").
func Create(path string, sizes SizeRequest, extfs ExternalFS) (*UFS, error) {
	c, err := ufscore.Create(path, sizes, extfs)
	if err != nil {
		return nil, err
	}
	return &UFS{core: c}, nil
}

// Open maps an existing image at path (spec.md §4.1 "open").
func Open(path string, extfs ExternalFS) (*UFS, error) {
	c, err := ufscore.Open(path, extfs)
	if err != nil {
		return nil, err
	}
	return &UFS{core: c}, nil
}

// Destroy releases u (spec.md §6 ufsDestroy). Accepting a nil *UFS is a
// no-op, mirroring the original's tolerance of a nil handle.
func Destroy(u *UFS) error {
	if u == nil {
		ufscore.SetErrno(NoError)
		return nil
	}
	return ufscore.Destroy(u.core)
}

// Sync flushes u's image to disk (spec.md §4.1 "sync").
func (u *UFS) Sync() error { return u.core.Sync() }

// AddDirectory, AddArea and AddFile register new entities (spec.md §4.4).
func (u *UFS) AddDirectory(name string) (Id, error) { return u.core.AddDirectory(name) }
func (u *UFS) AddArea(name string) (Id, error)      { return u.core.AddArea(name) }
func (u *UFS) AddFile(parentDir Id, name string) (Id, error) {
	return u.core.AddFile(parentDir, name)
}

// GetDirectory, GetArea and GetFile resolve a name to its id.
func (u *UFS) GetDirectory(name string) (Id, error) { return u.core.GetDirectory(name) }
func (u *UFS) GetArea(name string) (Id, error)      { return u.core.GetArea(name) }
func (u *UFS) GetFile(parentDir Id, name string) (Id, error) {
	return u.core.GetFile(parentDir, name)
}

// RemoveDirectory, RemoveArea and RemoveFile unregister entities (spec.md
// §4.4's Lifecycles).
func (u *UFS) RemoveDirectory(id Id) error { return u.core.RemoveDirectory(id) }
func (u *UFS) RemoveArea(id Id) error      { return u.core.RemoveArea(id) }
func (u *UFS) RemoveFile(id Id) error      { return u.core.RemoveFile(id) }

// AddMapping and ProbeMapping manage the mapping set (spec.md §4.6).
func (u *UFS) AddMapping(area Id, s Storage) error  { return u.core.AddMapping(area, s) }
func (u *UFS) ProbeMapping(area Id, s Storage) error { return u.core.ProbeMapping(area, s) }

// ResolveStorageInView, IterateDirInView and Collapse implement spec.md
// §4.7's view algorithms.
func (u *UFS) ResolveStorageInView(v []Id, s Storage) (Id, error) {
	return u.core.ResolveStorageInView(v, s)
}

func (u *UFS) IterateDirInView(v []Id, dir Id) ([]Storage, error) {
	return u.core.IterateDirInView(v, dir)
}

func (u *UFS) Collapse(v []Id) error { return u.core.Collapse(v) }

// ExternalFS returns the collaborator u was constructed with.
func (u *UFS) ExternalFS() ExternalFS { return u.core.ExternalFS() }

// FileName and AreaName look up an entity's registered name.
func (u *UFS) FileName(id Id) (string, error) { return u.core.FileName(id) }
func (u *UFS) AreaName(id Id) (string, error) { return u.core.AreaName(id) }
