package ufscore

import "golang.org/x/xerrors"

// ViewMax and ViewTerminator mirror UFS_VIEW_MAX_SIZE / UFS_VIEW_TERMINATOR
// (spec.md §3).
const (
	ViewMax        = 1024
	ViewTerminator = -1
)

// ParseView reads a raw, terminator-delimited area-id sequence (as it
// would arrive across the wire-compatible surface, spec.md §3) into a
// Go slice, stopping at the first ViewTerminator or after ViewMax
// elements, whichever comes first.
func ParseView(raw []int64) []Id {
	n := len(raw)
	if n > ViewMax {
		n = ViewMax
	}
	out := make([]Id, 0, n)
	for i := 0; i < n; i++ {
		if raw[i] == ViewTerminator {
			break
		}
		out = append(out, Id(raw[i]))
	}
	return out
}

// validateView enforces spec.md I7: no duplicates, every entry is 0
// (BASE) or an in-use area (which, per DESIGN.md's design, includes
// directories — they are areas too).
func (c *Core) validateView(v []Id) error {
	if len(v) > ViewMax {
		return newErr(BadCall, xerrors.New("view exceeds VIEW_MAX"))
	}
	seen := make(map[Id]struct{}, len(v))
	for _, a := range v {
		if _, dup := seen[a]; dup {
			return newErr(ViewContainsDuplicates, nil)
		}
		seen[a] = struct{}{}
		if a == Base {
			continue
		}
		if a <= 0 || uint64(a) > c.img.AreaCapacity() || c.img.ReadArea(areaSlot(a)).InUse == 0 {
			return newErr(InvalidAreaInView, nil)
		}
	}
	return nil
}

// ResolveStorageInView implements spec.md §4.7's resolveStorageInView.
func (c *Core) ResolveStorageInView(v []Id, s Storage) (Id, error) {
	if err := c.validateView(v); err != nil {
		return 0, err
	}
	// S = the set of areas in v that explicitly map s.
	explicit := make(map[Id]struct{})
	for _, a := range v {
		if a == Base {
			continue
		}
		if c.mappings.Probe(a, s) == nil {
			explicit[a] = struct{}{}
		}
	}
	for _, a := range v {
		if a == Base {
			SetErrno(NoError)
			return Base, nil
		}
		if _, ok := explicit[a]; ok {
			SetErrno(NoError)
			return a, nil
		}
	}
	return 0, newErr(CannotResolveStorage, nil)
}

// DirIterFunc mirrors ufsDirIter (spec.md §6): called once per entry with
// the storage id, its position, and the total entry count. A non-nil
// return halts iteration; that error becomes both the return value of
// RunIter and the new errno.
type DirIterFunc func(storage Storage, currEntry, numEntries uint64) error

// IterateDirInView implements spec.md §4.7's iterateDirInView.
func (c *Core) IterateDirInView(v []Id, dir Id) ([]Storage, error) {
	if err := c.validateView(v); err != nil {
		return nil, err
	}
	if dir <= 0 || uint64(dir) > c.img.AreaCapacity() || c.img.ReadArea(areaSlot(dir)).InUse == 0 || !c.registry.isDirectory(c.img, dir) {
		return nil, newErr(DoesNotExist, xerrors.New("not a directory"))
	}

	// members is d's directory index (spec.md §4.5): "consulted by ...
	// directory iteration over a view (traverse each contributing area's
	// projection of this directory)". Each area's projection is the subset
	// of members explicitly mapped to that area.
	members := c.dirIndex.Iterate(areaSlot(dir))
	seen := make(map[Id]struct{})
	var result []Storage
	includeBase := false
	for _, a := range v {
		if a == Base {
			includeBase = true
			continue
		}
		for _, fid := range members {
			if _, dup := seen[fid]; dup {
				continue
			}
			if c.mappings.Probe(a, FileStorage(fid)) == nil {
				seen[fid] = struct{}{}
				result = append(result, FileStorage(fid))
			}
		}
	}
	if includeBase {
		dirName, err := c.registry.areaName(dir)
		if err != nil {
			return nil, err
		}
		names, err := c.extfs.ListDir(dirName)
		if err != nil {
			return nil, newErr(UnknownError, err)
		}
		for _, name := range names {
			fid, err := c.registry.GetFile(dir, name)
			if err != nil {
				// A name the external fs has but ufs has never
				// registered as a File cannot be expressed as a
				// storage id; skip it, mirroring the core's stance
				// that it tracks identity, not raw filesystem content.
				continue
			}
			if _, dup := seen[fid]; dup {
				continue
			}
			seen[fid] = struct{}{}
			result = append(result, FileStorage(fid))
		}
	}
	SetErrno(NoError)
	return result, nil
}

// RunIter drives fn over the entries IterateDirInView computed, matching
// spec.md's iterator contract: fn's numEntries argument is the union's
// final cardinality, iteration halts on the first non-nil error, and that
// error is recorded as errno.
func RunIter(entries []Storage, fn DirIterFunc) error {
	n := uint64(len(entries))
	for i, s := range entries {
		if err := fn(s, uint64(i), n); err != nil {
			SetErrno(StatusOf(err))
			return err
		}
	}
	SetErrno(NoError)
	return nil
}

// Collapse implements spec.md §4.7's collapse. When the terminal area is
// BASE, "adding (Aₜ, s) to M" is not representable (I5: BASE must never be
// stored in a mapping) — dropping (Aₖ, s) already makes s implicitly BASE
// per I6, so that case instead materializes s on the external filesystem.
func (c *Core) Collapse(v []Id) error {
	if err := c.validateView(v); err != nil {
		return err
	}
	if len(v) == 0 {
		SetErrno(NoError)
		return nil
	}
	terminal := v[len(v)-1]

	var toMaterialize []Storage
	for _, a := range v[:len(v)-1] {
		for _, s := range c.mappings.EnumerateByArea(a) {
			if terminal == Base {
				toMaterialize = append(toMaterialize, s)
			} else if c.mappings.Probe(terminal, s) != nil {
				if err := c.mappings.Add(terminal, s); err != nil {
					return err
				}
			}
			c.mappings.removeOne(a, s)
		}
	}

	if terminal == Base {
		for _, s := range toMaterialize {
			if err := c.materializeOne(s); err != nil {
				return newErr(UnknownError, err)
			}
		}
	}
	SetErrno(NoError)
	return nil
}

// materializeOne creates s on the external filesystem if it is not
// already present there (spec.md §4.7).
func (c *Core) materializeOne(s Storage) error {
	switch s.Kind {
	case StorageDir:
		name, err := c.registry.areaName(s.Id)
		if err != nil {
			return err
		}
		return c.extfs.CreateIfAbsent(name, true)
	default:
		rec := c.img.ReadFile(fileSlot(s.Id))
		dirName, err := c.registry.areaName(Id(rec.ParentDir))
		if err != nil {
			return err
		}
		fileName, err := c.registry.fileName(s.Id)
		if err != nil {
			return err
		}
		return c.extfs.CreateIfAbsent(dirName+"/"+fileName, false)
	}
}
