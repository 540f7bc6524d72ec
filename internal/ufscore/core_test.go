package ufscore

import (
	"sort"
	"testing"

	"github.com/unionfs/ufs/internal/ufsimg"
)

// fakeFS is an in-memory ExternalFS used throughout these tests, standing
// in for the real osfs.FS the way distri's tests substitute an in-memory
// squashfs reader for a real mounted image.
type fakeFS struct {
	dirs  map[string][]string
	files map[string]bool
}

func newFakeFS() *fakeFS {
	return &fakeFS{dirs: make(map[string][]string), files: make(map[string]bool)}
}

func (f *fakeFS) ListDir(dirName string) ([]string, error) {
	out := append([]string(nil), f.dirs[dirName]...)
	sort.Strings(out)
	return out, nil
}

func (f *fakeFS) CreateIfAbsent(path string, isDir bool) error {
	if isDir {
		if _, ok := f.dirs[path]; !ok {
			f.dirs[path] = nil
		}
		return nil
	}
	f.files[path] = true
	return nil
}

func (f *fakeFS) Remove(path string) error {
	delete(f.files, path)
	return nil
}

func smallSizes() ufsimg.SizeRequest {
	return ufsimg.SizeRequest{NumFiles: 16, NumAreas: 8, NumNodes: 16, NumStrBytes: 256}
}

func newTestCore(t *testing.T, extfs ExternalFS) *Core {
	t.Helper()
	img, err := ufsimg.Anonymous(smallSizes())
	if err != nil {
		t.Fatalf("ufsimg.Anonymous: %v", err)
	}
	t.Cleanup(func() { img.Release() })
	return newCore(img, extfs)
}

func TestAddGetDirectoryAreaFile(t *testing.T) {
	c := newTestCore(t, nil)

	dirID, err := c.AddDirectory("etc")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if got, err := c.GetDirectory("etc"); err != nil || got != dirID {
		t.Fatalf("GetDirectory(etc) = %v, %v, want %v, nil", got, err, dirID)
	}
	if _, err := c.GetArea("etc"); StatusOf(err) != DoesNotExist {
		t.Fatalf("GetArea(etc) on a directory: status = %v, want DoesNotExist", StatusOf(err))
	}

	areaID, err := c.AddArea("overlay")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if got, err := c.GetArea("overlay"); err != nil || got != areaID {
		t.Fatalf("GetArea(overlay) = %v, %v, want %v, nil", got, err, areaID)
	}

	fileID, err := c.AddFile(dirID, "passwd")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if got, err := c.GetFile(dirID, "passwd"); err != nil || got != fileID {
		t.Fatalf("GetFile = %v, %v, want %v, nil", got, err, fileID)
	}
}

func TestAddDuplicateNameRejected(t *testing.T) {
	c := newTestCore(t, nil)
	if _, err := c.AddArea("x"); err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if _, err := c.AddArea("x"); StatusOf(err) != AlreadyExists {
		t.Fatalf("second AddArea(x): status = %v, want AlreadyExists", StatusOf(err))
	}
}

func TestAddFileRequiresDirectory(t *testing.T) {
	c := newTestCore(t, nil)
	areaID, err := c.AddArea("notadir")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if _, err := c.AddFile(areaID, "x"); StatusOf(err) != DoesNotExist {
		t.Fatalf("AddFile under a plain area: status = %v, want DoesNotExist", StatusOf(err))
	}
}

func TestRemoveDirectoryRequiresEmpty(t *testing.T) {
	c := newTestCore(t, nil)
	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if _, err := c.AddFile(dirID, "f"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := c.RemoveDirectory(dirID); StatusOf(err) != DirectoryIsNotEmpty {
		t.Fatalf("RemoveDirectory on a non-empty dir: status = %v, want DirectoryIsNotEmpty", StatusOf(err))
	}
}

func TestRemoveFileThenDirectory(t *testing.T) {
	c := newTestCore(t, nil)
	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	fileID, err := c.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := c.RemoveFile(fileID); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if err := c.RemoveDirectory(dirID); err != nil {
		t.Fatalf("RemoveDirectory: %v", err)
	}
	if _, err := c.GetDirectory("d"); StatusOf(err) != DoesNotExist {
		t.Fatalf("GetDirectory after removal: status = %v, want DoesNotExist", StatusOf(err))
	}
}

func TestResolveStorageInView(t *testing.T) {
	c := newTestCore(t, nil)
	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	fileID, err := c.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	a1, err := c.AddArea("a1")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	a2, err := c.AddArea("a2")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}

	if err := c.AddMapping(a2, FileStorage(fileID)); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}

	view := []Id{a1, a2, Base}
	got, err := c.ResolveStorageInView(view, FileStorage(fileID))
	if err != nil {
		t.Fatalf("ResolveStorageInView: %v", err)
	}
	if got != a2 {
		t.Errorf("ResolveStorageInView = %d, want %d (a2, the first area in the view that maps it)", got, a2)
	}

	// Nothing maps the directory itself in this view, so it falls through
	// to BASE.
	got, err = c.ResolveStorageInView(view, DirStorage(dirID))
	if err != nil {
		t.Fatalf("ResolveStorageInView(dir): %v", err)
	}
	if got != Base {
		t.Errorf("ResolveStorageInView(dir) = %d, want Base", got)
	}
}

func TestResolveStorageCannotResolveWithoutBase(t *testing.T) {
	c := newTestCore(t, nil)
	a1, err := c.AddArea("a1")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	fileID, err := c.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := c.ResolveStorageInView([]Id{a1}, FileStorage(fileID)); StatusOf(err) != CannotResolveStorage {
		t.Fatalf("status = %v, want CannotResolveStorage", StatusOf(err))
	}
}

func TestIterateDirInViewUnionAndDedup(t *testing.T) {
	fs := newFakeFS()
	c := newTestCore(t, fs)

	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	name, err := c.AreaName(dirID)
	if err != nil {
		t.Fatalf("AreaName: %v", err)
	}
	fs.dirs[name] = []string{"fromBase"}

	f1, err := c.AddFile(dirID, "fromBase")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	f2, err := c.AddFile(dirID, "fromArea")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	a1, err := c.AddArea("a1")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if err := c.AddMapping(a1, FileStorage(f1)); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if err := c.AddMapping(a1, FileStorage(f2)); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}

	entries, err := c.IterateDirInView([]Id{a1, Base}, dirID)
	if err != nil {
		t.Fatalf("IterateDirInView: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("IterateDirInView returned %d entries, want 2 (deduplicated): %+v", len(entries), entries)
	}
}

func TestCollapseToNonBaseArea(t *testing.T) {
	c := newTestCore(t, nil)
	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	fileID, err := c.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	a1, err := c.AddArea("a1")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	a2, err := c.AddArea("a2")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if err := c.AddMapping(a1, FileStorage(fileID)); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}

	if err := c.Collapse([]Id{a1, a2}); err != nil {
		t.Fatalf("Collapse: %v", err)
	}
	if err := c.ProbeMapping(a1, FileStorage(fileID)); StatusOf(err) != DoesNotExist {
		t.Errorf("a1 mapping after collapse: status = %v, want DoesNotExist", StatusOf(err))
	}
	if err := c.ProbeMapping(a2, FileStorage(fileID)); err != nil {
		t.Errorf("a2 mapping after collapse: %v, want present", err)
	}
}

func TestCollapseToBaseMaterializes(t *testing.T) {
	fs := newFakeFS()
	c := newTestCore(t, fs)

	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	dirName, err := c.AreaName(dirID)
	if err != nil {
		t.Fatalf("AreaName: %v", err)
	}
	fileID, err := c.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	a1, err := c.AddArea("a1")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if err := c.AddMapping(a1, FileStorage(fileID)); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}

	if err := c.Collapse([]Id{a1, Base}); err != nil {
		t.Fatalf("Collapse: %v", err)
	}
	if err := c.ProbeMapping(a1, FileStorage(fileID)); StatusOf(err) != DoesNotExist {
		t.Errorf("a1 mapping after collapse to BASE: status = %v, want DoesNotExist", StatusOf(err))
	}
	if !fs.files[dirName+"/f"] {
		t.Errorf("materializeOne did not create %s on the external filesystem", dirName+"/f")
	}
}

func TestAddMappingRejectsUnknownArea(t *testing.T) {
	c := newTestCore(t, nil)
	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	fileID, err := c.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := c.AddMapping(999999, FileStorage(fileID)); StatusOf(err) != DoesNotExist {
		t.Fatalf("AddMapping with a nonexistent area: status = %v, want DoesNotExist", StatusOf(err))
	}
	if got := c.mappings.EnumerateByStorage(FileStorage(fileID)); len(got) != 0 {
		t.Errorf("AddMapping with a nonexistent area stored a mapping anyway: %v", got)
	}
}

// spec.md §8's Boundary property: "addArea/addFile/addDirectory until the
// arena is exhausted returns OUT_OF_MEMORY".
func TestAddAreaArenaExhausted(t *testing.T) {
	img, err := ufsimg.Anonymous(ufsimg.SizeRequest{NumFiles: 4, NumAreas: 2, NumNodes: 8, NumStrBytes: 64})
	if err != nil {
		t.Fatalf("ufsimg.Anonymous: %v", err)
	}
	t.Cleanup(func() { img.Release() })
	c := newCore(img, nil)

	if _, err := c.AddArea("a"); err != nil {
		t.Fatalf("AddArea(a): %v", err)
	}
	if _, err := c.AddArea("b"); err != nil {
		t.Fatalf("AddArea(b): %v", err)
	}
	if _, err := c.AddArea("c"); StatusOf(err) != OutOfMemory {
		t.Fatalf("AddArea with an exhausted area arena: status = %v, want OutOfMemory", StatusOf(err))
	}
}

func TestAddDirectoryArenaExhausted(t *testing.T) {
	img, err := ufsimg.Anonymous(ufsimg.SizeRequest{NumFiles: 4, NumAreas: 1, NumNodes: 8, NumStrBytes: 64})
	if err != nil {
		t.Fatalf("ufsimg.Anonymous: %v", err)
	}
	t.Cleanup(func() { img.Release() })
	c := newCore(img, nil)

	if _, err := c.AddDirectory("d"); err != nil {
		t.Fatalf("AddDirectory(d): %v", err)
	}
	// AddDirectory shares the area arena with AddArea (see DESIGN.md).
	if _, err := c.AddDirectory("e"); StatusOf(err) != OutOfMemory {
		t.Fatalf("AddDirectory with an exhausted area arena: status = %v, want OutOfMemory", StatusOf(err))
	}
}

func TestAddFileArenaExhausted(t *testing.T) {
	img, err := ufsimg.Anonymous(ufsimg.SizeRequest{NumFiles: 2, NumAreas: 4, NumNodes: 8, NumStrBytes: 64})
	if err != nil {
		t.Fatalf("ufsimg.Anonymous: %v", err)
	}
	t.Cleanup(func() { img.Release() })
	c := newCore(img, nil)

	dirID, err := c.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if _, err := c.AddFile(dirID, "f1"); err != nil {
		t.Fatalf("AddFile(f1): %v", err)
	}
	if _, err := c.AddFile(dirID, "f2"); err != nil {
		t.Fatalf("AddFile(f2): %v", err)
	}
	if _, err := c.AddFile(dirID, "f3"); StatusOf(err) != OutOfMemory {
		t.Fatalf("AddFile with an exhausted file arena: status = %v, want OutOfMemory", StatusOf(err))
	}
}

func TestValidateViewRejectsDuplicatesAndInvalidAreas(t *testing.T) {
	c := newTestCore(t, nil)
	a1, err := c.AddArea("a1")
	if err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if err := c.validateView([]Id{a1, a1}); StatusOf(err) != ViewContainsDuplicates {
		t.Errorf("status = %v, want ViewContainsDuplicates", StatusOf(err))
	}
	if err := c.validateView([]Id{99}); StatusOf(err) != InvalidAreaInView {
		t.Errorf("status = %v, want InvalidAreaInView", StatusOf(err))
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	sizes := smallSizes()
	path := t.TempDir() + "/image.ufs"

	c1, err := Create(path, sizes, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dirID, err := c1.AddDirectory("d")
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	fileID, err := c1.AddFile(dirID, "f")
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := c1.AddMapping(dirID, FileStorage(fileID)); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if err := c1.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := Destroy(c1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	c2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Destroy(c2)
	gotDir, err := c2.GetDirectory("d")
	if err != nil || gotDir != dirID {
		t.Fatalf("GetDirectory after reopen = %v, %v, want %v, nil", gotDir, err, dirID)
	}
	gotFile, err := c2.GetFile(dirID, "f")
	if err != nil || gotFile != fileID {
		t.Fatalf("GetFile after reopen = %v, %v, want %v, nil", gotFile, err, fileID)
	}

	// Mappings are pure in-memory state and do not survive a reopen.
	if err := c2.ProbeMapping(dirID, FileStorage(fileID)); StatusOf(err) != DoesNotExist {
		t.Errorf("ProbeMapping after reopen: status = %v, want DoesNotExist (mappings are not persisted)", StatusOf(err))
	}
}
