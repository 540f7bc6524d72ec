// Package osfs is an OS-backed implementation of ufs.ExternalFS (spec.md
// §6's "external filesystem collaborator"), grounded on the plain os/
// filepath calls distri's internal/install package uses to materialize
// files it has unpacked.
package osfs

import (
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// FS roots every path the core hands it at Root, the way distri's
// internal/install unpacks packages relative to a destination directory.
type FS struct {
	Root string
}

// New returns an FS rooted at root.
func New(root string) *FS {
	return &FS{Root: root}
}

func (f *FS) resolve(name string) string {
	return filepath.Join(f.Root, name)
}

// ListDir returns the base names of the entries under dirName, mirroring
// an empty slice (no error) for a directory that does not exist yet — the
// core treats BASE as possibly not having materialized a given directory.
func (f *FS) ListDir(dirName string) ([]string, error) {
	entries, err := os.ReadDir(f.resolve(dirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("osfs: reading %s: %w", dirName, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// CreateIfAbsent materializes path on the external filesystem if it is not
// already present (spec.md §4.7's collapse-to-BASE semantics).
func (f *FS) CreateIfAbsent(path string, isDir bool) error {
	full := f.resolve(path)
	if isDir {
		if err := os.MkdirAll(full, 0755); err != nil {
			return xerrors.Errorf("osfs: mkdir %s: %w", path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return xerrors.Errorf("osfs: mkdir %s: %w", filepath.Dir(path), err)
	}
	fh, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return xerrors.Errorf("osfs: creating %s: %w", path, err)
	}
	return fh.Close()
}

// Remove deletes path, treating a missing path as success.
func (f *FS) Remove(path string) error {
	if err := os.Remove(f.resolve(path)); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("osfs: removing %s: %w", path, err)
	}
	return nil
}
