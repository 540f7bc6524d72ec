package ufscore

// ExternalFS is the collaborator interface spec.md §6 describes: "the core
// consumes three operations from the external FS: list files in
// directory, create-if-absent, and remove. Only these are invoked, and
// only for BASE resolution/iteration and for collapse whose terminal area
// is BASE." The core package never imports an OS-backed implementation —
// callers wire one in (see the top-level osfs package) — so that the
// in-memory object model and algorithms stay independently testable with a
// fake.
//
// dirName identifies a directory by the name it was registered under
// (spec.md's directories carry no path hierarchy of their own; it is up to
// the ExternalFS implementation to decide what dirName maps to on disk).
type ExternalFS interface {
	// ListDir returns the names of files the external filesystem currently
	// has under dirName.
	ListDir(dirName string) ([]string, error)

	// CreateIfAbsent materializes path (a file, or a directory when
	// isDir is true) on the external filesystem if it does not already
	// exist. It is a no-op, not an error, if path already exists.
	CreateIfAbsent(path string, isDir bool) error

	// Remove deletes path from the external filesystem. It is a no-op,
	// not an error, if path does not exist.
	Remove(path string) error
}

// nopExternalFS is used when a Core is constructed without an explicit
// collaborator (e.g. in unit tests that never touch BASE). Every operation
// succeeds without effect: ListDir reports no names, and CreateIfAbsent and
// Remove do nothing.
type nopExternalFS struct{}

func (nopExternalFS) ListDir(string) ([]string, error)  { return nil, nil }
func (nopExternalFS) CreateIfAbsent(string, bool) error { return nil }
func (nopExternalFS) Remove(string) error               { return nil }
