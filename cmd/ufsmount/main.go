// Command ufsmount mounts a single, fixed (view, directory) pair as a
// read-only FUSE filesystem for inspection: `ls`/`stat` work, file content
// does not (spec.md §1 excludes content I/O from UFS's scope). It is a
// thin adapter grounded on internal/fuse/fuse.go's fuseutil.FileSystem
// implementation, reduced to the operations a flat, one-level directory
// listing needs.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"golang.org/x/xerrors"

	"github.com/unionfs/ufs"
	"github.com/unionfs/ufs/osfs"
)

const rootInode = fuseops.RootInodeID

func main() {
	log.SetFlags(0)
	if err := run(); err != nil {
		log.Fatalf("ufsmount: %v", err)
	}
}

func run() error {
	image := flag.String("image", "", "path to the ufs image to mount")
	viewFlag := flag.String("view", "", "comma-separated view (area ids, \"base\" for BASE)")
	dirFlag := flag.Int64("dir", 0, "directory id to mount as the root of the listing")
	extfsRoot := flag.String("extfs", "", "root directory backing BASE, if any")
	flag.Parse()
	if *image == "" || *viewFlag == "" || *dirFlag == 0 {
		return xerrors.New("syntax: ufsmount -image <path> -view <view> -dir <id> <mountpoint>")
	}
	if flag.NArg() != 1 {
		return xerrors.New("syntax: ufsmount -image <path> -view <view> -dir <id> <mountpoint>")
	}
	mountpoint := flag.Arg(0)

	var extfs ufs.ExternalFS
	if *extfsRoot != "" {
		extfs = osfs.New(*extfsRoot)
	}
	u, err := ufs.Open(*image, extfs)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", *image, err)
	}
	defer ufs.Destroy(u)

	view, err := parseView(*viewFlag)
	if err != nil {
		return err
	}

	fs := &dirFS{
		u:    u,
		view: view,
		dir:  ufs.Id(*dirFlag),
	}
	if err := fs.refresh(); err != nil {
		return err
	}

	server := fuseutil.NewFileSystemServer(fs)
	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "ufs",
		ReadOnly: true,
		// Mirrors internal/fuse/fuse.go: avoid OpenDir/OpenFile round
		// trips the kernel does not need from a read-only listing.
		EnableNoOpenSupport:    true,
		EnableNoOpendirSupport: true,
	})
	if err != nil {
		return xerrors.Errorf("fuse.Mount: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		syscall.Unmount(mountpoint, 0)
	}()
	return mfs.Join(ctx)
}

// dirFS mounts exactly one directory's view-resolved listing as a flat,
// read-only tree: the root inode plus one child inode per Storage entry.
// Directories in this object model carry no nesting of their own (spec.md
// §2), so there is nothing below the listing to recurse into.
type dirFS struct {
	fuseutil.NotImplementedFileSystem

	u    *ufs.UFS
	view []ufs.Id
	dir  ufs.Id

	mu      sync.Mutex
	byName  map[string]fuseops.InodeID
	byInode map[fuseops.InodeID]ufs.Storage
	names   map[fuseops.InodeID]string
	next    fuseops.InodeID
}

func (fs *dirFS) refresh() error {
	entries, err := fs.u.IterateDirInView(fs.view, fs.dir)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.byName = make(map[string]fuseops.InodeID)
	fs.byInode = make(map[fuseops.InodeID]ufs.Storage)
	fs.names = make(map[fuseops.InodeID]string)
	fs.next = rootInode + 1
	for _, s := range entries {
		name, err := fs.u.FileName(s.Id)
		if err != nil {
			continue
		}
		inode := fs.next
		fs.next++
		fs.byName[name] = inode
		fs.byInode[inode] = s
		fs.names[inode] = name
	}
	return nil
}

func (fs *dirFS) attrsFor(inode fuseops.InodeID) fuseops.InodeAttributes {
	if inode == rootInode {
		return fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  os.ModeDir | 0555,
			Atime: time.Unix(0, 0),
			Mtime: time.Unix(0, 0),
			Ctime: time.Unix(0, 0),
		}
	}
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0444,
		Atime: time.Unix(0, 0),
		Mtime: time.Unix(0, 0),
		Ctime: time.Unix(0, 0),
	}
}

func (fs *dirFS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *dirFS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if op.Parent != rootInode {
		return fuse.ENOENT
	}
	inode, ok := fs.byName[op.Name]
	if !ok {
		return fuse.ENOENT
	}
	op.Entry.Child = inode
	op.Entry.Attributes = fs.attrsFor(inode)
	return nil
}

func (fs *dirFS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if op.Inode != rootInode {
		if _, ok := fs.byInode[op.Inode]; !ok {
			return fuse.EIO
		}
	}
	op.Attributes = fs.attrsFor(op.Inode)
	return nil
}

func (fs *dirFS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	if op.Inode != rootInode {
		return fuse.EIO
	}
	fs.mu.Lock()
	var entries []fuseutil.Dirent
	for inode, name := range fs.names {
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  inode,
			Name:   name,
			Type:   fuseutil.DT_File,
		})
	}
	fs.mu.Unlock()

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EIO
	}
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// OpenFile and ReadFile are intentionally unimplemented: content I/O is
// out of scope for UFS (spec.md §1 Non-goals).
func (fs *dirFS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return syscall.ENOSYS
}

func (fs *dirFS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	return syscall.ENOSYS
}

func parseView(s string) ([]ufs.Id, error) {
	parts := strings.Split(s, ",")
	raw := make([]int64, 0, len(parts)+1)
	for _, p := range parts {
		if p == "base" {
			raw = append(raw, int64(ufs.Base))
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid view entry %q: %w", p, err)
		}
		raw = append(raw, n)
	}
	raw = append(raw, ufs.ViewTerminator)
	return ufs.ParseView(raw), nil
}
