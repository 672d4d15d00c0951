// Package mount exposes a vfs.FileSystem as a FUSE mount. Nodes hold only a
// path and ask the file system on every call, so the mount always reflects
// changes made through other front ends. Files are read whole on open and
// written back whole on flush.
package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vfs"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
)

const (
	fileMode = 0644
	dirMode  = 0755
)

type Options struct {
	Logger     *slog.Logger
	AllowOther bool
	Debug      bool
	// AttrTimeout controls how long the kernel caches entries and attributes.
	// Zero disables caching so remote changes show up at once.
	AttrTimeout time.Duration
}

// Node is a file or directory in the mount.
type Node struct {
	fs.Inode

	fsys   vfs.FileSystem
	logger *slog.Logger
	path   string
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)

func NewRoot(fsys vfs.FileSystem, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{fsys: fsys, logger: logger.WithGroup("mount"), path: vpath.Root}
}

// Mount serves fsys at mountPoint until the returned server is unmounted.
func Mount(fsys vfs.FileSystem, mountPoint string, opts Options) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, dirMode); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	root := NewRoot(fsys, opts.Logger)
	timeout := opts.AttrTimeout

	server, err := fs.Mount(mountPoint, root, &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
			FsName:     "hmacfs",
			Name:       "hmacfs",
		},
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		UID:          uint32(os.Getuid()),
		GID:          uint32(os.Getgid()),
	})
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	root.logger.Info("Mounted", "mount_point", mountPoint)
	return server, nil
}

// errno maps file system errors onto the closest POSIX code.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vfs.ErrNotFound), errors.Is(err, vfs.ErrParentNotFound):
		return syscall.ENOENT
	case errors.Is(err, vfs.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, vfs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, vfs.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, vfs.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

func (n *Node) fail(op, p string, err error) syscall.Errno {
	code := errno(err)
	if code == syscall.EIO {
		n.logger.Error("Mount operation failed", "op", op, "path", p, "error", err)
	}
	return code
}

func fillAttr(out *gofuse.Attr, stat models.FileStat) {
	if stat.IsDir() {
		out.Mode = dirMode | syscall.S_IFDIR
		out.Nlink = 2
	} else {
		out.Mode = fileMode | syscall.S_IFREG
		out.Nlink = 1
	}
	out.Size = uint64(stat.Size)
	out.SetTimes(&stat.UpdatedAt, &stat.UpdatedAt, &stat.UpdatedAt)
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}

func stableMode(stat models.FileStat) uint32 {
	if stat.IsDir() {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func (n *Node) child(name string) *Node {
	return &Node{fsys: n.fsys, logger: n.logger, path: vpath.Join(n.path, name)}
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	stat, err := n.fsys.Stat(ctx, n.path)
	if err != nil {
		return n.fail("getattr", n.path, err)
	}
	fillAttr(&out.Attr, stat)
	// Unflushed writes are visible to the writer.
	if h, ok := f.(*handle); ok {
		out.Size = uint64(h.size())
	}
	return 0
}

// Setattr only supports truncation; mode, owner and time changes are
// accepted and ignored.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if h, ok := f.(*handle); ok {
			h.truncate(int64(size))
		} else if code := n.truncate(ctx, int64(size)); code != 0 {
			return code
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *Node) truncate(ctx context.Context, size int64) syscall.Errno {
	data, err := n.fsys.Read(ctx, n.path)
	if err != nil {
		return n.fail("truncate", n.path, err)
	}
	if err := n.fsys.Write(ctx, n.path, resize(data, size)); err != nil {
		return n.fail("truncate", n.path, err)
	}
	return 0
}

func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	stat, err := n.fsys.Stat(ctx, child.path)
	if err != nil {
		return nil, n.fail("lookup", child.path, err)
	}
	fillAttr(&out.Attr, stat)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: stableMode(stat)}), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	infos, err := n.fsys.List(ctx, n.path)
	if err != nil {
		return nil, n.fail("readdir", n.path, err)
	}
	entries := make([]gofuse.DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, gofuse.DirEntry{
			Name: info.Name,
			Mode: stableMode(info.FileStat),
		})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.fsys.Mkdir(ctx, child.path); err != nil {
		return nil, n.fail("mkdir", child.path, err)
	}
	stat, err := n.fsys.Stat(ctx, child.path)
	if err != nil {
		return nil, n.fail("mkdir", child.path, err)
	}
	fillAttr(&out.Attr, stat)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := n.child(name)
	h, code := child.create(ctx, flags)
	if code != 0 {
		return nil, nil, 0, code
	}
	stat, err := n.fsys.Stat(ctx, child.path)
	if err != nil {
		return nil, nil, 0, n.fail("create", child.path, err)
	}
	fillAttr(&out.Attr, stat)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG}), h, gofuse.FOPEN_DIRECT_IO, 0
}

// create makes the file exist before any data is written, so other readers
// see it right away.
func (n *Node) create(ctx context.Context, flags uint32) (*handle, syscall.Errno) {
	exists, err := n.fsys.Exists(ctx, n.path)
	if err != nil {
		return nil, n.fail("create", n.path, err)
	}
	if exists {
		if flags&syscall.O_EXCL != 0 {
			return nil, syscall.EEXIST
		}
		h, code, _ := n.open(ctx, flags|syscall.O_RDWR)
		return h, code
	}
	if err := n.fsys.Write(ctx, n.path, nil); err != nil {
		return nil, n.fail("create", n.path, err)
	}
	return newHandle(n, nil, true), 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, code, fuseFlags := n.open(ctx, flags)
	if code != 0 {
		return nil, 0, code
	}
	return h, fuseFlags, 0
}

func (n *Node) open(ctx context.Context, flags uint32) (*handle, syscall.Errno, uint32) {
	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0

	if writable && flags&syscall.O_TRUNC != 0 {
		stat, err := n.fsys.Stat(ctx, n.path)
		if err != nil {
			return nil, n.fail("open", n.path, err), 0
		}
		if stat.IsDir() {
			return nil, syscall.EISDIR, 0
		}
		h := newHandle(n, nil, true)
		h.dirty = stat.Size > 0
		return h, 0, gofuse.FOPEN_DIRECT_IO
	}

	data, err := n.fsys.Read(ctx, n.path)
	if err != nil {
		return nil, n.fail("open", n.path, err), 0
	}
	return newHandle(n, data, writable), 0, gofuse.FOPEN_DIRECT_IO
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	p := vpath.Join(n.path, name)
	stat, err := n.fsys.Stat(ctx, p)
	if err != nil {
		return n.fail("unlink", p, err)
	}
	if stat.IsDir() {
		return syscall.EISDIR
	}
	if err := n.fsys.Remove(ctx, p); err != nil {
		return n.fail("unlink", p, err)
	}
	return 0
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	p := vpath.Join(n.path, name)
	stat, err := n.fsys.Stat(ctx, p)
	if err != nil {
		return n.fail("rmdir", p, err)
	}
	if !stat.IsDir() {
		return syscall.ENOTDIR
	}
	if err := n.fsys.Remove(ctx, p); err != nil {
		return n.fail("rmdir", p, err)
	}
	return 0
}
