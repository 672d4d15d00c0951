package mount

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
)

// handle buffers a whole file between open and flush.
type handle struct {
	node *Node

	mu       sync.Mutex
	data     []byte
	writable bool
	dirty    bool
}

var _ fs.FileHandle = (*handle)(nil)
var _ fs.FileReader = (*handle)(nil)
var _ fs.FileWriter = (*handle)(nil)
var _ fs.FileFlusher = (*handle)(nil)
var _ fs.FileReleaser = (*handle)(nil)
var _ fs.FileFsyncer = (*handle)(nil)

func newHandle(n *Node, data []byte, writable bool) *handle {
	return &handle{node: n, data: data, writable: writable}
}

func (h *handle) size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.data))
}

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return gofuse.ReadResultData(nil), 0
	}
	n := copy(dest, h.data[off:])
	return gofuse.ReadResultData(dest[:n]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.writable {
		return 0, syscall.EBADF
	}
	if end := off + int64(len(data)); end > int64(len(h.data)) {
		h.data = resize(h.data, end)
	}
	copy(h.data[off:], data)
	h.dirty = true
	return uint32(len(data)), 0
}

func (h *handle) truncate(size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = resize(h.data, size)
	h.dirty = true
}

// Flush runs on every close of a descriptor, so it may be called more than
// once per handle.
func (h *handle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return 0
	}
	if err := h.node.fsys.Write(ctx, h.node.path, h.data); err != nil {
		return h.node.fail("flush", h.node.path, err)
	}
	h.dirty = false
	return 0
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.Flush(ctx)
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	return h.Flush(ctx)
}

// resize returns data grown with zeros or cut to size.
func resize(data []byte, size int64) []byte {
	if size <= int64(len(data)) {
		return data[:size]
	}
	grown := make([]byte, size)
	copy(grown, data)
	return grown
}
