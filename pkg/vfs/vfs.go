// Package vfs is a hierarchical file system kept on top of a flat record
// store. Every node is one models.Entry addressed by its canonical path; the
// tree exists only through each entry's parent path and the engine's index on
// it. All tree rules live here: a parent must exist before its children, paths
// are unique, and a directory is only removed with its whole subtree.
package vfs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/InsulaLabs/hmacfs/db/engine"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
)

// FileSystem is the public API. Every collaborator (HTTP service, client,
// terminal, mount) speaks only this interface. Paths may be given in any
// form; they are canonicalized before use.
type FileSystem interface {
	// Init creates the root directory if it does not exist yet.
	Init(ctx context.Context) error
	// Read returns a copy of a file's content.
	Read(ctx context.Context, path string) ([]byte, error)
	// ReadText is Read for content that must be valid UTF-8.
	ReadText(ctx context.Context, path string) (string, error)
	// Write creates or replaces a file. The parent directory must exist.
	Write(ctx context.Context, path string, data []byte, opts ...WriteOption) error
	WriteText(ctx context.Context, path string, text string, opts ...WriteOption) error
	// Mkdir creates a single directory. The parent directory must exist.
	Mkdir(ctx context.Context, path string) error
	// List returns the children of a directory sorted by name.
	List(ctx context.Context, path string) ([]models.FileInfo, error)
	// Remove deletes a file or directory. Removing a missing path succeeds.
	// Non-empty directories need WithRecursiveRemove.
	Remove(ctx context.Context, path string, opts ...RemoveOption) error
	Exists(ctx context.Context, path string) (bool, error)
	Stat(ctx context.Context, path string) (models.FileStat, error)
}

// Notifier receives a Change after every committed mutation.
type Notifier interface {
	Notify(change models.Change)
}

type NotifierFunc func(change models.Change)

func (f NotifierFunc) Notify(change models.Change) {
	f(change)
}

type Config struct {
	Engine   engine.Engine
	Logger   *slog.Logger
	Notifier Notifier         // optional
	Clock    func() time.Time // optional, defaults to time.Now
}

type FS struct {
	engine   engine.Engine
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
	locks    *pathLocker
}

var _ FileSystem = &FS{}

func New(config Config) (*FS, error) {
	if config.Engine == nil {
		return nil, errors.New("vfs: engine is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &FS{
		engine:   config.Engine,
		logger:   config.Logger.WithGroup("vfs"),
		notifier: config.Notifier,
		now:      config.Clock,
		locks:    newPathLocker(),
	}, nil
}

func (v *FS) notify(op models.ChangeOp, p string, kind models.Kind) {
	if v.notifier == nil {
		return
	}
	v.notifier.Notify(models.Change{Op: op, Path: p, Kind: kind})
}

func (v *FS) lock(ctx context.Context, op, p string) (func(), error) {
	unlock, err := v.locks.Lock(ctx, p)
	if err != nil {
		return nil, engineError(op, p, &engine.Error{Kind: engine.Transient, Op: "lock", Path: p, Err: err})
	}
	return unlock, nil
}

func (v *FS) get(ctx context.Context, op, p string) (*models.Entry, error) {
	e, err := v.engine.Get(ctx, p)
	if err != nil {
		v.logger.Error("engine get failed", "op", op, "path", p, "error", err)
		return nil, engineError(op, p, err)
	}
	return e, nil
}

func (v *FS) children(ctx context.Context, op, p string) ([]*models.Entry, error) {
	kids, err := v.engine.ScanByParent(ctx, p)
	if err != nil {
		v.logger.Error("engine scan failed", "op", op, "path", p, "error", err)
		return nil, engineError(op, p, err)
	}
	return kids, nil
}

func (v *FS) put(ctx context.Context, op string, e *models.Entry) error {
	if err := v.engine.Put(ctx, e); err != nil {
		v.logger.Error("engine put failed", "op", op, "path", e.Path, "error", err)
		return engineError(op, e.Path, err)
	}
	return nil
}

func (v *FS) delete(ctx context.Context, op, p string) error {
	if err := v.engine.Delete(ctx, p); err != nil {
		v.logger.Error("engine delete failed", "op", op, "path", p, "error", err)
		return engineError(op, p, err)
	}
	return nil
}

// requireParentDir fails with ErrParentNotFound unless the parent of p is an
// existing directory.
func (v *FS) requireParentDir(ctx context.Context, op, p string) error {
	parent, err := v.get(ctx, op, vpath.Parent(p))
	if err != nil {
		return err
	}
	if parent == nil || !parent.Kind.IsDir() {
		return pathError(op, p, ErrParentNotFound)
	}
	return nil
}

func (v *FS) Init(ctx context.Context) error {
	unlock, err := v.lock(ctx, "init", vpath.Root)
	if err != nil {
		return err
	}
	defer unlock()

	root, err := v.get(ctx, "init", vpath.Root)
	if err != nil {
		return err
	}
	if root != nil {
		return nil
	}

	now := v.now()
	root = &models.Entry{
		Path:      vpath.Root,
		Kind:      models.KindDirectory,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := v.put(ctx, "init", root); err != nil {
		return err
	}

	v.logger.Info("created root directory")
	v.notify(models.ChangeInit, vpath.Root, models.KindDirectory)
	return nil
}

func (v *FS) Exists(ctx context.Context, p string) (bool, error) {
	p = vpath.Normalize(p)
	e, err := v.get(ctx, "exists", p)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

func (v *FS) Stat(ctx context.Context, p string) (models.FileStat, error) {
	p = vpath.Normalize(p)
	e, err := v.get(ctx, "stat", p)
	if err != nil {
		return models.FileStat{}, err
	}
	if e == nil {
		return models.FileStat{}, pathError("stat", p, ErrNotFound)
	}
	return e.Stat(), nil
}

func (v *FS) Read(ctx context.Context, p string) ([]byte, error) {
	return v.read(ctx, "read", vpath.Normalize(p))
}

func (v *FS) read(ctx context.Context, op, p string) ([]byte, error) {
	e, err := v.get(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, pathError(op, p, ErrNotFound)
	}
	if e.Kind != models.KindFile {
		return nil, pathError(op, p, ErrNotAFile)
	}

	data := bytes.Clone(e.Content)
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (v *FS) ReadText(ctx context.Context, p string) (string, error) {
	p = vpath.Normalize(p)
	data, err := v.read(ctx, "readtext", p)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", pathError("readtext", p, ErrDecode)
	}
	return string(data), nil
}

func (v *FS) WriteText(ctx context.Context, p string, text string, opts ...WriteOption) error {
	return v.Write(ctx, p, []byte(text), opts...)
}

func (v *FS) Write(ctx context.Context, p string, data []byte, opts ...WriteOption) error {
	p = vpath.Normalize(p)
	options := ApplyWriteOptions(opts...)

	if vpath.IsRoot(p) {
		return pathError("write", p, ErrNotAFile)
	}

	unlock, err := v.lock(ctx, "write", p)
	if err != nil {
		return err
	}
	defer unlock()

	if err := v.requireParentDir(ctx, "write", p); err != nil {
		return err
	}

	existing, err := v.get(ctx, "write", p)
	if err != nil {
		return err
	}
	if existing != nil && existing.Kind != models.KindFile {
		return pathError("write", p, ErrNotAFile)
	}

	now := v.now()
	entry := &models.Entry{
		Path:       p,
		Name:       vpath.Base(p),
		Kind:       models.KindFile,
		CreatedAt:  now,
		UpdatedAt:  now,
		ParentPath: vpath.Parent(p),
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
		entry.MimeType = existing.MimeType
	}
	switch {
	case options.MimeType != "":
		entry.MimeType = options.MimeType
	case entry.MimeType == "":
		entry.MimeType = mime.TypeByExtension(vpath.Ext(p))
	}
	entry.SetContent(data)

	if err := v.put(ctx, "write", entry); err != nil {
		return err
	}

	v.logger.Debug("file written", "path", p, "size", entry.Size, "created", existing == nil)
	v.notify(models.ChangeWrite, p, models.KindFile)
	return nil
}

func (v *FS) Mkdir(ctx context.Context, p string) error {
	p = vpath.Normalize(p)

	unlock, err := v.lock(ctx, "mkdir", p)
	if err != nil {
		return err
	}
	defer unlock()

	// The root has no parent; it either exists or Init has not run.
	if vpath.IsRoot(p) {
		root, err := v.get(ctx, "mkdir", p)
		if err != nil {
			return err
		}
		if root != nil {
			return pathError("mkdir", p, ErrAlreadyExists)
		}
		return pathError("mkdir", p, ErrParentNotFound)
	}

	if err := v.requireParentDir(ctx, "mkdir", p); err != nil {
		return err
	}

	existing, err := v.get(ctx, "mkdir", p)
	if err != nil {
		return err
	}
	if existing != nil {
		return pathError("mkdir", p, ErrAlreadyExists)
	}

	now := v.now()
	dir := &models.Entry{
		Path:       p,
		Name:       vpath.Base(p),
		Kind:       models.KindDirectory,
		CreatedAt:  now,
		UpdatedAt:  now,
		ParentPath: vpath.Parent(p),
	}
	if err := v.put(ctx, "mkdir", dir); err != nil {
		return err
	}

	v.logger.Debug("directory created", "path", p)
	v.notify(models.ChangeMkdir, p, models.KindDirectory)
	return nil
}

func (v *FS) List(ctx context.Context, p string) ([]models.FileInfo, error) {
	p = vpath.Normalize(p)

	dir, err := v.get(ctx, "list", p)
	if err != nil {
		return nil, err
	}
	if dir == nil || !dir.Kind.IsDir() {
		return nil, pathError("list", p, ErrNotADirectory)
	}

	kids, err := v.children(ctx, "list", p)
	if err != nil {
		return nil, err
	}

	sort.Slice(kids, func(i, j int) bool {
		return kids[i].Name < kids[j].Name
	})

	infos := make([]models.FileInfo, 0, len(kids))
	for _, k := range kids {
		infos = append(infos, k.Info())
	}
	return infos, nil
}

func (v *FS) Remove(ctx context.Context, p string, opts ...RemoveOption) error {
	p = vpath.Normalize(p)
	options := ApplyRemoveOptions(opts...)

	unlock, err := v.lock(ctx, "remove", p)
	if err != nil {
		return err
	}
	defer unlock()

	target, err := v.get(ctx, "remove", p)
	if err != nil {
		return err
	}
	if target == nil {
		// Make remove idempotent. If it's already gone, that's success.
		return nil
	}

	if target.Kind == models.KindFile {
		if err := v.delete(ctx, "remove", p); err != nil {
			return err
		}
		v.logger.Debug("file removed", "path", p)
		v.notify(models.ChangeRemove, p, models.KindFile)
		return nil
	}

	kids, err := v.children(ctx, "remove", p)
	if err != nil {
		return err
	}
	if len(kids) > 0 && !options.Recursive {
		return pathError("remove", p, ErrDirectoryNotEmpty)
	}

	descendants, err := v.collectDescendants(ctx, kids)
	if err != nil {
		return err
	}

	// descendants is in pre-order, so walking it backwards removes every
	// entry before its parent and an interrupted removal never orphans one.
	for i := len(descendants) - 1; i >= 0; i-- {
		if err := v.delete(ctx, "remove", descendants[i].Path); err != nil {
			return err
		}
	}

	if !vpath.IsRoot(p) {
		if err := v.delete(ctx, "remove", p); err != nil {
			return err
		}
	}

	v.logger.Debug("directory removed", "path", p, "descendants", len(descendants))
	if len(descendants) > 0 || !vpath.IsRoot(p) {
		v.notify(models.ChangeRemove, p, models.KindDirectory)
	}
	return nil
}

// collectDescendants returns every entry below the given children in
// pre-order (each directory before anything inside it). It uses an explicit
// stack so tree depth never grows the goroutine stack.
func (v *FS) collectDescendants(ctx context.Context, kids []*models.Entry) ([]*models.Entry, error) {
	var (
		order []*models.Entry
		stack = append([]*models.Entry(nil), kids...)
	)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, n)

		if n.Kind != models.KindDirectory {
			continue
		}
		grandkids, err := v.children(ctx, "remove", n.Path)
		if err != nil {
			return nil, err
		}
		stack = append(stack, grandkids...)
	}
	return order, nil
}
