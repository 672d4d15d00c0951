// Package engine adapts a concrete store to the four primitives the file
// system needs: point lookup, upsert, delete, and a scan of the secondary
// index on the parent path. It knows nothing about tree rules; it only
// refuses to hand back records that could not have been written by a correct
// caller.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	"github.com/pkg/errors"
)

const DefaultTimeout = 5 * time.Second

type Engine interface {
	// Get returns (nil, nil) when nothing is stored at path.
	Get(ctx context.Context, path string) (*models.Entry, error)
	// Put inserts or replaces the record at e.Path and its index entry.
	Put(ctx context.Context, e *models.Entry) error
	// Delete is a no-op when nothing is stored at path.
	Delete(ctx context.Context, path string) error
	// ScanByParent returns every entry whose ParentPath equals parent, in
	// no particular order.
	ScanByParent(ctx context.Context, parent string) ([]*models.Entry, error)

	Close() error
}

type ErrorKind int

const (
	Transient ErrorKind = iota + 1
	Corruption
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Corruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// Error is the only error type an Engine returns.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == Transient
}

func IsCorruption(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Kind == Corruption
}

func transient(op, path string, err error) *Error {
	return &Error{Kind: Transient, Op: op, Path: path, Err: err}
}

func corruption(op, path string, err error) *Error {
	return &Error{Kind: Corruption, Op: op, Path: path, Err: err}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// validate rejects records whose derived fields disagree with their path.
// It runs on every decoded record and on every record before it is written.
func validate(e *models.Entry) error {
	if e == nil {
		return errors.New("nil entry")
	}
	if e.Path == "" || vpath.Normalize(e.Path) != e.Path {
		return errors.Errorf("path %q is not canonical", e.Path)
	}
	if !e.Kind.Valid() {
		return errors.Errorf("unknown entry type %q", e.Kind)
	}
	if vpath.IsRoot(e.Path) {
		if e.ParentPath != "" || e.Name != "" || e.Kind != models.KindDirectory {
			return errors.New("root must be a nameless directory without a parent")
		}
		return nil
	}
	if e.ParentPath != vpath.Parent(e.Path) {
		return errors.Errorf("parent %q does not match path %q", e.ParentPath, e.Path)
	}
	if e.Name != vpath.Base(e.Path) {
		return errors.Errorf("name %q does not match path %q", e.Name, e.Path)
	}
	if e.Kind == models.KindDirectory && (len(e.Content) != 0 || e.Size != 0) {
		return errors.New("directory carries content")
	}
	if e.Kind == models.KindFile && e.Size != int64(len(e.Content)) {
		return errors.Errorf("size %d does not match content length %d", e.Size, len(e.Content))
	}
	return nil
}
