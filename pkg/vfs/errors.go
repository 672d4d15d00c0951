package vfs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("no such file or directory")
	ErrNotAFile          = errors.New("not a file")
	ErrNotADirectory     = errors.New("not a directory")
	ErrParentNotFound    = errors.New("parent directory does not exist")
	ErrAlreadyExists     = errors.New("file exists")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrDecode            = errors.New("content is not valid utf-8")
	ErrEngine            = errors.New("storage engine failure")
)

// PathError records the operation and canonical path that failed. Err always
// wraps exactly one of the sentinels above.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func pathError(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}

// engineError keeps the engine's own error reachable through errors.As while
// still matching ErrEngine.
func engineError(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %w", ErrEngine, err)}
}

// Sentinels lists every error a FileSystem may wrap, in a stable order.
// Transports use it to map errors onto wire codes and back.
var Sentinels = []error{
	ErrNotFound,
	ErrNotAFile,
	ErrNotADirectory,
	ErrParentNotFound,
	ErrAlreadyExists,
	ErrDirectoryNotEmpty,
	ErrDecode,
	ErrEngine,
}
