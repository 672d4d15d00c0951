package vfs

import (
	"context"
	"errors"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
)

// SkipDir can be returned from a WalkFunc to skip a directory's contents.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called for every entry visited by Walk. depth is 0 for the
// starting path.
type WalkFunc func(info models.FileInfo, depth int) error

// Walk visits root and everything below it in lexical pre-order using only
// the FileSystem API, so it works the same over any implementation.
func Walk(ctx context.Context, fsys FileSystem, root string, fn WalkFunc) error {
	root = vpath.Normalize(root)
	stat, err := fsys.Stat(ctx, root)
	if err != nil {
		return err
	}

	type frame struct {
		info  models.FileInfo
		depth int
	}
	stack := []frame{{info: models.FileInfo{Path: root, FileStat: stat}}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		err := fn(f.info, f.depth)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if !f.info.IsDir() {
			continue
		}

		kids, err := fsys.List(ctx, f.info.Path)
		if err != nil {
			return err
		}
		// Push in reverse so the smallest name is visited first.
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{info: kids[i], depth: f.depth + 1})
		}
	}
	return nil
}
