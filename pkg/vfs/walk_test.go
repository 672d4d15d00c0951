package vfs

import (
	"context"
	"testing"

	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalk(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir(ctx, "/b"))
	require.NoError(t, fs.Mkdir(ctx, "/a"))
	require.NoError(t, fs.WriteText(ctx, "/a/2.txt", "2"))
	require.NoError(t, fs.WriteText(ctx, "/a/1.txt", "1"))
	require.NoError(t, fs.Mkdir(ctx, "/b/skip"))
	require.NoError(t, fs.WriteText(ctx, "/b/skip/hidden", "h"))

	t.Run("pre-order by name", func(t *testing.T) {
		var visited []string
		var depths []int
		err := Walk(ctx, fs, "/", func(info models.FileInfo, depth int) error {
			visited = append(visited, info.Path)
			depths = append(depths, depth)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/", "/a", "/a/1.txt", "/a/2.txt", "/b", "/b/skip", "/b/skip/hidden"}, visited)
		assert.Equal(t, []int{0, 1, 2, 2, 1, 2, 3}, depths)
	})

	t.Run("skip dir", func(t *testing.T) {
		var visited []string
		err := Walk(ctx, fs, "/b", func(info models.FileInfo, depth int) error {
			visited = append(visited, info.Path)
			if info.Name == "skip" {
				return SkipDir
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"/b", "/b/skip"}, visited)
	})

	t.Run("missing root", func(t *testing.T) {
		err := Walk(ctx, fs, "/missing", func(models.FileInfo, int) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
