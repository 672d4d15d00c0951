package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/InsulaLabs/hmacfs/db/tkv"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) tkv.TKV {
	t.Helper()
	store, err := tkv.New(tkv.Config{
		Logger:         quietLogger(),
		BadgerLogLevel: slog.LevelError,
		Directory:      t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dirEntry(path, parent, name string) *models.Entry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Entry{
		Path: path, Name: name, Kind: models.KindDirectory,
		ParentPath: parent, CreatedAt: now, UpdatedAt: now,
	}
}

func fileEntry(path, parent, name, content string) *models.Entry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	e := &models.Entry{
		Path: path, Name: name, Kind: models.KindFile,
		ParentPath: parent, CreatedAt: now, UpdatedAt: now,
	}
	e.SetContent([]byte(content))
	return e
}

func pathsOf(entries []*models.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	sort.Strings(out)
	return out
}

// runContract exercises the behaviour every Engine implementation must share.
func runContract(t *testing.T, eng Engine) {
	ctx := context.Background()

	root := &models.Entry{Path: "/", Kind: models.KindDirectory, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}

	t.Run("get absent returns nil", func(t *testing.T) {
		e, err := eng.Get(ctx, "/missing")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, eng.Put(ctx, root))
		require.NoError(t, eng.Put(ctx, dirEntry("/docs", "/", "docs")))
		require.NoError(t, eng.Put(ctx, fileEntry("/docs/a.txt", "/docs", "a.txt", "alpha")))

		got, err := eng.Get(ctx, "/docs/a.txt")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alpha", string(got.Content))
		assert.Equal(t, int64(5), got.Size)
		assert.Equal(t, models.KindFile, got.Kind)

		r, err := eng.Get(ctx, "/")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.True(t, r.IsRoot())
	})

	t.Run("put replaces in place", func(t *testing.T) {
		require.NoError(t, eng.Put(ctx, fileEntry("/docs/a.txt", "/docs", "a.txt", "beta!!")))
		got, err := eng.Get(ctx, "/docs/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "beta!!", string(got.Content))

		children, err := eng.ScanByParent(ctx, "/docs")
		require.NoError(t, err)
		assert.Len(t, children, 1, "replace must not duplicate the index entry")
	})

	t.Run("scan by parent is exact", func(t *testing.T) {
		require.NoError(t, eng.Put(ctx, dirEntry("/docsx", "/", "docsx")))
		require.NoError(t, eng.Put(ctx, fileEntry("/docsx/b.txt", "/docsx", "b.txt", "")))
		require.NoError(t, eng.Put(ctx, dirEntry("/docs/sub", "/docs", "sub")))

		children, err := eng.ScanByParent(ctx, "/docs")
		require.NoError(t, err)
		assert.Equal(t, []string{"/docs/a.txt", "/docs/sub"}, pathsOf(children))

		top, err := eng.ScanByParent(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, []string{"/docs", "/docsx"}, pathsOf(top))

		none, err := eng.ScanByParent(ctx, "/docs/a.txt")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("empty file content survives", func(t *testing.T) {
		got, err := eng.Get(ctx, "/docsx/b.txt")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.NotNil(t, got.Content)
		assert.Zero(t, got.Size)
	})

	t.Run("delete removes record and index", func(t *testing.T) {
		require.NoError(t, eng.Delete(ctx, "/docs/sub"))
		got, err := eng.Get(ctx, "/docs/sub")
		require.NoError(t, err)
		assert.Nil(t, got)

		children, err := eng.ScanByParent(ctx, "/docs")
		require.NoError(t, err)
		assert.Equal(t, []string{"/docs/a.txt"}, pathsOf(children))
	})

	t.Run("delete absent is a no-op", func(t *testing.T) {
		assert.NoError(t, eng.Delete(ctx, "/never/existed"))
	})

	t.Run("invalid entries are refused", func(t *testing.T) {
		bad := fileEntry("/docs/c.txt", "/", "c.txt", "x")
		err := eng.Put(ctx, bad)
		require.Error(t, err)
		assert.True(t, IsCorruption(err))

		unsized := fileEntry("/docs/d.txt", "/docs", "d.txt", "x")
		unsized.Size = 99
		assert.True(t, IsCorruption(eng.Put(ctx, unsized)))
	})

	t.Run("nul inside a segment keeps parents apart", func(t *testing.T) {
		require.NoError(t, eng.Put(ctx, dirEntry("/n", "/", "n")))
		require.NoError(t, eng.Put(ctx, dirEntry("/n\x00b", "/", "n\x00b")))
		require.NoError(t, eng.Put(ctx, fileEntry("/n\x00b/c", "/n\x00b", "c", "nul")))
		require.NoError(t, eng.Put(ctx, fileEntry("/n/x\\0", "/n", "x\\0", "slash")))

		children, err := eng.ScanByParent(ctx, "/n")
		require.NoError(t, err)
		assert.Equal(t, []string{"/n/x\\0"}, pathsOf(children))

		children, err = eng.ScanByParent(ctx, "/n\x00b")
		require.NoError(t, err)
		assert.Equal(t, []string{"/n\x00b/c"}, pathsOf(children))

		got, err := eng.Get(ctx, "/n\x00b/c")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "/n\x00b", got.ParentPath)
		assert.Equal(t, "nul", string(got.Content))

		for _, p := range []string{"/n/x\\0", "/n\x00b/c", "/n\x00b", "/n"} {
			require.NoError(t, eng.Delete(ctx, p))
		}
	})
}

func TestTKVEngine(t *testing.T) {
	store := newTestStore(t)
	eng := NewTKV(quietLogger(), store, time.Second)
	runContract(t, eng)

	ctx := context.Background()

	t.Run("undecodable record is corruption", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, entryKey("/broken"), []byte("{not json")))
		_, err := eng.Get(ctx, "/broken")
		require.Error(t, err)
		assert.True(t, IsCorruption(err))

		var ee *Error
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "get", ee.Op)
		assert.Equal(t, "/broken", ee.Path)

		require.NoError(t, eng.Delete(ctx, "/broken"), "corrupt records can still be removed")
		got, err := eng.Get(ctx, "/broken")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("record whose fields disagree with its path is corruption", func(t *testing.T) {
		raw, err := json.Marshal(dirEntry("/elsewhere", "/", "elsewhere"))
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, entryKey("/liar"), raw))
		_, err = eng.Get(ctx, "/liar")
		assert.True(t, IsCorruption(err))
		require.NoError(t, store.Delete(ctx, entryKey("/liar")))
	})

	t.Run("dangling index entry is corruption", func(t *testing.T) {
		require.NoError(t, eng.Put(ctx, dirEntry("/dangle", "/", "dangle")))
		require.NoError(t, store.Set(ctx, indexKey("/dangle", "ghost"), []byte("/dangle/ghost")))
		_, err := eng.ScanByParent(ctx, "/dangle")
		assert.True(t, IsCorruption(err))
	})

	t.Run("cancelled context is transient", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := eng.Get(cctx, "/docs")
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIndexKeys(t *testing.T) {
	assert.Equal(t, "fs:parent:1://docs", indexKey("/", "docs"))
	assert.Equal(t, "fs:parent:5:/docs/a.txt", indexKey("/docs", "a.txt"))

	// A grandchild key under a NUL-bearing sibling must not share the prefix.
	grandchild := indexKey("/a\x00b", "c")
	assert.False(t, strings.HasPrefix(grandchild, indexPrefix("/a")))
	assert.False(t, strings.HasPrefix(indexKey("/ab", "c"), indexPrefix("/a")))
	assert.True(t, strings.HasPrefix(indexKey("/a", "b\x00c"), indexPrefix("/a")))
}

func TestPGText(t *testing.T) {
	for _, s := range []string{"", "/plain", "/a\x00b", `/back\slash`, `/lit\0`, "/mixed\\\x00\\0"} {
		escaped := pgText(s)
		assert.NotContains(t, escaped, "\x00")
		assert.Equal(t, s, fromPGText(escaped))
	}
	assert.NotEqual(t, pgText("/a\x00"), pgText(`/a\0`))
}

func TestPostgresEngine(t *testing.T) {
	url := os.Getenv("HMACFS_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("HMACFS_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	eng, err := NewPostgres(ctx, quietLogger(), url, 5*time.Second)
	require.NoError(t, err)
	defer eng.Close()

	pe := eng.(*postgresEngine)
	_, err = pe.db.ExecContext(ctx, `TRUNCATE hmacfs_entries`)
	require.NoError(t, err)

	runContract(t, eng)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		entry *models.Entry
		ok    bool
	}{
		{"root", &models.Entry{Path: "/", Kind: models.KindDirectory}, true},
		{"root with name", &models.Entry{Path: "/", Name: "x", Kind: models.KindDirectory}, false},
		{"root as file", &models.Entry{Path: "/", Kind: models.KindFile}, false},
		{"non canonical", dirEntry("/a/", "/", "a"), false},
		{"unknown kind", &models.Entry{Path: "/a", Name: "a", ParentPath: "/", Kind: "link"}, false},
		{"directory with content", &models.Entry{Path: "/a", Name: "a", ParentPath: "/", Kind: models.KindDirectory, Content: []byte("x")}, false},
		{"file", fileEntry("/a/b", "/a", "b", "hello"), true},
		{"wrong name", fileEntry("/a/b", "/a", "c", "hello"), false},
		{"nil", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validate(tc.entry)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
