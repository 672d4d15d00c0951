package vfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/InsulaLabs/hmacfs/db/engine"
	"github.com/InsulaLabs/hmacfs/db/tkv"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	changes []models.Change
}

func (r *recorder) Notify(c models.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) all() []models.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Change(nil), r.changes...)
}

type testFS struct {
	*FS
	engine engine.Engine
	clock  *fakeClock
	events *recorder
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	store, err := tkv.New(tkv.Config{
		Logger:         quietLogger(),
		BadgerLogLevel: slog.LevelError,
		Directory:      t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return engine.NewTKV(quietLogger(), store, 5*time.Second)
}

func newTestFS(t *testing.T) *testFS {
	t.Helper()
	eng := newTestEngine(t)
	clock := newFakeClock()
	events := &recorder{}

	fs, err := New(Config{
		Engine:   eng,
		Logger:   quietLogger(),
		Notifier: events,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, fs.Init(context.Background()))

	return &testFS{FS: fs, engine: eng, clock: clock, events: events}
}

// assertNoOrphans checks that every listed path that exists has an existing
// directory as its parent.
func assertNoOrphans(t *testing.T, fs FileSystem, paths ...string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range paths {
		ok, err := fs.Exists(ctx, p)
		require.NoError(t, err)
		if !ok {
			continue
		}
		parent, err := fs.Stat(ctx, parentOf(p))
		require.NoError(t, err, "orphan %s", p)
		assert.True(t, parent.IsDir(), "parent of %s is not a directory", p)
	}
}

func parentOf(p string) string {
	for i := len(p) - 1; i > 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "/"
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("root stat", func(t *testing.T) {
		fs := newTestFS(t)
		st, err := fs.Stat(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, models.KindDirectory, st.Kind)
		assert.Equal(t, "", st.Name)
		assert.Zero(t, st.Size)
	})

	t.Run("idempotent", func(t *testing.T) {
		fs := newTestFS(t)
		before, err := fs.Stat(ctx, "/")
		require.NoError(t, err)

		fs.clock.Advance(time.Hour)
		require.NoError(t, fs.Init(ctx))

		after, err := fs.Stat(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, before.CreatedAt, after.CreatedAt)
	})

	t.Run("concurrent init creates one root", func(t *testing.T) {
		eng := newTestEngine(t)
		var created sync.WaitGroup
		events := &recorder{}
		fs, err := New(Config{Engine: eng, Logger: quietLogger(), Notifier: events})
		require.NoError(t, err)

		for i := 0; i < 8; i++ {
			created.Add(1)
			go func() {
				defer created.Done()
				assert.NoError(t, fs.Init(ctx))
			}()
		}
		created.Wait()

		inits := 0
		for _, c := range events.all() {
			if c.Op == models.ChangeInit {
				inits++
			}
		}
		assert.Equal(t, 1, inits)
	})

	t.Run("operations before init", func(t *testing.T) {
		fs, err := New(Config{Engine: newTestEngine(t), Logger: quietLogger()})
		require.NoError(t, err)

		ok, err := fs.Exists(ctx, "/")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, fs.Write(ctx, "/a.txt", nil), ErrParentNotFound)
		assert.ErrorIs(t, fs.Mkdir(ctx, "/"), ErrParentNotFound)
		_, err = fs.List(ctx, "/")
		assert.ErrorIs(t, err, ErrNotADirectory)
	})
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		fs := newTestFS(t)
		payload := []byte{0x00, 0xff, 0x10, 'a'}
		require.NoError(t, fs.Write(ctx, "/blob.bin", payload))

		got, err := fs.Read(ctx, "/blob.bin")
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		st, err := fs.Stat(ctx, "/blob.bin")
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), st.Size)
		assert.Equal(t, models.KindFile, st.Kind)
		assert.Equal(t, "blob.bin", st.Name)
	})

	t.Run("text round trip", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.WriteText(ctx, "/hello.txt", "héllo wörld"))
		got, err := fs.ReadText(ctx, "/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, "héllo wörld", got)
	})

	t.Run("callers get copies", func(t *testing.T) {
		fs := newTestFS(t)
		data := []byte("original")
		require.NoError(t, fs.Write(ctx, "/c.txt", data))
		data[0] = 'X'

		got, err := fs.Read(ctx, "/c.txt")
		require.NoError(t, err)
		assert.Equal(t, "original", string(got))

		got[0] = 'Y'
		again, err := fs.Read(ctx, "/c.txt")
		require.NoError(t, err)
		assert.Equal(t, "original", string(again))
	})

	t.Run("empty file reads as empty non-nil", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Write(ctx, "/empty", nil))
		got, err := fs.Read(ctx, "/empty")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("invalid utf-8 text", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Write(ctx, "/bad.txt", []byte{0xff, 0xfe}))
		_, err := fs.ReadText(ctx, "/bad.txt")
		assert.ErrorIs(t, err, ErrDecode)

		// The raw bytes are still readable.
		_, err = fs.Read(ctx, "/bad.txt")
		assert.NoError(t, err)
	})

	t.Run("missing parent", func(t *testing.T) {
		fs := newTestFS(t)
		err := fs.Write(ctx, "/nope/a.txt", []byte("x"))
		assert.ErrorIs(t, err, ErrParentNotFound)

		ok, err := fs.Exists(ctx, "/nope/a.txt")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("parent is a file", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Write(ctx, "/f", []byte("x")))
		assert.ErrorIs(t, fs.Write(ctx, "/f/g", []byte("y")), ErrParentNotFound)
	})

	t.Run("write over a directory", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Mkdir(ctx, "/d"))
		assert.ErrorIs(t, fs.Write(ctx, "/d", []byte("x")), ErrNotAFile)
		assert.ErrorIs(t, fs.Write(ctx, "/", []byte("x")), ErrNotAFile)

		st, err := fs.Stat(ctx, "/d")
		require.NoError(t, err)
		assert.True(t, st.IsDir())
	})

	t.Run("read errors", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Mkdir(ctx, "/d"))

		_, err := fs.Read(ctx, "/missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = fs.Read(ctx, "/d")
		assert.ErrorIs(t, err, ErrNotAFile)
		_, err = fs.ReadText(ctx, "/d")
		assert.ErrorIs(t, err, ErrNotAFile)
	})

	t.Run("overwrite keeps created and refreshes updated", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.WriteText(ctx, "/doc.md", "v1"))
		first, err := fs.Stat(ctx, "/doc.md")
		require.NoError(t, err)

		fs.clock.Advance(time.Minute)
		require.NoError(t, fs.WriteText(ctx, "/doc.md", "version two"))
		second, err := fs.Stat(ctx, "/doc.md")
		require.NoError(t, err)

		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
		assert.Equal(t, int64(len("version two")), second.Size)

		text, err := fs.ReadText(ctx, "/doc.md")
		require.NoError(t, err)
		assert.Equal(t, "version two", text)
	})

	t.Run("non canonical paths address the same entry", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Mkdir(ctx, "docs/"))
		require.NoError(t, fs.WriteText(ctx, "//docs//./a.txt/", "hi"))

		got, err := fs.ReadText(ctx, "/docs/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "hi", got)

		got, err = fs.ReadText(ctx, "/docs/sub/../a.txt")
		require.NoError(t, err)
		assert.Equal(t, "hi", got)
	})
}

func TestMimeType(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	t.Run("inferred from extension", func(t *testing.T) {
		require.NoError(t, fs.WriteText(ctx, "/page.html", "<p>"))
		st, err := fs.Stat(ctx, "/page.html")
		require.NoError(t, err)
		assert.Contains(t, st.MimeType, "text/html")
	})

	t.Run("explicit wins", func(t *testing.T) {
		require.NoError(t, fs.WriteText(ctx, "/notes", "x", WithMimeType("text/x-notes")))
		st, err := fs.Stat(ctx, "/notes")
		require.NoError(t, err)
		assert.Equal(t, "text/x-notes", st.MimeType)
	})

	t.Run("overwrite without option keeps previous", func(t *testing.T) {
		require.NoError(t, fs.WriteText(ctx, "/notes", "y"))
		st, err := fs.Stat(ctx, "/notes")
		require.NoError(t, err)
		assert.Equal(t, "text/x-notes", st.MimeType)
	})

	t.Run("directories have none", func(t *testing.T) {
		require.NoError(t, fs.Mkdir(ctx, "/dir.html"))
		st, err := fs.Stat(ctx, "/dir.html")
		require.NoError(t, err)
		assert.Empty(t, st.MimeType)
	})
}

func TestMkdir(t *testing.T) {
	ctx := context.Background()

	t.Run("double mkdir", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Mkdir(ctx, "/a"))
		err := fs.Mkdir(ctx, "/a")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("mkdir over a file", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Write(ctx, "/a", []byte("x")))
		assert.ErrorIs(t, fs.Mkdir(ctx, "/a"), ErrAlreadyExists)
	})

	t.Run("mkdir root", func(t *testing.T) {
		fs := newTestFS(t)
		assert.ErrorIs(t, fs.Mkdir(ctx, "/"), ErrAlreadyExists)
	})

	t.Run("mkdir before parent", func(t *testing.T) {
		fs := newTestFS(t)
		assert.ErrorIs(t, fs.Mkdir(ctx, "/a/b"), ErrParentNotFound)

		ok, err := fs.Exists(ctx, "/a")
		require.NoError(t, err)
		assert.False(t, ok, "mkdir is not recursive")
	})

	t.Run("nested", func(t *testing.T) {
		fs := newTestFS(t)
		require.NoError(t, fs.Mkdir(ctx, "/a"))
		require.NoError(t, fs.Mkdir(ctx, "/a/b"))
		require.NoError(t, fs.Mkdir(ctx, "/a/b/c"))

		st, err := fs.Stat(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.True(t, st.IsDir())
		assert.Equal(t, "c", st.Name)
	})

	t.Run("concurrent mkdir race has exactly one winner", func(t *testing.T) {
		fs := newTestFS(t)
		const racers = 16

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			exists  int
			unknown []error
		)
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := fs.Mkdir(ctx, "/race")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrAlreadyExists):
					exists++
				default:
					unknown = append(unknown, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, racers-1, exists)
		assert.Empty(t, unknown)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir(ctx, "/docs"))
	for _, name := range []string{"zeta.txt", "alpha.txt", "mid"} {
		if name == "mid" {
			require.NoError(t, fs.Mkdir(ctx, "/docs/"+name))
			continue
		}
		require.NoError(t, fs.WriteText(ctx, "/docs/"+name, name))
	}
	require.NoError(t, fs.WriteText(ctx, "/docs/mid/deep.txt", "deep"))
	require.NoError(t, fs.Mkdir(ctx, "/docsx"))

	t.Run("sorted direct children only", func(t *testing.T) {
		infos, err := fs.List(ctx, "/docs")
		require.NoError(t, err)
		require.Len(t, infos, 3)
		assert.Equal(t, "alpha.txt", infos[0].Name)
		assert.Equal(t, "/docs/alpha.txt", infos[0].Path)
		assert.Equal(t, "mid", infos[1].Name)
		assert.True(t, infos[1].IsDir())
		assert.Equal(t, "zeta.txt", infos[2].Name)
		assert.Equal(t, int64(len("zeta.txt")), infos[2].Size)
	})

	t.Run("list after write", func(t *testing.T) {
		require.NoError(t, fs.WriteText(ctx, "/docs/new.txt", "n"))
		infos, err := fs.List(ctx, "/docs/")
		require.NoError(t, err)
		names := make([]string, 0, len(infos))
		for _, i := range infos {
			names = append(names, i.Name)
		}
		assert.Contains(t, names, "new.txt")
	})

	t.Run("root", func(t *testing.T) {
		infos, err := fs.List(ctx, "/")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "docs", infos[0].Name)
		assert.Equal(t, "docsx", infos[1].Name)
	})

	t.Run("empty directory", func(t *testing.T) {
		infos, err := fs.List(ctx, "/docsx")
		require.NoError(t, err)
		assert.NotNil(t, infos)
		assert.Empty(t, infos)
	})

	t.Run("not a directory", func(t *testing.T) {
		_, err := fs.List(ctx, "/docs/alpha.txt")
		assert.ErrorIs(t, err, ErrNotADirectory)
		_, err = fs.List(ctx, "/absent")
		assert.ErrorIs(t, err, ErrNotADirectory)
	})
}

func TestNulInsideSegment(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir(ctx, "/a"))
	require.NoError(t, fs.Mkdir(ctx, "/a\x00b"))
	require.NoError(t, fs.WriteText(ctx, "/a\x00b/c", "sibling"))
	require.NoError(t, fs.WriteText(ctx, "/a/d", "child"))

	infos, err := fs.List(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "/a/d", infos[0].Path)

	infos, err = fs.List(ctx, "/a\x00b")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "c", infos[0].Name)

	require.NoError(t, fs.Remove(ctx, "/a/d"))
	require.NoError(t, fs.Remove(ctx, "/a"))
	require.NoError(t, fs.Mkdir(ctx, "/a"))
	require.NoError(t, fs.WriteText(ctx, "/a/d", "again"))
	require.NoError(t, fs.Remove(ctx, "/a", WithRecursiveRemove()))

	text, err := fs.ReadText(ctx, "/a\x00b/c")
	require.NoError(t, err)
	assert.Equal(t, "sibling", text)
	assertNoOrphans(t, fs, "/a/d", "/a\x00b/c")
}

func TestStatAndExists(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	require.NoError(t, fs.WriteText(ctx, "/a.txt", "abc"))

	ok, err := fs.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.Exists(ctx, "/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Stat(ctx, "/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	var pe *PathError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "stat", pe.Op)
	assert.Equal(t, "/b.txt", pe.Path)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	build := func(t *testing.T) *testFS {
		fs := newTestFS(t)
		require.NoError(t, fs.Mkdir(ctx, "/proj"))
		require.NoError(t, fs.Mkdir(ctx, "/proj/src"))
		require.NoError(t, fs.Mkdir(ctx, "/proj/src/empty"))
		require.NoError(t, fs.WriteText(ctx, "/proj/src/main.go", "package main"))
		require.NoError(t, fs.WriteText(ctx, "/proj/README", "hi"))
		require.NoError(t, fs.WriteText(ctx, "/keep.txt", "keep"))
		return fs
	}
	all := []string{"/proj", "/proj/src", "/proj/src/empty", "/proj/src/main.go", "/proj/README", "/keep.txt"}

	t.Run("file", func(t *testing.T) {
		fs := build(t)
		require.NoError(t, fs.Remove(ctx, "/proj/README"))
		ok, err := fs.Exists(ctx, "/proj/README")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("non-recursive on non-empty directory", func(t *testing.T) {
		fs := build(t)
		err := fs.Remove(ctx, "/proj")
		assert.ErrorIs(t, err, ErrDirectoryNotEmpty)

		for _, p := range all {
			ok, err := fs.Exists(ctx, p)
			require.NoError(t, err)
			assert.True(t, ok, "%s must survive", p)
		}
	})

	t.Run("non-recursive on empty directory", func(t *testing.T) {
		fs := build(t)
		require.NoError(t, fs.Remove(ctx, "/proj/src/empty"))
		ok, err := fs.Exists(ctx, "/proj/src/empty")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("recursive", func(t *testing.T) {
		fs := build(t)
		require.NoError(t, fs.Remove(ctx, "/proj", WithRecursiveRemove()))

		for _, p := range all[:5] {
			ok, err := fs.Exists(ctx, p)
			require.NoError(t, err)
			assert.False(t, ok, "%s must be gone", p)
		}
		ok, err := fs.Exists(ctx, "/keep.txt")
		require.NoError(t, err)
		assert.True(t, ok)

		// Nothing is left in the parent index either.
		kids, err := fs.engine.ScanByParent(ctx, "/proj/src")
		require.NoError(t, err)
		assert.Empty(t, kids)
		kids, err = fs.engine.ScanByParent(ctx, "/proj")
		require.NoError(t, err)
		assert.Empty(t, kids)
	})

	t.Run("idempotent", func(t *testing.T) {
		fs := build(t)
		require.NoError(t, fs.Remove(ctx, "/nothing/here"))
		require.NoError(t, fs.Remove(ctx, "/proj", WithRecursiveRemove()))
		require.NoError(t, fs.Remove(ctx, "/proj", WithRecursiveRemove()))
		require.NoError(t, fs.Remove(ctx, "/proj"))
	})

	t.Run("root", func(t *testing.T) {
		fs := build(t)
		assert.ErrorIs(t, fs.Remove(ctx, "/"), ErrDirectoryNotEmpty)

		require.NoError(t, fs.Remove(ctx, "/", WithRecursiveRemove()))
		st, err := fs.Stat(ctx, "/")
		require.NoError(t, err)
		assert.True(t, st.IsDir())

		infos, err := fs.List(ctx, "/")
		require.NoError(t, err)
		assert.Empty(t, infos)

		// Empty root: remove is a no-op that keeps the root.
		require.NoError(t, fs.Remove(ctx, "/"))
		ok, err := fs.Exists(ctx, "/")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("deep tree", func(t *testing.T) {
		fs := newTestFS(t)
		p := ""
		var created []string
		for i := 0; i < 40; i++ {
			p = fmt.Sprintf("%s/d%d", p, i)
			require.NoError(t, fs.Mkdir(ctx, p))
			require.NoError(t, fs.WriteText(ctx, p+"/f", "x"))
			created = append(created, p, p+"/f")
		}
		require.NoError(t, fs.Remove(ctx, "/d0", WithRecursiveRemove()))
		for _, c := range created {
			ok, err := fs.Exists(ctx, c)
			require.NoError(t, err)
			assert.False(t, ok, c)
		}
	})
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)
	require.NoError(t, fs.Mkdir(ctx, "/work"))

	var (
		wg    sync.WaitGroup
		paths []string
	)
	for i := 0; i < 20; i++ {
		paths = append(paths, fmt.Sprintf("/work/f%d", i))
	}

	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			err := fs.WriteText(ctx, p, "data")
			if err != nil {
				assert.ErrorIs(t, err, ErrParentNotFound)
			}
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, fs.Remove(ctx, "/work", WithRecursiveRemove()))
	}()
	wg.Wait()

	assertNoOrphans(t, fs, paths...)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	fs := newTestFS(t)

	require.NoError(t, fs.Mkdir(ctx, "/d"))
	require.NoError(t, fs.WriteText(ctx, "/d/f", "x"))
	require.Error(t, fs.Mkdir(ctx, "/d"))
	require.NoError(t, fs.Remove(ctx, "/d", WithRecursiveRemove()))
	require.NoError(t, fs.Remove(ctx, "/d"))

	assert.Equal(t, []models.Change{
		{Op: models.ChangeInit, Path: "/", Kind: models.KindDirectory},
		{Op: models.ChangeMkdir, Path: "/d", Kind: models.KindDirectory},
		{Op: models.ChangeWrite, Path: "/d/f", Kind: models.KindFile},
		{Op: models.ChangeRemove, Path: "/d", Kind: models.KindDirectory},
	}, fs.events.all())
}

// failingEngine fails every call after the wrapped engine has been set up.
type failingEngine struct {
	engine.Engine
	fail bool
}

func (f *failingEngine) err(op, path string) error {
	return &engine.Error{Kind: engine.Transient, Op: op, Path: path, Err: errors.New("disk on fire")}
}

func (f *failingEngine) Get(ctx context.Context, path string) (*models.Entry, error) {
	if f.fail {
		return nil, f.err("get", path)
	}
	return f.Engine.Get(ctx, path)
}

func (f *failingEngine) Put(ctx context.Context, e *models.Entry) error {
	if f.fail {
		return f.err("put", e.Path)
	}
	return f.Engine.Put(ctx, e)
}

func TestEngineFailures(t *testing.T) {
	ctx := context.Background()
	fe := &failingEngine{Engine: newTestEngine(t)}
	fs, err := New(Config{Engine: fe, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, fs.Init(ctx))

	fe.fail = true

	_, err = fs.Exists(ctx, "/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngine)

	var ee *engine.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.Transient, ee.Kind)

	for _, sentinel := range Sentinels {
		if sentinel != ErrEngine {
			assert.NotErrorIs(t, err, sentinel)
		}
	}

	assert.ErrorIs(t, fs.WriteText(ctx, "/x", "y"), ErrEngine)
	assert.ErrorIs(t, fs.Mkdir(ctx, "/x"), ErrEngine)
	assert.ErrorIs(t, fs.Remove(ctx, "/x"), ErrEngine)
	_, err = fs.List(ctx, "/")
	assert.ErrorIs(t, err, ErrEngine)
}

func TestLockCancellation(t *testing.T) {
	fs := newTestFS(t)

	unlock, err := fs.locks.Lock(context.Background(), "/a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = fs.Mkdir(ctx, "/a/b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEngine)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
