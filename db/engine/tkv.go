package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/InsulaLabs/hmacfs/db/tkv"
	"github.com/InsulaLabs/hmacfs/pkg/models"
	"github.com/InsulaLabs/hmacfs/pkg/vpath"
	"github.com/pkg/errors"
)

/*
	Key layout inside the badger keyspace:

		fs:entry:<path>                             -> JSON encoded models.Entry
		fs:parent:<len(parentPath)>:<parentPath>/<name> -> <path>

	Segments may hold any byte except "/", so the parent is length prefixed:
	a scan of "/a" can never match children of "/ab" or of "/a\x00b".
*/

const (
	entryPrefix  = "fs:entry:"
	parentPrefix = "fs:parent:"
)

func entryKey(path string) string {
	return entryPrefix + path
}

func indexKey(parent, name string) string {
	return indexPrefix(parent) + name
}

func indexPrefix(parent string) string {
	return parentPrefix + strconv.Itoa(len(parent)) + ":" + parent + "/"
}

type tkvEngine struct {
	logger  *slog.Logger
	store   tkv.TKV
	timeout time.Duration
}

var _ Engine = &tkvEngine{}

// NewTKV builds an Engine over a badger store. The engine does not own the
// store; Close is a no-op and the caller closes the store itself.
func NewTKV(logger *slog.Logger, store tkv.TKV, timeout time.Duration) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &tkvEngine{
		logger:  logger.WithGroup("engine"),
		store:   store,
		timeout: timeout,
	}
}

func (t *tkvEngine) Close() error {
	return nil
}

func decodeEntry(key string, raw []byte) (*models.Entry, error) {
	var e models.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, &tkv.ErrDataCorruption{Key: key, Reason: err.Error()}
	}
	// Empty content is omitted on encode.
	if e.Kind == models.KindFile && e.Content == nil {
		e.Content = []byte{}
	}
	if err := validate(&e); err != nil {
		return nil, &tkv.ErrDataCorruption{Key: key, Reason: err.Error()}
	}
	return &e, nil
}

// classify maps a tkv error onto the engine's error kinds.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var corrupt *tkv.ErrDataCorruption
	if errors.As(err, &corrupt) {
		return corruption(op, path, err)
	}
	return transient(op, path, err)
}

func getEntry(r tkv.TKVReader, path string) (*models.Entry, error) {
	raw, err := r.Get(entryKey(path))
	if err != nil {
		var nf *tkv.ErrKeyNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return decodeEntry(entryKey(path), raw)
}

func (t *tkvEngine) Get(ctx context.Context, path string) (*models.Entry, error) {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	var entry *models.Entry
	err := t.store.View(ctx, func(r tkv.TKVReader) error {
		var err error
		entry, err = getEntry(r, path)
		return err
	})
	if err != nil {
		return nil, classify("get", path, err)
	}
	if entry != nil && entry.Path != path {
		return nil, corruption("get", path, errors.Errorf("record stored under %q claims path %q", path, entry.Path))
	}
	return entry, nil
}

func (t *tkvEngine) Put(ctx context.Context, e *models.Entry) error {
	if err := validate(e); err != nil {
		return corruption("put", e.Path, errors.Wrap(err, "refusing to write invalid entry"))
	}

	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	raw, err := json.Marshal(e)
	if err != nil {
		return corruption("put", e.Path, errors.Wrap(err, "encode entry"))
	}

	sets := []tkv.TKVBatchEntry{{Key: entryKey(e.Path), Value: raw}}
	if e.ParentPath != "" {
		sets = append(sets, tkv.TKVBatchEntry{
			Key:   indexKey(e.ParentPath, e.Name),
			Value: []byte(e.Path),
		})
	}

	// Record and index entry are derived from the same path, so a replace
	// never leaves a stale index key behind.
	if err := t.store.Apply(ctx, sets, nil); err != nil {
		return transient("put", e.Path, err)
	}
	t.logger.Debug("entry stored", "path", e.Path, "type", e.Kind, "size", e.Size)
	return nil
}

func (t *tkvEngine) Delete(ctx context.Context, path string) error {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	// Only presence matters here. An undecodable record is still removed
	// because its index key is derived from the path alone.
	found := false
	err := t.store.View(ctx, func(r tkv.TKVReader) error {
		_, err := r.Get(entryKey(path))
		if err != nil {
			var nf *tkv.ErrKeyNotFound
			if errors.As(err, &nf) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return classify("delete", path, err)
	}
	if !found {
		return nil
	}

	deletes := []string{entryKey(path)}
	if !vpath.IsRoot(path) {
		deletes = append(deletes, indexKey(vpath.Parent(path), vpath.Base(path)))
	}
	if err := t.store.Apply(ctx, nil, deletes); err != nil {
		return transient("delete", path, err)
	}
	t.logger.Debug("entry deleted", "path", path)
	return nil
}

func (t *tkvEngine) ScanByParent(ctx context.Context, parent string) ([]*models.Entry, error) {
	ctx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	var entries []*models.Entry
	err := t.store.View(ctx, func(r tkv.TKVReader) error {
		index, err := r.Iterate(indexPrefix(parent), 0, 0)
		if err != nil {
			return err
		}
		entries = make([]*models.Entry, 0, len(index))
		for _, ie := range index {
			childPath := string(ie.Value)
			child, err := getEntry(r, childPath)
			if err != nil {
				return err
			}
			if child == nil {
				return &tkv.ErrDataCorruption{Key: ie.Key, Reason: "index references missing record " + childPath}
			}
			if child.ParentPath != parent {
				return &tkv.ErrDataCorruption{Key: ie.Key, Reason: "indexed record has parent " + child.ParentPath}
			}
			entries = append(entries, child)
		}
		return nil
	})
	if err != nil {
		return nil, classify("scan", parent, err)
	}
	return entries, nil
}
