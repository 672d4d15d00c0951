package tkv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
)

const ValuesDirName = "values"

type tkv struct {
	logger *slog.Logger
	db     *data
}

var _ TKV = &tkv{}

func New(config Config) (TKV, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var dbOpts badger.Options
	if config.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		valuesDir := filepath.Join(config.Directory, ValuesDirName)
		if err := os.MkdirAll(valuesDir, 0755); err != nil {
			return nil, &ErrInternal{Err: err}
		}
		dbOpts = badger.DefaultOptions(valuesDir)
	}

	dbOpts = dbOpts.
		WithLogger(newLogger(config.Logger.WithGroup("store"))).
		WithMemTableSize(16 << 20) // 16MB MemTableSize
	dbOpts = withBadgerLevel(dbOpts, config.BadgerLogLevel)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	return &tkv{
		logger: config.Logger.WithGroup("tkv"),
		db:     &data{store: db},
	}, nil
}

func (t *tkv) Close() error {
	if err := t.db.store.Close(); err != nil {
		t.logger.Error("error closing store db", "error", err)
		return &ErrInternal{Err: err}
	}
	t.logger.Info("store db closed")
	return nil
}

// snapshot implements TKVReader on top of a read-only badger transaction.
type snapshot struct {
	ctx context.Context
	txn *badger.Txn
}

func (s *snapshot) Get(key string) ([]byte, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, &ErrInternal{Err: err}
	}
	item, err := s.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &ErrKeyNotFound{Key: key}
		}
		return nil, &ErrInternal{Err: err}
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}
	return value, nil
}

func (s *snapshot) Iterate(prefix string, offset int, limit int) ([]TKVBatchEntry, error) {
	it := s.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefixBytes := []byte(prefix)
	skipped := 0
	collected := 0

	var entries []TKVBatchEntry
	for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
		if err := s.ctx.Err(); err != nil {
			return nil, &ErrInternal{Err: err}
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && collected >= limit {
			break
		}
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, &ErrInternal{Err: err}
		}
		entries = append(entries, TKVBatchEntry{
			Key:   string(item.KeyCopy(nil)),
			Value: val,
		})
		collected++
	}
	return entries, nil
}

func (t *tkv) View(ctx context.Context, fn func(r TKVReader) error) error {
	if err := ctx.Err(); err != nil {
		return &ErrInternal{Err: err}
	}
	return t.db.store.View(func(txn *badger.Txn) error {
		return fn(&snapshot{ctx: ctx, txn: txn})
	})
}

func (t *tkv) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := t.View(ctx, func(r TKVReader) error {
		var err error
		value, err = r.Get(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *tkv) Iterate(ctx context.Context, prefix string, offset int, limit int) ([]TKVBatchEntry, error) {
	var entries []TKVBatchEntry
	err := t.View(ctx, func(r TKVReader) error {
		var err error
		entries, err = r.Iterate(prefix, offset, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *tkv) Set(ctx context.Context, key string, value []byte) error {
	return t.Apply(ctx, []TKVBatchEntry{{Key: key, Value: value}}, nil)
}

func (t *tkv) Delete(ctx context.Context, key string) error {
	return t.Apply(ctx, nil, []string{key})
}

func (t *tkv) Apply(ctx context.Context, sets []TKVBatchEntry, deletes []string) error {
	if len(sets) == 0 && len(deletes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &ErrInternal{Err: err}
	}

	err := t.db.store.Update(func(txn *badger.Txn) error {
		for _, key := range deletes {
			if key == "" {
				t.logger.Warn("Apply encountered an empty delete key, skipping.")
				continue
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return fmt.Errorf("failed to delete key '%s': %w", key, err)
			}
		}
		for _, entry := range sets {
			if entry.Key == "" {
				t.logger.Warn("Apply encountered an entry with an empty key, skipping.")
				continue
			}
			if err := txn.Set([]byte(entry.Key), entry.Value); err != nil {
				return fmt.Errorf("failed to set key '%s': %w", entry.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return &ErrInternal{Err: err}
	}
	return nil
}
