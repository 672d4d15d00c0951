package tkv

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
)

type Config struct {
	Logger         *slog.Logger
	BadgerLogLevel slog.Level
	Directory      string
	InMemory       bool // no files are written; Directory is ignored
}

type data struct {
	store *badger.DB
}

type TKVBatchEntry struct {
	Key   string
	Value []byte
}

// TKVReader reads from a single consistent snapshot of the store.
type TKVReader interface {
	Get(key string) ([]byte, error)
	Iterate(prefix string, offset int, limit int) ([]TKVBatchEntry, error)
}

type TKVDataHandler interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Iterate(ctx context.Context, prefix string, offset int, limit int) ([]TKVBatchEntry, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error // no error if the key doesn't exist
}

type TKVTxnHandler interface {
	View(ctx context.Context, fn func(r TKVReader) error) error
	Apply(ctx context.Context, sets []TKVBatchEntry, deletes []string) error // sets and deletes commit together or not at all
}

type TKV interface {
	TKVDataHandler
	TKVTxnHandler

	Close() error
}
