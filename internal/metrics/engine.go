package metrics

import (
	"context"
	"time"

	"github.com/InsulaLabs/hmacfs/db/engine"
	"github.com/InsulaLabs/hmacfs/pkg/models"
)

// InstrumentEngine wraps an engine so every call is timed and counted.
func InstrumentEngine(e engine.Engine) engine.Engine {
	return &instrumentedEngine{next: e}
}

type instrumentedEngine struct {
	next engine.Engine
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case engine.IsCorruption(err):
		return "corruption"
	default:
		return "transient"
	}
}

func (ie *instrumentedEngine) Get(ctx context.Context, path string) (*models.Entry, error) {
	start := time.Now()
	e, err := ie.next.Get(ctx, path)
	RecordEngineOperation("get", status(err), time.Since(start))
	if e != nil {
		RecordContentRead(e.Size)
	}
	return e, err
}

func (ie *instrumentedEngine) Put(ctx context.Context, e *models.Entry) error {
	start := time.Now()
	err := ie.next.Put(ctx, e)
	RecordEngineOperation("put", status(err), time.Since(start))
	if err == nil {
		RecordContentWritten(e.Size)
	}
	return err
}

func (ie *instrumentedEngine) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := ie.next.Delete(ctx, path)
	RecordEngineOperation("delete", status(err), time.Since(start))
	return err
}

func (ie *instrumentedEngine) ScanByParent(ctx context.Context, parent string) ([]*models.Entry, error) {
	start := time.Now()
	entries, err := ie.next.ScanByParent(ctx, parent)
	RecordEngineOperation("scan", status(err), time.Since(start))
	return entries, err
}

func (ie *instrumentedEngine) Close() error {
	return ie.next.Close()
}
