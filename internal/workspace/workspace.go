// Package workspace owns the dataset currently bound to a session.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/queryhub-go/internal/dataset"
	"github.com/comigor/queryhub-go/internal/engine"
	"github.com/comigor/queryhub-go/internal/logger"
	"github.com/comigor/queryhub-go/internal/metrics"
)

var (
	// ErrNoDataset is returned by Acquire before the first successful Load.
	ErrNoDataset = errors.New("no dataset loaded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workspace closed")
)

// Options configures ingestion and schema extraction.
type Options struct {
	TableName    string
	MaxBytes     int64
	Delimiter    rune
	SampleValues int
	SampleRows   int
}

// Binding is one loaded dataset together with its schema and engine table.
// A binding is immutable; loading a new dataset replaces it.
type Binding struct {
	ID      uuid.UUID
	Dataset *dataset.Dataset
	Schema  *dataset.Schema
	Table   *engine.Table

	refs    int
	retired bool
	ws      *Workspace
}

// Release drops the reference taken by Acquire.
func (b *Binding) Release() {
	b.ws.mu.Lock()
	b.refs--
	closeNow := b.retired && b.refs == 0
	b.ws.mu.Unlock()
	if closeNow {
		b.close()
	}
}

func (b *Binding) close() {
	if err := b.Table.Close(); err != nil {
		logger.L.Warn("failed to close dataset table", "dataset_id", b.ID, "error", err)
	}
}

// Workspace is safe for concurrent use. Requests see the binding that was
// current when they called Acquire, even if a new dataset is loaded meanwhile.
type Workspace struct {
	opts Options

	loadMu sync.Mutex
	mu     sync.Mutex
	cur    *Binding
	closed bool
}

func New(opts Options) *Workspace {
	return &Workspace{opts: opts}
}

// Load ingests r, builds its engine table and makes it the active dataset.
// On error the previous binding stays active.
func (w *Workspace) Load(ctx context.Context, name string, r io.Reader) (*dataset.Schema, error) {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()

	b, err := w.build(ctx, name, r)
	metrics.ObserveDatasetLoad(err)
	if err != nil {
		logger.L.Error("dataset load failed", "name", name, "error", err)
		return nil, err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		b.close()
		return nil, ErrClosed
	}
	prev := w.cur
	w.cur = b
	closePrev := prev != nil && w.retire(prev)
	w.mu.Unlock()

	if closePrev {
		prev.close()
	}
	logger.L.Info("dataset loaded",
		"dataset_id", b.ID,
		"name", name,
		"rows", b.Schema.RowCount,
		"columns", len(b.Schema.Columns),
	)
	return b.Schema, nil
}

func (w *Workspace) build(ctx context.Context, name string, r io.Reader) (*Binding, error) {
	start := time.Now()
	ds, err := dataset.Load(r, dataset.LoadOptions{
		Name:      name,
		MaxBytes:  w.opts.MaxBytes,
		Delimiter: w.opts.Delimiter,
	})
	if err != nil {
		return nil, err
	}
	schema := dataset.ExtractSchema(ds, dataset.SchemaOptions{
		TableName:    w.opts.TableName,
		SampleValues: w.opts.SampleValues,
		SampleRows:   w.opts.SampleRows,
	})
	metrics.ObserveStage("schema", time.Since(start))

	table, err := engine.Open(ctx, ds, schema)
	if err != nil {
		return nil, fmt.Errorf("register dataset: %w", err)
	}
	return &Binding{
		ID:      uuid.New(),
		Dataset: ds,
		Schema:  schema,
		Table:   table,
		ws:      w,
	}, nil
}

// retire marks b replaced and reports whether it can be closed immediately.
// Callers hold w.mu.
func (w *Workspace) retire(b *Binding) bool {
	b.retired = true
	return b.refs == 0
}

// Acquire returns the active binding with a reference held. Callers must
// Release it.
func (w *Workspace) Acquire() (*Binding, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if w.cur == nil {
		return nil, ErrNoDataset
	}
	w.cur.refs++
	return w.cur, nil
}

// Schema returns the active schema without holding a reference.
func (w *Workspace) Schema() (*dataset.Schema, error) {
	b, err := w.Acquire()
	if err != nil {
		return nil, err
	}
	defer b.Release()
	return b.Schema, nil
}

// Close releases the active dataset once in-flight requests finish.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	cur := w.cur
	w.cur = nil
	closeNow := cur != nil && w.retire(cur)
	w.mu.Unlock()

	if closeNow {
		cur.close()
	}
	return nil
}
