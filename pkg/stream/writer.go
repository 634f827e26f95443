package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// Writer unparses records to one output. Each record is unparsed into a
// scratch buffer first, so a failed record never leaves partial bytes in the
// output. It is not safe for concurrent use.
type Writer struct {
	proc   engine.Processor
	schema *record.Schema
	w      io.Writer
	opts   Options

	buf     bytes.Buffer
	count   int
	failed  int
	ignored int
}

// NewWriter creates a writer to w
func NewWriter(proc engine.Processor, schema *record.Schema, w io.Writer, opts Options) *Writer {
	return &Writer{
		proc:   proc,
		schema: schema,
		w:      w,
		opts:   opts.withDefaults(),
	}
}

// Write unparses one record. In Off mode only the first record is written
// and later ones are ignored. In BestEffort mode a failing record is logged
// and skipped; otherwise its error is returned.
func (w *Writer) Write(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.opts.Mode == Off && w.count > 0 {
		w.ignored++
		w.opts.Logger.Warn("Stream mode is off, ignoring record after the first",
			zap.Int("ignored", w.ignored))
		return nil
	}

	err := w.unparse(rec)
	if err == nil {
		if _, err := w.w.Write(w.buf.Bytes()); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		w.count++
		return nil
	}
	if w.opts.Mode == BestEffort && perRecord(err) {
		w.failed++
		w.opts.Logger.Warn("Discarding record that failed to unparse",
			zap.Error(err),
			zap.Int("written", w.count))
		return nil
	}
	return err
}

func (w *Writer) unparse(rec *record.Record) error {
	w.buf.Reset()
	node, err := w.opts.Mapper.ToInfoset(w.schema, rec)
	if err != nil {
		return err
	}
	res := w.proc.Unparse(node, &w.buf)
	if res.IsError {
		return &EngineError{Op: "unparse", BitPosition: int64(w.buf.Len()) * 8, Diagnostics: res.Diagnostics}
	}
	return nil
}

// Count returns how many records were written
func (w *Writer) Count() int { return w.count }

// Failed returns how many records were discarded
func (w *Writer) Failed() int { return w.failed }

// Ignored returns how many records Off mode ignored
func (w *Writer) Ignored() int { return w.ignored }

// WriteAll writes every record and returns how many were written
func WriteAll(ctx context.Context, w *Writer, records []*record.Record) (int, error) {
	for _, rec := range records {
		if err := w.Write(ctx, rec); err != nil {
			return w.count, err
		}
	}
	return w.count, nil
}
