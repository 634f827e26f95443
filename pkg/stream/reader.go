// Package stream drives the engine over one continuous input or output,
// producing or consuming a sequence of records under a failure policy.
package stream

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/mapper"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// Options configures a Reader or Writer
type Options struct {
	Mode   Mode
	Mapper *mapper.Mapper
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Mapper == nil {
		o.Mapper = mapper.New(mapper.Options{})
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Reader parses records from one input. It is not safe for concurrent use.
type Reader struct {
	proc   engine.Processor
	schema *record.Schema
	in     *engine.InputSource
	opts   Options

	pos      int64
	attempts int
	produced int
	failed   int
	done     bool
}

// NewReader creates a reader over r
func NewReader(proc engine.Processor, schema *record.Schema, r io.Reader, opts Options) *Reader {
	return &Reader{
		proc:   proc,
		schema: schema,
		in:     engine.NewInputSource(r),
		opts:   opts.withDefaults(),
	}
}

// Next returns the next record, or io.EOF once the input is exhausted. In
// BestEffort mode failing records are logged and skipped; any error returned
// ends the stream.
func (r *Reader) Next(ctx context.Context) (*record.Record, error) {
	for {
		if r.done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			r.done = true
			return nil, err
		}
		if r.opts.Mode == Off && r.attempts > 0 {
			r.done = true
			return nil, io.EOF
		}

		has, err := r.in.HasData()
		if err != nil {
			r.done = true
			return nil, fmt.Errorf("reading input at bit %d: %w", r.pos, err)
		}
		if !has {
			r.done = true
			return nil, io.EOF
		}

		rec, err := r.parseOne()
		if err == nil {
			r.produced++
			return rec, nil
		}
		if !r.skip(err) {
			r.done = true
			return nil, err
		}
	}
}

// parseOne runs one engine parse and maps its infoset
func (r *Reader) parseOne() (*record.Record, error) {
	r.attempts++
	prev := r.pos
	res := r.proc.Parse(r.in)
	r.pos = res.BitPosition
	consumed := r.pos - prev

	if res.IsError {
		err := &EngineError{Op: "parse", BitPosition: r.pos, Diagnostics: res.Diagnostics}
		if consumed <= 0 {
			// the next attempt would start at the same position
			r.done = true
			if r.opts.Mode == BestEffort {
				r.failed++
				r.opts.Logger.Warn("Parse failed without consuming input, ending stream",
					zap.Error(err),
					zap.Int("records", r.produced))
				return nil, io.EOF
			}
		}
		return nil, err
	}
	if consumed <= 0 {
		r.done = true
		return nil, fmt.Errorf("%w at bit %d", ErrNoProgress, r.pos)
	}
	if r.opts.Mode == Off {
		has, err := r.in.HasData()
		if err != nil {
			return nil, fmt.Errorf("reading input at bit %d: %w", r.pos, err)
		}
		if has {
			return nil, fmt.Errorf("%w: parse consumed %d bits and input remains", ErrLeftoverData, r.pos)
		}
	}
	return r.opts.Mapper.ToRecord(r.schema, res.Root)
}

// skip decides whether a failed record is discarded. Only engine and mapping
// failures are per-record.
func (r *Reader) skip(err error) bool {
	if err == io.EOF {
		return true
	}
	if r.opts.Mode != BestEffort || !perRecord(err) {
		return false
	}
	r.failed++
	r.opts.Logger.Warn("Discarding record that failed to parse",
		zap.Error(err),
		zap.Int64("bit_position", r.pos))
	return true
}

// Produced returns how many records were returned
func (r *Reader) Produced() int { return r.produced }

// Failed returns how many records were discarded
func (r *Reader) Failed() int { return r.failed }

// BitPosition returns the cumulative number of bits consumed
func (r *Reader) BitPosition() int64 { return r.pos }

// ReadAll drains a reader. On any error no records are returned.
func ReadAll(ctx context.Context, r *Reader) ([]*record.Record, error) {
	var out []*record.Record
	for {
		rec, err := r.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
