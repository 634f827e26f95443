// Package processor runs whole parse and unparse operations: it resolves the
// compiled artifact from the cache, drives the stream over the request input
// and routes the outcome to success or failure.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/dfdlrecord/pkg/cache"
	"github.com/wehubfusion/dfdlrecord/pkg/config"
	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	sdkerrors "github.com/wehubfusion/dfdlrecord/pkg/errors"
	"github.com/wehubfusion/dfdlrecord/pkg/mapper"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
	"github.com/wehubfusion/dfdlrecord/pkg/stream"
)

// Routes
const (
	RouteSuccess = "success"
	RouteFailure = "failure"
)

// Output mime types
const (
	MimeJSON        = "application/json"
	MimeOctetStream = "application/octet-stream"
)

// Request is the input of one operation
type Request struct {
	Settings *config.Settings

	// Input is the data to parse, or the JSON records to unparse
	Input io.Reader

	// Variables are bound for this operation only, on top of the variables
	// the cached processor was compiled with
	Variables map[string]string

	// Schema overrides the record schema inferred from the compiled schema
	Schema *record.Schema
}

// ParseResult is the outcome of Parse
type ParseResult struct {
	Route    string
	MimeType string
	Records  []*record.Record
	JSON     []byte
	Failed   int
}

// UnparseResult is the outcome of Unparse
type UnparseResult struct {
	Route    string
	MimeType string
	Data     []byte
	Count    int
	Failed   int
	Ignored  int
}

// Processor is safe for concurrent use. Every operation has its own reader or
// writer; only the cache is shared.
type Processor struct {
	cache  *cache.Cache
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates a processor backed by c
func New(c *cache.Cache, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cache:  c,
		logger: logger,
		tracer: otel.Tracer("dfdlrecord/processor"),
	}
}

// Parse parses the request input into records. On failure the result is
// routed to failure, carries no records and the error is returned.
func (p *Processor) Parse(ctx context.Context, req Request) (*ParseResult, error) {
	ctx, span := p.tracer.Start(ctx, "processor.parse")
	defer span.End()

	fail := func(err error) (*ParseResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("Parse failed",
			zap.String("route", RouteFailure),
			zap.String("code", sdkerrors.Code(err)),
			zap.Error(err))
		return &ParseResult{Route: RouteFailure}, err
	}

	proc, schema, err := p.prepare(ctx, span, req)
	if err != nil {
		return fail(err)
	}

	reader := stream.NewReader(proc, schema, req.Input, p.streamOptions(req.Settings))
	records, err := stream.ReadAll(ctx, reader)
	if err != nil {
		return fail(err)
	}
	out, err := record.MarshalRecords(records)
	if err != nil {
		return fail(sdkerrors.NewError(sdkerrors.CodeIO, "encoding records", err))
	}

	span.SetAttributes(
		attribute.Int("records.count", len(records)),
		attribute.Int("records.failed", reader.Failed()),
		attribute.Int64("bits.consumed", reader.BitPosition()),
	)
	span.SetStatus(codes.Ok, "parsed")
	p.logger.Info("Parsed records",
		zap.String("schema", req.Settings.SchemaRef),
		zap.Int("records", len(records)),
		zap.Int("failed", reader.Failed()),
		zap.Int64("bits", reader.BitPosition()))

	return &ParseResult{
		Route:    RouteSuccess,
		MimeType: MimeJSON,
		Records:  records,
		JSON:     out,
		Failed:   reader.Failed(),
	}, nil
}

// Unparse writes the JSON records of the request input as data. On failure
// the result is routed to failure and carries no data.
func (p *Processor) Unparse(ctx context.Context, req Request) (*UnparseResult, error) {
	ctx, span := p.tracer.Start(ctx, "processor.unparse")
	defer span.End()

	fail := func(err error) (*UnparseResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("Unparse failed",
			zap.String("route", RouteFailure),
			zap.String("code", sdkerrors.Code(err)),
			zap.Error(err))
		return &UnparseResult{Route: RouteFailure}, err
	}

	proc, schema, err := p.prepare(ctx, span, req)
	if err != nil {
		return fail(err)
	}

	data, err := io.ReadAll(req.Input)
	if err != nil {
		return fail(sdkerrors.NewError(sdkerrors.CodeIO, "reading records", err))
	}
	records, err := DecodeRecords(data)
	if err != nil {
		return fail(err)
	}

	var buf bytes.Buffer
	writer := stream.NewWriter(proc, schema, &buf, p.streamOptions(req.Settings))
	count, err := stream.WriteAll(ctx, writer, records)
	if err != nil {
		return fail(err)
	}

	span.SetAttributes(
		attribute.Int("records.count", count),
		attribute.Int("records.failed", writer.Failed()),
		attribute.Int("records.ignored", writer.Ignored()),
	)
	span.SetStatus(codes.Ok, "unparsed")
	p.logger.Info("Unparsed records",
		zap.String("schema", req.Settings.SchemaRef),
		zap.Int("records", count),
		zap.Int("failed", writer.Failed()),
		zap.Int("bytes", buf.Len()))

	return &UnparseResult{
		Route:    RouteSuccess,
		MimeType: MimeOctetStream,
		Data:     buf.Bytes(),
		Count:    count,
		Failed:   writer.Failed(),
		Ignored:  writer.Ignored(),
	}, nil
}

// prepare resolves the processor and record schema for a request
func (p *Processor) prepare(ctx context.Context, span trace.Span, req Request) (engine.Processor, *record.Schema, error) {
	if req.Settings == nil {
		return nil, nil, sdkerrors.InvalidRequest("settings are required", nil)
	}
	if req.Input == nil {
		return nil, nil, sdkerrors.InvalidRequest("input is required", nil)
	}
	span.SetAttributes(
		attribute.String("schema.ref", req.Settings.SchemaRef),
		attribute.String("stream.mode", req.Settings.StreamMode.String()),
		attribute.Int("variables.count", len(req.Variables)),
	)

	artifact, err := p.cache.Get(ctx, req.Settings.Key())
	if err != nil {
		return nil, nil, err
	}
	proc, err := artifact.WithVariables(req.Variables)
	if err != nil {
		return nil, nil, &cache.CompileError{SchemaRef: req.Settings.SchemaRef, Err: err}
	}

	schema := req.Schema
	if schema == nil {
		schema = artifact.Schema
	}
	if schema == nil {
		return nil, nil, sdkerrors.InvalidRequest(
			fmt.Sprintf("no record schema for %s", req.Settings.SchemaRef), nil)
	}
	return proc, schema, nil
}

func (p *Processor) streamOptions(s *config.Settings) stream.Options {
	return stream.Options{
		Mode:   s.StreamMode,
		Mapper: mapper.New(mapper.Options{CoerceTypes: s.CoerceTypes}),
		Logger: p.logger.With(zap.String("schema", s.SchemaRef)),
	}
}

// DecodeRecords converts JSON records into host records. Field order follows
// the sorted keys; the mapper walks records by schema so order is not
// significant.
func DecodeRecords(data []byte) ([]*record.Record, error) {
	objects, err := record.ParseJSONRecords(data)
	if err != nil {
		return nil, sdkerrors.InvalidRequest("decoding records", err)
	}
	out := make([]*record.Record, 0, len(objects))
	for _, m := range objects {
		rec := record.New(nil)
		for _, k := range slices.Sorted(maps.Keys(m)) {
			rec.Set(k, m[k])
		}
		out = append(out, rec)
	}
	return out, nil
}
