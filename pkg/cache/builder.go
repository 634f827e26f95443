package cache

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wehubfusion/dfdlrecord/pkg/concurrency"
	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/storage"
)

// Builder compiles the artifact for a key: it fetches the schema, compiles
// or reloads it and binds the key's validation mode, config file and
// external variables.
type Builder struct {
	Compiler engine.Compiler
	Sources  storage.SchemaSource

	// Limiter bounds concurrent compiles when set
	Limiter *concurrency.Limiter
	Logger  *zap.Logger
}

// Build implements BuildFunc
func (b *Builder) Build(ctx context.Context, key Key) (*Artifact, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, span := otel.Tracer("dfdlrecord/cache").Start(ctx, "cache.build")
	defer span.End()
	span.SetAttributes(
		attribute.String("schema.ref", key.SchemaRef),
		attribute.Bool("schema.precompiled", key.Precompiled),
		attribute.String("validation.mode", key.ValidationMode.String()),
	)

	if b.Limiter != nil {
		if err := b.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer b.Limiter.Release()
	}

	artifact, err := b.build(ctx, key, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "compiled")
	return artifact, nil
}

func (b *Builder) build(ctx context.Context, key Key, logger *zap.Logger) (*Artifact, error) {
	fail := func(diags engine.Diagnostics, err error) error {
		return &CompileError{SchemaRef: key.SchemaRef, Diagnostics: diags, Err: err}
	}

	source, err := b.Sources.Fetch(ctx, key.SchemaRef)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fail(nil, err)
	}
	if err != nil {
		return nil, &SourceError{SchemaRef: key.SchemaRef, Err: err}
	}

	var factory engine.ProcessorFactory
	if key.Precompiled {
		if len(key.Tunables) > 0 {
			logger.Warn("Ignoring tunables for a pre-compiled schema",
				zap.String("schema", key.SchemaRef),
				zap.Int("tunables", len(key.Tunables)))
		}
		factory, err = b.Compiler.Reload(ctx, source)
	} else {
		factory, err = b.Compiler.Compile(ctx, source, key.Tunables)
	}
	if err != nil {
		return nil, fmt.Errorf("engine failed on %s: %w", key.SchemaRef, err)
	}

	diags := factory.Diagnostics()
	LogDiagnostics(logger, key.SchemaRef, diags)
	if factory.IsError() {
		return nil, fail(diags, nil)
	}

	proc, err := factory.Processor()
	if err != nil {
		return nil, fail(diags, err)
	}
	if proc, err = proc.WithValidationMode(key.ValidationMode); err != nil {
		return nil, fail(diags, err)
	}
	if key.ConfigFile != "" {
		if proc, err = proc.WithConfigFile(key.ConfigFile); err != nil {
			return nil, fail(diags, err)
		}
	}
	if len(key.ExternalVariables) > 0 {
		if proc, err = proc.WithExternalVariables(key.ExternalVariables); err != nil {
			return nil, fail(diags, err)
		}
	}

	return &Artifact{Processor: proc, Schema: factory.RecordSchema(), Diagnostics: diags}, nil
}

// LogDiagnostics writes one line per diagnostic: errors at error level,
// everything else at warn.
func LogDiagnostics(logger *zap.Logger, schemaRef string, diags engine.Diagnostics) {
	for _, d := range diags {
		if d.IsError {
			logger.Error(d.Message, zap.String("schema", schemaRef))
		} else {
			logger.Warn(d.Message, zap.String("schema", schemaRef))
		}
	}
}
