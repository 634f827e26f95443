// Package runner consumes parse and unparse jobs from a NATS JetStream
// consumer. Jobs are pulled in batches, processed by a pool of workers and
// answered with a result message on the result subject.
//
// A job that fails because of its data is answered with a failure result and
// acknowledged. A job that fails fatally is reported to Sentry when it is
// configured and negatively acknowledged so JetStream redelivers it, up to
// MaxDeliver times.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	internaltracing "github.com/wehubfusion/dfdlrecord/internal/tracing"
	"github.com/wehubfusion/dfdlrecord/pkg/concurrency"
	"github.com/wehubfusion/dfdlrecord/pkg/config"
	sdkerrors "github.com/wehubfusion/dfdlrecord/pkg/errors"
	"github.com/wehubfusion/dfdlrecord/pkg/processor"
	"github.com/wehubfusion/dfdlrecord/pkg/storage"
)

// Config configures a Runner
type Config struct {
	Stream   string
	Consumer string

	// JobSubject and ResultSubject default to "<stream>.jobs" and
	// "<stream>.results"
	JobSubject    string
	ResultSubject string

	// BatchSize is how many jobs are pulled at once
	BatchSize      int
	NumWorkers     int
	ProcessTimeout time.Duration

	// MaxDeliver bounds redeliveries of jobs that failed fatally
	MaxDeliver        int
	PublishMaxRetries int
	PublishRetryDelay time.Duration

	// Properties are the defaults every job's properties are merged over
	Properties config.Properties

	// Tracing is optional. When set, tracing is set up by NewRunner and shut
	// down by Close.
	Tracing *TracingConfig

	// SentryDSN enables reporting of fatal job failures
	SentryDSN   string
	Environment string
}

// DefaultConfig returns a configuration sized from the concurrency settings
func DefaultConfig(stream, consumer string) Config {
	return Config{
		Stream:            stream,
		Consumer:          consumer,
		BatchSize:         10,
		NumWorkers:        concurrency.LoadConfig().RunnerWorkers,
		ProcessTimeout:    5 * time.Minute,
		MaxDeliver:        5,
		PublishMaxRetries: 3,
		PublishRetryDelay: time.Second,
	}
}

// Stats counts finished jobs
type Stats struct {
	Completed int64 // success results published
	Failed    int64 // failure results published
	Retried   int64 // fatal failures left for redelivery
	Rejected  int64 // malformed messages terminated
}

// Runner manages concurrent job processing from a NATS JetStream consumer
type Runner struct {
	js       JSContext
	proc     *processor.Processor
	payloads *storage.Payloads
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	hub      *sentry.Hub

	tracingShutdown func(context.Context) error
	fetchWait       time.Duration
	idleWait        time.Duration

	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	rejected  atomic.Int64
}

// NewRunner creates a runner and makes sure the stream and the durable
// consumer exist. A nil payloads helper keeps every payload inline.
func NewRunner(js JSContext, proc *processor.Processor, payloads *storage.Payloads, cfg Config, logger *zap.Logger) (*Runner, error) {
	if js == nil {
		return nil, errors.New("JetStream context cannot be nil")
	}
	if proc == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if cfg.Stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if cfg.Consumer == "" {
		return nil, errors.New("consumer name cannot be empty")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batchSize must be greater than 0")
	}
	if cfg.NumWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if cfg.ProcessTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JobSubject == "" {
		cfg.JobSubject = cfg.Stream + ".jobs"
	}
	if cfg.ResultSubject == "" {
		cfg.ResultSubject = cfg.Stream + ".results"
	}
	if cfg.PublishMaxRetries <= 0 {
		cfg.PublishMaxRetries = 1
	}
	if payloads == nil {
		payloads = storage.NewPayloads(nil, 0)
	}

	if err := ensureStream(js, cfg.Stream, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure stream '%s' exists: %w", cfg.Stream, err)
	}
	if err := ensureConsumer(js, cfg.Stream, cfg.Consumer, cfg.JobSubject, cfg.MaxDeliver, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure consumer '%s' exists: %w", cfg.Consumer, err)
	}

	r := &Runner{
		js:        js,
		proc:      proc,
		payloads:  payloads,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("dfdlrecord/runner"),
		fetchWait: time.Second,
		idleWait:  500 * time.Millisecond,
	}

	if cfg.Tracing != nil {
		shutdown, err := internaltracing.SetupTracing(context.Background(), cfg.Tracing.toInternalConfig(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			r.tracingShutdown = shutdown
		}
	}

	if cfg.SentryDSN != "" {
		client, err := sentry.NewClient(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("Failed to setup Sentry, continuing without error reporting", zap.Error(err))
		} else {
			r.hub = sentry.NewHub(client, sentry.NewScope())
		}
	}

	return r, nil
}

// Stats returns the job counters
func (r *Runner) Stats() Stats {
	return Stats{
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Retried:   r.retried.Load(),
		Rejected:  r.rejected.Load(),
	}
}

// Close flushes error reports and shuts tracing down
func (r *Runner) Close() error {
	if r.hub != nil {
		r.hub.Flush(2 * time.Second)
	}
	if r.tracingShutdown != nil {
		return internaltracing.ShutdownTracing(r.tracingShutdown, r.logger)
	}
	return nil
}

// Run pulls and processes jobs until ctx is cancelled. It returns after every
// worker has finished its current job.
func (r *Runner) Run(ctx context.Context) error {
	sub, err := r.js.PullSubscribe(r.cfg.JobSubject, r.cfg.Consumer, nats.Bind(r.cfg.Stream, r.cfg.Consumer))
	if err != nil {
		return fmt.Errorf("failed to bind consumer '%s': %w", r.cfg.Consumer, err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Debug("Error unsubscribing", zap.Error(err))
		}
	}()

	deliveries := make(chan Delivery, r.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, deliveries)
		}(i)
	}

	go r.pull(ctx, sub, deliveries)

	wg.Wait()
	r.logger.Info("Runner stopped", zap.Any("stats", r.Stats()))
	return ctx.Err()
}

// pull fetches batches and hands them to the workers
func (r *Runner) pull(ctx context.Context, sub JSSubscription, out chan<- Delivery) {
	defer close(out)

	const initialBackoff = 100 * time.Millisecond
	const maxBackoff = 5 * time.Second
	backoffDelay := initialBackoff

	wait := func(d time.Duration) bool {
		select {
		case <-time.After(d):
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ctx.Err() == nil {
		batch, err := sub.Fetch(r.cfg.BatchSize, nats.MaxWait(r.fetchWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if ctx.Err() != nil {
				break
			}
			r.logger.Error("Error pulling jobs", zap.Error(err), zap.Duration("backoff", backoffDelay))
			if !wait(backoffDelay) {
				break
			}
			backoffDelay = min(backoffDelay*2, maxBackoff)
			continue
		}

		if len(batch) == 0 {
			if !wait(r.idleWait) {
				break
			}
			continue
		}

		backoffDelay = initialBackoff
		for _, d := range batch {
			select {
			case out <- d:
			case <-ctx.Done():
				// undelivered jobs are redelivered after the ack wait
				return
			}
		}
	}
	r.logger.Info("Shutting down job puller")
}

func (r *Runner) worker(ctx context.Context, workerID int, in <-chan Delivery) {
	r.logger.Debug("Worker started", zap.Int("workerID", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("workerID", workerID))

	for {
		select {
		case d, ok := <-in:
			if !ok {
				return
			}
			r.processMessage(ctx, workerID, d)
		case <-ctx.Done():
			return
		}
	}
}

// processMessage runs one job and settles its delivery
func (r *Runner) processMessage(ctx context.Context, workerID int, d Delivery) {
	if h := d.Header(); h != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
	}
	ctx, span := r.tracer.Start(ctx, "runner.processJob",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("stream", r.cfg.Stream),
			attribute.String("consumer", r.cfg.Consumer),
		))
	defer span.End()

	job, err := DecodeJob(d.Data())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed job")
		r.logger.Error("Rejecting malformed job message",
			zap.Int("workerID", workerID),
			zap.Error(err))
		r.rejected.Add(1)
		if termErr := d.Term(); termErr != nil {
			r.logger.Error("Error terminating message", zap.Error(termErr))
		}
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logger := r.logger.With(
		zap.Int("workerID", workerID),
		zap.String("jobID", job.ID),
		zap.String("operation", string(job.Operation)))
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.operation", string(job.Operation)),
	)

	processCtx, cancel := context.WithTimeout(ctx, r.cfg.ProcessTimeout)
	defer cancel()

	start := time.Now()
	logger.Info("Worker processing job")
	result, err := r.execute(processCtx, job)
	processingTime := time.Since(start)
	span.SetAttributes(attribute.Int64("processing.duration_ms", processingTime.Milliseconds()))

	if sdkerrors.Classify(err) == sdkerrors.ClassFatal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Job failed, leaving it for redelivery",
			zap.String("code", sdkerrors.Code(err)),
			zap.Duration("processingTime", processingTime),
			zap.Error(err))
		r.retry(job, d, err, logger)
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routed to failure")
	} else {
		span.SetStatus(codes.Ok, "Job processed successfully")
	}

	// results are published even after the job context is done
	reportCtx, reportCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer reportCancel()
	if pubErr := r.publish(reportCtx, result, logger); pubErr != nil {
		logger.Error("Error publishing result", zap.Error(pubErr))
		r.retry(job, d, pubErr, logger)
		return
	}

	if err != nil {
		r.failed.Add(1)
		logger.Warn("Job routed to failure",
			zap.String("code", result.ErrorCode),
			zap.Duration("processingTime", processingTime),
			zap.Error(err))
	} else {
		r.completed.Add(1)
		logger.Info("Successfully processed job",
			zap.String("resultID", result.ID),
			zap.Int("records", result.Records),
			zap.Int("failed", result.Failed),
			zap.Duration("processingTime", processingTime))
	}
	if ackErr := d.Ack(); ackErr != nil {
		logger.Error("Error acking message after processing", zap.Error(ackErr))
	}
}

// execute runs the job. The returned result is routed to failure when the
// error is a data error.
func (r *Runner) execute(ctx context.Context, job *Job) (*Result, error) {
	result := &Result{ID: uuid.NewString(), JobID: job.ID, Operation: job.Operation}
	fail := func(err error) (*Result, error) {
		result.Route = processor.RouteFailure
		result.Error = err.Error()
		result.ErrorCode = sdkerrors.Code(err)
		result.CompletedAt = time.Now().UTC()
		return result, err
	}

	settings, err := r.cfg.Properties.Merge(job.Properties).Settings()
	if err != nil {
		return fail(sdkerrors.InvalidRequest("invalid job properties", err))
	}

	input, err := r.payloads.Get(ctx, job.Payload)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fail(sdkerrors.InvalidRequest("job payload not found", err))
		}
		return fail(sdkerrors.NewError(sdkerrors.CodeIO, "downloading job payload", err))
	}

	req := processor.Request{
		Settings:  settings,
		Input:     bytes.NewReader(input),
		Variables: job.Variables,
	}

	var output []byte
	var mimeType string
	switch job.Operation {
	case OpParse:
		res, err := r.proc.Parse(ctx, req)
		if err != nil {
			return fail(err)
		}
		output, mimeType = res.JSON, res.MimeType
		result.Route, result.Records, result.Failed = res.Route, len(res.Records), res.Failed
	case OpUnparse:
		res, err := r.proc.Unparse(ctx, req)
		if err != nil {
			return fail(err)
		}
		output, mimeType = res.Data, res.MimeType
		result.Route, result.Records, result.Failed = res.Route, res.Count, res.Failed
	default:
		return fail(sdkerrors.InvalidRequest(fmt.Sprintf("unknown operation %q", job.Operation), nil))
	}

	payload, err := r.payloads.Put(ctx, storage.PayloadPath(job.ID, "output"), output, mimeType, map[string]string{
		"job_id":    job.ID,
		"result_id": result.ID,
	})
	if err != nil {
		return fail(sdkerrors.NewError(sdkerrors.CodeIO, "storing job output", err))
	}
	result.Payload = &payload
	result.CompletedAt = time.Now().UTC()
	return result, nil
}

// publish sends a result, retrying with a linear backoff
func (r *Runner) publish(ctx context.Context, result *Result, logger *zap.Logger) error {
	data, err := result.ToBytes()
	if err != nil {
		return sdkerrors.NewError(sdkerrors.CodeIO, "failed to marshal result", err)
	}

	msg := nats.NewMsg(r.cfg.ResultSubject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ResultMsgID(result.JobID))

	var publishErr error
	for attempt := 1; attempt <= r.cfg.PublishMaxRetries; attempt++ {
		var ack *nats.PubAck
		ack, publishErr = r.js.PublishMsg(msg)
		if publishErr == nil {
			if ack != nil && ack.Duplicate {
				logger.Info("Result already published, dropped as duplicate",
					zap.String("msg_id", ResultMsgID(result.JobID)))
			}
			return nil
		}
		if attempt == r.cfg.PublishMaxRetries {
			break
		}
		logger.Warn("Failed to publish result, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.cfg.PublishMaxRetries),
			zap.Error(publishErr))
		select {
		case <-time.After(time.Duration(attempt) * r.cfg.PublishRetryDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", sdkerrors.ErrPublishFailed, ctx.Err())
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", sdkerrors.ErrPublishFailed, r.cfg.PublishMaxRetries, publishErr)
}

// retry reports a fatal failure and asks JetStream to redeliver the job
func (r *Runner) retry(job *Job, d Delivery, err error, logger *zap.Logger) {
	r.retried.Add(1)
	r.reportFatal(job, err)
	if nakErr := d.Nak(); nakErr != nil {
		logger.Error("Error naking message after failure", zap.Error(nakErr))
	}
}

func (r *Runner) reportFatal(job *Job, err error) {
	if r.hub == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("job.id", job.ID)
		scope.SetTag("job.operation", string(job.Operation))
		scope.SetTag("error.code", sdkerrors.Code(err))
		scope.SetContext("jetstream", sentry.Context{
			"stream":   r.cfg.Stream,
			"consumer": r.cfg.Consumer,
		})
		r.hub.CaptureException(err)
	})
}
