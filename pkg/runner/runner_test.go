package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/dfdlrecord/pkg/cache"
	"github.com/wehubfusion/dfdlrecord/pkg/config"
	"github.com/wehubfusion/dfdlrecord/pkg/engine/enginetest"
	sdkerrors "github.com/wehubfusion/dfdlrecord/pkg/errors"
	"github.com/wehubfusion/dfdlrecord/pkg/processor"
	"github.com/wehubfusion/dfdlrecord/pkg/storage"
)

type mockDelivery struct {
	data   []byte
	acked  atomic.Int32
	naked  atomic.Int32
	termed atomic.Int32
}

func (d *mockDelivery) Data() []byte        { return d.data }
func (d *mockDelivery) Header() nats.Header { return nil }

func (d *mockDelivery) Ack() error {
	d.acked.Add(1)
	return nil
}

func (d *mockDelivery) Nak() error {
	d.naked.Add(1)
	return nil
}

func (d *mockDelivery) Term() error {
	d.termed.Add(1)
	return nil
}

func (d *mockDelivery) settled() bool {
	return d.acked.Load()+d.naked.Load()+d.termed.Load() > 0
}

type mockSub struct {
	mu    sync.Mutex
	queue []Delivery
}

func (s *mockSub) Unsubscribe() error { return nil }

func (s *mockSub) Fetch(batch int, _ ...nats.PullOpt) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nats.ErrTimeout
	}
	n := min(batch, len(s.queue))
	out := s.queue[:n]
	s.queue = s.queue[n:]
	return out, nil
}

type published struct {
	subject string
	msgID   string
	data    []byte
}

type mockJS struct {
	mu            sync.Mutex
	streams       map[string]*nats.StreamConfig
	consumers     map[string]*nats.ConsumerConfig
	published     []published
	publishErrors int
	sub           *mockSub
}

func newMockJS() *mockJS {
	return &mockJS{
		streams:   make(map[string]*nats.StreamConfig),
		consumers: make(map[string]*nats.ConsumerConfig),
		sub:       &mockSub{},
	}
}

func (m *mockJS) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErrors > 0 {
		m.publishErrors--
		return nil, errors.New("nats: timeout")
	}
	id := msg.Header.Get(nats.MsgIdHdr)
	for i, p := range m.published {
		if id != "" && p.msgID == id {
			return &nats.PubAck{Stream: "DFDL", Sequence: uint64(i + 1), Duplicate: true}, nil
		}
	}
	m.published = append(m.published, published{subject: msg.Subject, msgID: id, data: msg.Data})
	return &nats.PubAck{Stream: "DFDL", Sequence: uint64(len(m.published))}, nil
}

func (m *mockJS) PullSubscribe(string, string, ...nats.SubOpt) (JSSubscription, error) {
	return m.sub, nil
}

func (m *mockJS) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (m *mockJS) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (m *mockJS) ConsumerInfo(stream, consumer string, _ ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.consumers[stream+"/"+consumer]
	if !ok {
		return nil, nats.ErrConsumerNotFound
	}
	return &nats.ConsumerInfo{Stream: stream, Name: consumer, Config: *cfg}, nil
}

func (m *mockJS) AddConsumer(stream string, cfg *nats.ConsumerConfig, _ ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[stream+"/"+cfg.Durable] = cfg
	return &nats.ConsumerInfo{Stream: stream, Name: cfg.Durable, Config: *cfg}, nil
}

func (m *mockJS) results(t *testing.T) []*Result {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Result, 0, len(m.published))
	for _, p := range m.published {
		assert.Equal(t, "DFDL.results", p.subject)
		res, err := DecodeResult(p.data)
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

type fixture struct {
	js     *mockJS
	store  *storage.MemoryStore
	runner *Runner
	events *atomic.Int32
}

func newFixture(t *testing.T, inlineLimit int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sources := map[string][]byte{
		"schemas/digits.json": enginetest.DigitsSource(),
		"schemas/empty.json":  enginetest.Source(enginetest.GrammarEmpty, `{"name": "e", "fields": [{"name": "value", "type": "STRING", "optional": true}]}`, nil),
	}
	for path, src := range sources {
		_, err := store.Upload(ctx, path, src, processor.MimeJSON, nil)
		require.NoError(t, err)
	}

	b := &cache.Builder{Compiler: enginetest.New(), Sources: store}
	c, err := cache.New(cache.Config{Size: 4}, b.Build)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	js := newMockJS()
	cfg := DefaultConfig("DFDL", "dfdl-workers")
	cfg.NumWorkers = 2
	cfg.ProcessTimeout = 5 * time.Second
	cfg.PublishRetryDelay = time.Millisecond
	cfg.Properties = config.Properties{
		config.PropSchemaFile:  "blob://schemas/digits.json",
		config.PropStreamMode:  "best-effort",
		config.PropCoerceTypes: "true",
	}

	r, err := NewRunner(js, processor.New(c, zap.NewNop()), storage.NewPayloads(store, inlineLimit), cfg, zap.NewNop())
	require.NoError(t, err)
	r.idleWait = 5 * time.Millisecond

	events := &atomic.Int32{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			events.Add(1)
			return nil
		},
	})
	require.NoError(t, err)
	r.hub = sentry.NewHub(client, sentry.NewScope())

	return &fixture{js: js, store: store, runner: r, events: events}
}

func (f *fixture) enqueue(t *testing.T, jobs ...*Job) []*mockDelivery {
	t.Helper()
	var out []*mockDelivery
	f.js.sub.mu.Lock()
	defer f.js.sub.mu.Unlock()
	for _, job := range jobs {
		data, err := job.ToBytes()
		require.NoError(t, err)
		d := &mockDelivery{data: data}
		f.js.sub.queue = append(f.js.sub.queue, d)
		out = append(out, d)
	}
	return out
}

// run runs the runner until every delivery is settled
func (f *fixture) run(t *testing.T, deliveries ...*mockDelivery) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, d := range deliveries {
			if !d.settled() {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNewRunner_Validation(t *testing.T) {
	proc := processor.New(nil, nil)
	valid := DefaultConfig("DFDL", "dfdl-workers")

	tests := []struct {
		name   string
		js     JSContext
		proc   *processor.Processor
		mutate func(*Config)
	}{
		{"nil js", nil, proc, func(*Config) {}},
		{"nil processor", newMockJS(), nil, func(*Config) {}},
		{"empty stream", newMockJS(), proc, func(c *Config) { c.Stream = "" }},
		{"empty consumer", newMockJS(), proc, func(c *Config) { c.Consumer = "" }},
		{"batch size", newMockJS(), proc, func(c *Config) { c.BatchSize = 0 }},
		{"workers", newMockJS(), proc, func(c *Config) { c.NumWorkers = 0 }},
		{"timeout", newMockJS(), proc, func(c *Config) { c.ProcessTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewRunner(tt.js, tt.proc, nil, cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewRunner_EnsuresStreamAndConsumer(t *testing.T) {
	js := newMockJS()
	_, err := NewRunner(js, processor.New(nil, nil), nil, DefaultConfig("DFDL", "dfdl-workers"), nil)
	require.NoError(t, err)

	require.Contains(t, js.streams, "DFDL")
	assert.Equal(t, []string{"DFDL.*"}, js.streams["DFDL"].Subjects)
	consumer := js.consumers["DFDL/dfdl-workers"]
	require.NotNil(t, consumer)
	assert.Equal(t, "DFDL.jobs", consumer.FilterSubject)
	assert.Equal(t, 5, consumer.MaxDeliver)
	assert.Equal(t, nats.AckExplicitPolicy, consumer.AckPolicy)

	// a second runner reuses them
	_, err = NewRunner(js, processor.New(nil, nil), nil, DefaultConfig("DFDL", "dfdl-workers"), nil)
	require.NoError(t, err)
	assert.Len(t, js.streams, 1)
}

func TestRunner_ParseJob(t *testing.T) {
	f := newFixture(t, 0)
	ds := f.enqueue(t, &Job{ID: "job-1", Operation: OpParse, Payload: storage.Payload{Data: []byte("123")}})
	f.run(t, ds...)

	assert.Equal(t, int32(1), ds[0].acked.Load())
	results := f.js.results(t)
	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, processor.RouteSuccess, res.Route)
	assert.Equal(t, 3, res.Records)
	assert.NotEmpty(t, res.ID)
	require.NotNil(t, res.Payload)
	assert.Equal(t, processor.MimeJSON, res.Payload.ContentType)
	assert.JSONEq(t, `[{"value":1},{"value":2},{"value":3}]`, string(res.Payload.Data))
	assert.Equal(t, Stats{Completed: 1}, f.runner.Stats())
}

func TestRunner_UnparseJob(t *testing.T) {
	f := newFixture(t, 0)
	ds := f.enqueue(t, &Job{
		ID:         "job-2",
		Operation:  OpUnparse,
		Properties: config.Properties{config.PropStreamMode: "all-or-nothing"},
		Payload:    storage.Payload{Data: []byte(`[{"value": 4}, {"value": 2}]`)},
	})
	f.run(t, ds...)

	results := f.js.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, processor.RouteSuccess, results[0].Route)
	assert.Equal(t, 2, results[0].Records)
	assert.Equal(t, "42", string(results[0].Payload.Data))
	assert.Equal(t, processor.MimeOctetStream, results[0].Payload.ContentType)
}

func TestRunner_DataErrorRoutesToFailure(t *testing.T) {
	f := newFixture(t, 0)
	ds := f.enqueue(t, &Job{
		ID:         "job-3",
		Operation:  OpParse,
		Properties: config.Properties{config.PropStreamMode: "all-or-nothing"},
		Payload:    storage.Payload{Data: []byte("12x")},
	})
	f.run(t, ds...)

	assert.Equal(t, int32(1), ds[0].acked.Load())
	assert.Equal(t, int32(0), ds[0].naked.Load())
	results := f.js.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, processor.RouteFailure, results[0].Route)
	assert.Equal(t, sdkerrors.CodeEngine, results[0].ErrorCode)
	assert.NotEmpty(t, results[0].Error)
	assert.Nil(t, results[0].Payload)
	assert.Equal(t, int32(0), f.events.Load())
	assert.Equal(t, Stats{Failed: 1}, f.runner.Stats())
}

func TestRunner_MissingPayloadBlobIsDataError(t *testing.T) {
	f := newFixture(t, 0)
	ds := f.enqueue(t, &Job{ID: "job-4", Operation: OpParse, Payload: storage.Payload{Ref: "blob://payloads/nope"}})
	f.run(t, ds...)

	results := f.js.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, sdkerrors.CodeInvalidRequest, results[0].ErrorCode)
	assert.Equal(t, int32(1), ds[0].acked.Load())
}

func TestRunner_FatalErrorIsRedelivered(t *testing.T) {
	f := newFixture(t, 0)
	ds := f.enqueue(t, &Job{
		ID:         "job-5",
		Operation:  OpParse,
		Properties: config.Properties{config.PropSchemaFile: "blob://schemas/empty.json"},
		Payload:    storage.Payload{Data: []byte("abc")},
	})
	f.run(t, ds...)

	assert.Equal(t, int32(1), ds[0].naked.Load())
	assert.Equal(t, int32(0), ds[0].acked.Load())
	assert.Empty(t, f.js.results(t))
	assert.Equal(t, int32(1), f.events.Load())
	assert.Equal(t, Stats{Retried: 1}, f.runner.Stats())
}

func TestRunner_MalformedMessageIsTerminated(t *testing.T) {
	f := newFixture(t, 0)
	d := &mockDelivery{data: []byte(`{"operation": "compress"`)}
	f.js.sub.queue = append(f.js.sub.queue, d)
	f.run(t, d)

	assert.Equal(t, int32(1), d.termed.Load())
	assert.Empty(t, f.js.results(t))
	assert.Equal(t, Stats{Rejected: 1}, f.runner.Stats())
}

func TestRunner_LargeOutputGoesToBlobStorage(t *testing.T) {
	f := newFixture(t, 16)
	ds := f.enqueue(t, &Job{ID: "job-6", Operation: OpParse, Payload: storage.Payload{Data: []byte("123456789")}})
	f.run(t, ds...)

	results := f.js.results(t)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Payload)
	assert.Equal(t, storage.BlobScheme+storage.PayloadPath("job-6", "output"), results[0].Payload.Ref)
	assert.Nil(t, results[0].Payload.Data)

	data, err := f.store.Download(context.Background(), results[0].Payload.Ref)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"value":9}`)
	assert.Equal(t, "job-6", f.store.Metadata(results[0].Payload.Ref)["job_id"])
}

func TestRunner_PublishRetries(t *testing.T) {
	f := newFixture(t, 0)
	f.js.publishErrors = 2
	ds := f.enqueue(t, &Job{ID: "job-7", Operation: OpParse, Payload: storage.Payload{Data: []byte("1")}})
	f.run(t, ds...)

	assert.Len(t, f.js.results(t), 1)
	assert.Equal(t, int32(1), ds[0].acked.Load())
}

func TestRunner_PublishFailureIsRedelivered(t *testing.T) {
	f := newFixture(t, 0)
	f.js.publishErrors = 3
	ds := f.enqueue(t, &Job{ID: "job-8", Operation: OpParse, Payload: storage.Payload{Data: []byte("1")}})
	f.run(t, ds...)

	assert.Empty(t, f.js.results(t))
	assert.Equal(t, int32(1), ds[0].naked.Load())
	assert.Equal(t, int32(1), f.events.Load())
}

func TestRunner_ManyJobs(t *testing.T) {
	f := newFixture(t, 0)
	var jobs []*Job
	for range 25 {
		jobs = append(jobs, &Job{Operation: OpParse, Payload: storage.Payload{Data: []byte("7")}})
	}
	ds := f.enqueue(t, jobs...)
	f.run(t, ds...)

	results := f.js.results(t)
	assert.Len(t, results, 25)
	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.JobID] = true
	}
	assert.Len(t, ids, 25)
}

func TestRunner_RedeliveredJobPublishesOneResult(t *testing.T) {
	f := newFixture(t, 0)
	job := &Job{ID: "job-9", Operation: OpParse, Payload: storage.Payload{Data: []byte("12")}}
	// the first Ack was lost and JetStream delivered the job again
	ds := f.enqueue(t, job, job)
	f.run(t, ds...)

	for _, d := range ds {
		assert.Equal(t, int32(1), d.acked.Load())
	}
	results := f.js.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, "job-9", results[0].JobID)
	assert.Equal(t, ResultMsgID("job-9"), f.js.published[0].msgID)
	assert.Equal(t, int64(2), f.runner.Stats().Completed)
}

func TestDecodeJob(t *testing.T) {
	job, err := DecodeJob([]byte(`{"id": "j", "operation": "parse", "payload": {"ref": "blob://x"}, "variables": {"sep": ";"}}`))
	require.NoError(t, err)
	assert.Equal(t, OpParse, job.Operation)
	assert.Equal(t, "blob://x", job.Payload.Ref)
	assert.Equal(t, map[string]string{"sep": ";"}, job.Variables)

	for _, data := range []string{
		`not json`,
		`{"id": "j", "operation": "compress", "payload": {"ref": "blob://x"}}`,
		`{"id": "j", "operation": "parse"}`,
	} {
		_, err := DecodeJob([]byte(data))
		assert.ErrorIs(t, err, sdkerrors.ErrInvalidMessage, data)
	}
}
