package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JSContext is the subset of JetStream the runner depends on. Tests provide
// a mock instead of a running NATS server.
type JSContext interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
}

// JSSubscription is a bound pull subscription
type JSSubscription interface {
	Unsubscribe() error
	Fetch(batch int, opts ...nats.PullOpt) ([]Delivery, error)
}

// Delivery is one delivered job message
type Delivery interface {
	Data() []byte
	Header() nats.Header
	Ack() error
	Nak() error
	Term() error
}

// WrapNATSJetStream adapts a nats.JetStreamContext to the JSContext interface
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.PublishMsg(msg, opts...)
}

func (a *natsJSAdapter) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.PullSubscribe(subj, durable, opts...)
	if err != nil {
		return nil, err
	}
	return &natsSubAdapter{sub: sub}, nil
}

func (a *natsJSAdapter) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream, opts...)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg, opts...)
}

func (a *natsJSAdapter) ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return a.js.ConsumerInfo(stream, consumer, opts...)
}

func (a *natsJSAdapter) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return a.js.AddConsumer(stream, cfg, opts...)
}

type natsSubAdapter struct {
	sub *nats.Subscription
}

func (s *natsSubAdapter) Unsubscribe() error { return s.sub.Unsubscribe() }

func (s *natsSubAdapter) Fetch(batch int, opts ...nats.PullOpt) ([]Delivery, error) {
	msgs, err := s.sub.Fetch(batch, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, natsDelivery{msg: m})
	}
	return out, nil
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d natsDelivery) Data() []byte        { return d.msg.Data }
func (d natsDelivery) Header() nats.Header { return d.msg.Header }
func (d natsDelivery) Ack() error          { return d.msg.Ack() }
func (d natsDelivery) Nak() error          { return d.msg.Nak() }
func (d natsDelivery) Term() error         { return d.msg.Term() }

// ensureStream creates the JetStream stream if it doesn't exist
func ensureStream(js JSContext, streamName string, logger *zap.Logger) error {
	streamInfo, err := js.StreamInfo(streamName)
	if err == nil {
		logger.Info("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", streamInfo.State.Msgs),
			zap.Int("consumers", streamInfo.State.Consumers))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamName, err)
	}

	logger.Info("Creating JetStream stream", zap.String("stream", streamName))
	streamConfig := &nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{fmt.Sprintf("%s.*", streamName)},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	}
	if _, err := js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", streamName, err)
	}

	logger.Info("Successfully created JetStream stream",
		zap.String("stream", streamName),
		zap.Strings("subjects", streamConfig.Subjects),
		zap.Duration("max_age", streamConfig.MaxAge),
		zap.Int64("max_msgs", streamConfig.MaxMsgs))
	return nil
}

// ensureConsumer creates the durable job consumer if it doesn't exist. The
// consumer only sees job subjects so published results are not consumed.
func ensureConsumer(js JSContext, streamName, consumerName, filterSubject string, maxDeliver int, logger *zap.Logger) error {
	consumerInfo, err := js.ConsumerInfo(streamName, consumerName)
	if err == nil {
		logger.Info("JetStream consumer already exists",
			zap.String("stream", streamName),
			zap.String("consumer", consumerName),
			zap.Uint64("pending", consumerInfo.NumPending))
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to get consumer info for '%s' in stream '%s': %w", consumerName, streamName, err)
	}

	logger.Info("Creating JetStream consumer",
		zap.String("stream", streamName),
		zap.String("consumer", consumerName))
	consumerConfig := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxAckPending: 1000,
		MaxDeliver:    maxDeliver,
	}
	if _, err := js.AddConsumer(streamName, consumerConfig); err != nil {
		return fmt.Errorf("failed to create consumer '%s' in stream '%s': %w", consumerName, streamName, err)
	}

	logger.Info("Successfully created JetStream consumer",
		zap.String("stream", streamName),
		zap.String("consumer", consumerName),
		zap.String("filter_subject", filterSubject),
		zap.Int("max_deliver", maxDeliver))
	return nil
}
