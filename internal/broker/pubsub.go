// Package broker relays received messages onto a NATS JetStream stream and
// reads them back.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/johndosdos/carechat/internal/model"
)

// JSPublisher is the publishing half of jetstream.JetStream.
type JSPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EnsureStream creates or updates the relay stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectAllThreads},
		MaxBytes: 1 << 30, // 1GB max storage
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return stream, nil
}

// Relay republishes messages on their thread subject. The message id is the
// JetStream dedup id, so echoes and redeliveries are stored once.
type Relay struct {
	js JSPublisher
}

func NewRelay(js JSPublisher) *Relay {
	return &Relay{js: js}
}

// Publish relays msg.
func (r *Relay) Publish(ctx context.Context, msg model.Message) error {
	_, err := Publisher(ctx, r.js, msg)
	return err
}

// Publisher relays payload and returns its stream sequence.
func Publisher(ctx context.Context, js JSPublisher, payload model.Message) (uint64, error) {
	if js == nil {
		return 0, errors.New("jetstream interface is nil")
	}
	if payload.ID == "" {
		return 0, errors.New("message has no id")
	}

	p, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("could not encode payload to JSON: %w", err)
	}

	subject := SubjectForThread(payload.ThreadID)
	pubAck, err := js.Publish(ctx, subject, p, jetstream.WithMsgID(payload.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish to stream [%s]: %w", subject, err)
	}
	slog.DebugContext(ctx, "message relayed", "subject", subject, "message_id", payload.ID, "sequence", pubAck.Sequence)

	return pubAck.Sequence, nil
}

// Subscriber consumes relayed messages matching subject until ctx ends,
// handing each to handle.
func Subscriber(ctx context.Context, stream jetstream.Stream, subject string, handle func(model.Message)) error {
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create or update consumer: %w", err)
	}

	consumeHandler := func(msg jetstream.Msg) {
		payload, err := Decode(msg.Data())
		if err != nil {
			slog.Warn("could not decode payload", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			return
		}
		_ = msg.Ack()
		handle(payload)
	}

	optErrHandler := jetstream.ConsumeErrHandler(func(cc jetstream.ConsumeContext, err error) {
		slog.Warn("consumer error", "error", err)
	})

	consumeCtx, err := consumer.Consume(consumeHandler, optErrHandler)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Drain()
	}()

	return nil
}

// Decode parses a relayed message.
func Decode(data []byte) (model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return model.Message{}, err
	}
	if msg.ID == "" || msg.ThreadID == "" {
		return model.Message{}, errors.New("relayed message is missing its id or thread id")
	}
	return msg.Normalized(), nil
}
