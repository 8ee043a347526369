// Package ingester consumes run event envelopes from JetStream and fans
// them out to the live manager and the event journal.
package ingester

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/batcher"
	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/live"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName = "RUN_EVENTS"
)

// streamSubjects covers every agent run lifecycle event.
var streamSubjects = []string{"swarm.run.>"}

type Ingester struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	manager *live.Manager
	batcher *batcher.Batcher
	sub     jetstream.ConsumeContext
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(natsURL string, m *live.Manager, b *batcher.Batcher) (*Ingester, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	ictx, ican := context.WithCancel(context.Background())
	ing := &Ingester{
		nc:      nc,
		js:      js,
		manager: m,
		batcher: b,
		ctx:     ictx,
		cancel:  ican,
	}

	// Give the batcher a way to publish alerts back to NATS.
	b.SetNATSPublisher(func(subject string, data []byte) error {
		return nc.Publish(subject, data)
	})

	return ing, nil
}

// Start binds to the durable consumer on the run event stream and begins
// consuming.
func (ing *Ingester) Start() error {
	ctx := context.Background()

	if err := ing.ensureStream(ctx); err != nil {
		return fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	consumerName := fmt.Sprintf("quill-%s", streamName)
	if err := ing.subscribe(ctx, consumerName); err != nil {
		return fmt.Errorf("subscribe to %s: %w", streamName, err)
	}

	slog.Info("subscribed to stream", "stream", streamName, "consumer", consumerName)
	return nil
}

func (ing *Ingester) ensureStream(ctx context.Context) error {
	// Try to get existing stream first.
	_, err := ing.js.Stream(ctx, streamName)
	if err == nil {
		return nil
	}

	// Create stream if it doesn't exist.
	_, err = ing.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  streamSubjects,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}

	slog.Info("created stream", "name", streamName, "subjects", streamSubjects)
	return nil
}

func (ing *Ingester) subscribe(ctx context.Context, consumerName string) error {
	consumer, err := ing.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ing.handleMessage(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}

	ing.sub = cc
	return nil
}

func (ing *Ingester) handleMessage(msg jetstream.Msg) {
	env, err := events.Normalize(msg.Data())
	if err != nil {
		slog.Warn("malformed envelope, skipping",
			"subject", msg.Subject(),
			"error", err,
		)
		// Ack to avoid redelivery of permanently broken messages.
		_ = msg.Ack()
		return
	}

	ing.manager.HandleEvent(ing.ctx, env)
	ing.batcher.Add(env)

	// Ack after handing off to the buffer. The durable consumer redelivers
	// if the process crashes before the batch is flushed; the run_events
	// table keys on event_id so redelivered rows are harmless.
	if err := msg.Ack(); err != nil {
		slog.Warn("failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// Publish sends a message to NATS. Shared with the snapshot and cancel
// publishers so the whole process holds one connection.
func (ing *Ingester) Publish(subject string, data []byte) error {
	return ing.nc.Publish(subject, data)
}

// Close drains the subscription and closes the NATS connection.
func (ing *Ingester) Close() {
	ing.cancel()
	if ing.sub != nil {
		ing.sub.Stop()
	}
	ing.nc.Drain()
}
