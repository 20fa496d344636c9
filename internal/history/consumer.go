package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthPerp/internal/stream"
)

const (
	consumerName = "synthperp-history"

	recordTimeout = 5 * time.Second
)

// Consumer tails the outbound event stream through a durable JetStream
// consumer and feeds every message to the Recorder. Messages use explicit
// ack; a failed write is nak'd and redelivered.
type Consumer struct {
	js  jetstream.JetStream
	rec *Recorder
	log zerolog.Logger
	cc  jetstream.ConsumeContext
}

func NewConsumer(js jetstream.JetStream, rec *Recorder, log zerolog.Logger) *Consumer {
	return &Consumer{js: js, rec: rec, log: log}
}

// Start creates the durable consumer and begins processing. It returns once
// the subscription is live; processing continues in the background until
// Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, stream.StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: stream.SubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create history consumer: %w", err)
	}

	cc, err := consumer.Consume(c.handle)
	if err != nil {
		return fmt.Errorf("consume history: %w", err)
	}
	c.cc = cc

	c.log.Info().
		Str("stream", stream.StreamName).
		Str("consumer", consumerName).
		Msg("history consumer started")
	return nil
}

func (c *Consumer) handle(msg jetstream.Msg) {
	eventType := strings.TrimPrefix(msg.Subject(), stream.SubjectPrefix+".")

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := c.rec.RecordEvent(ctx, eventType, msg.Subject(), msg.Data(), time.Now().UTC()); err != nil {
		c.log.Warn().
			Err(err).
			Str("subject", msg.Subject()).
			Msg("record event failed, will be redelivered")
		msg.Nak()
		return
	}
	msg.Ack()
}

// Stop halts message delivery. In-flight handlers finish first.
func (c *Consumer) Stop() {
	if c.cc != nil {
		c.cc.Stop()
	}
}
