// Package stream publishes the engine's outbound events to NATS JetStream
// for downstream consumers. Publishing is best-effort: the engine has
// already persisted its state by the time an event reaches this package,
// and a failed or dropped publish never affects engine correctness.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthPerp/internal/event"
	"SynthPerp/internal/observability"
)

const (
	// StreamName is the JetStream stream carrying outbound events.
	StreamName = "SYNTHPERP_EVENTS"

	// SubjectPrefix is the common prefix of all outbound event subjects;
	// the full subject is SubjectPrefix + "." + event type.
	SubjectPrefix = "synthperp.events"
)

// Publisher buffers events from the engine and publishes them to subjects
// of the form synthperp.events.{event_type}. When the buffer is full the
// event is dropped and counted rather than blocking the engine.
type Publisher struct {
	js      jetstream.JetStream
	ch      chan event.Event
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, buffer int, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		ch:      make(chan event.Event, buffer),
		log:     log,
		metrics: metrics,
	}
}

// Publish enqueues an event without blocking.
func (p *Publisher) Publish(evt event.Event) {
	select {
	case p.ch <- evt:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.log.Warn().
			Str("event_type", string(evt.EventType())).
			Msg("publish buffer full, event dropped")
	}
}

// Run drains the buffer until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt := <-p.ch:
			if err := p.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can rebuild from engine state.
				p.log.Warn().
					Err(err).
					Str("event_type", string(evt.EventType())).
					Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", SubjectPrefix, evt.EventType())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
