// Package publisher emits order events after a mutation commits. Delivery
// is strictly best-effort: a failed publish is logged and counted, never
// surfaced to the caller, so the order mutation itself can never be rolled
// back by its own notification.
package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/broker"
	"github.com/socratat-b/orderbean/internal/bus"
	"github.com/socratat-b/orderbean/internal/event"
	"github.com/socratat-b/orderbean/internal/metrics"
)

// Publisher writes order events to the configured transports. Either target
// may be nil: single-instance deployments run bus-only, multi-instance ones
// run broker-only (optionally keeping the bus for zero-latency delivery to
// same-instance viewers).
type Publisher struct {
	bus       *bus.Bus
	broker    broker.Client
	maxLen    int64
	logger    zerolog.Logger
	appendCtx time.Duration

	// now is the event clock; tests pin it.
	now func() int64
}

// Options configures a Publisher.
type Options struct {
	Bus    *bus.Bus
	Broker broker.Client
	// StreamMaxLen caps each topic stream after append. Zero disables trims.
	StreamMaxLen int64
	// AppendTimeout bounds the broker append per publish.
	AppendTimeout time.Duration
}

// New builds a Publisher.
func New(opts Options, logger zerolog.Logger) *Publisher {
	to := opts.AppendTimeout
	if to <= 0 {
		to = 5 * time.Second
	}
	return &Publisher{
		bus:       opts.Bus,
		broker:    opts.Broker,
		maxLen:    opts.StreamMaxLen,
		appendCtx: to,
		logger:    logger.With().Str("component", "publisher").Logger(),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Publish stamps ev with the publisher's clock and delivers it on the
// topic for kind. Fire-and-forget: there is nothing for the caller to
// handle.
func (p *Publisher) Publish(ctx context.Context, kind event.Kind, ev event.OrderEvent) {
	ev.TimestampMs = p.now()
	topic := event.TopicForKind(kind)

	if p.bus != nil {
		p.bus.Publish(topic, ev)
		metrics.EventsPublished.WithLabelValues(string(topic), "bus").Inc()
	}
	if p.broker != nil {
		p.appendToBroker(ctx, topic, ev)
	}
}

func (p *Publisher) appendToBroker(ctx context.Context, topic event.Topic, ev event.OrderEvent) {
	actx, cancel := context.WithTimeout(ctx, p.appendCtx)
	defer cancel()

	stream := string(topic)
	id, err := p.broker.Append(actx, stream, ev)
	if err != nil {
		metrics.PublishErrors.Inc()
		p.logger.Error().Err(err).
			Str("stream", stream).
			Str("order_id", ev.OrderID).
			Msg("broker append failed, event dropped")
		return
	}
	metrics.EventsPublished.WithLabelValues(stream, "broker").Inc()

	if p.maxLen > 0 {
		if err := p.broker.Trim(actx, stream, p.maxLen); err != nil {
			p.logger.Warn().Err(err).Str("stream", stream).Msg("stream trim failed")
		}
	}

	p.logger.Debug().
		Str("stream", stream).
		Str("entry_id", id).
		Str("order_id", ev.OrderID).
		Str("status", string(ev.Status)).
		Msg("event appended")
}
