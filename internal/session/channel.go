package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/broker"
	"github.com/socratat-b/orderbean/internal/bus"
	"github.com/socratat-b/orderbean/internal/event"
	"github.com/socratat-b/orderbean/internal/metrics"
)

// Channel is the abstract event source a session subscribes to. The two
// implementations are interchangeable: direct in-memory fan-out for
// single-instance deployments, and a polling consumer over the durable
// broker for multi-instance ones. The choice is made at process startup
// from topology configuration.
type Channel interface {
	// Subscribe starts delivering events for topics to deliver. The
	// returned stop function tears the subscription down; after it returns,
	// deliver is never invoked again. Stop is safe to call more than once.
	Subscribe(topics []event.Topic, deliver func(topic event.Topic, ev event.OrderEvent)) (stop func(), err error)
}

// BusChannel delivers via the local event bus. Zero network hop, zero
// added latency, same-instance only.
type BusChannel struct {
	Bus *bus.Bus
}

// Subscribe registers one bus handler per topic.
func (c *BusChannel) Subscribe(topics []event.Topic, deliver func(event.Topic, event.OrderEvent)) (func(), error) {
	subs := make([]*bus.Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, c.Bus.Subscribe(t, deliver))
	}
	var once sync.Once
	stop := func() {
		once.Do(func() {
			for _, s := range subs {
				s.Cancel()
			}
		})
	}
	return stop, nil
}

// BrokerChannel polls the durable broker on a fixed interval. Cross-instance
// correct at the cost of up to one poll interval of added latency. Each
// subscription keeps its own cursors, starting at "latest at connect time":
// events published before the subscription are never delivered.
type BrokerChannel struct {
	Client broker.Client
	// PollInterval is the cycle period. Defaults to 2s.
	PollInterval time.Duration
	// ReadBlock bounds the blocking wait inside one Read. Defaults to 1s.
	ReadBlock time.Duration
	Logger    zerolog.Logger
}

func (c *BrokerChannel) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 2 * time.Second
}

func (c *BrokerChannel) readBlock() time.Duration {
	if c.ReadBlock > 0 {
		return c.ReadBlock
	}
	return time.Second
}

// Subscribe resolves the tail cursor for every topic stream, then polls for
// newer entries until stopped. Broker errors are logged and treated as an
// empty cycle; the next tick retries.
func (c *BrokerChannel) Subscribe(topics []event.Topic, deliver func(event.Topic, event.OrderEvent)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := c.Logger.With().Str("component", "session").Str("channel", "broker").Logger()

	streams := make([]string, len(topics))
	cursors := make([]string, len(topics))
	for i, t := range topics {
		streams[i] = string(t)
		id, err := c.Client.LatestID(ctx, streams[i])
		if err != nil {
			// start from the zero cursor; the stream may simply not exist yet
			logger.Warn().Err(err).Str("stream", streams[i]).Msg("resolve tail cursor failed")
			id = ""
		}
		cursors[i] = id
	}
	topicFor := make(map[string]event.Topic, len(topics))
	for i, t := range topics {
		topicFor[streams[i]] = t
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.pollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			entries, err := c.Client.Read(ctx, streams, cursors, broker.ReadOptions{Block: c.readBlock()})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.BrokerReadErrors.Inc()
				logger.Warn().Err(err).Msg("broker read failed, skipping cycle")
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// entries arrive in per-stream append order, so the last id
			// seen for a stream is its new cursor
			for _, e := range entries {
				for i, s := range streams {
					if s == e.Stream {
						cursors[i] = e.ID
					}
				}
				deliver(topicFor[e.Stream], e.Event)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	return stop, nil
}
