// Package session owns the per-connection server side of a streaming
// subscription: the Connecting → Open → Closing → Closed state machine,
// keepalives, role/order filtering, and unconditional teardown. Reconnection
// never lives here; every physical connection is a fresh session.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/auth"
	"github.com/socratat-b/orderbean/internal/event"
	"github.com/socratat-b/orderbean/internal/metrics"
)

// State is the lifecycle position of a session. Closed is terminal.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is the outbound side of a session: a unidirectional push stream.
// The HTTP layer implements it over a text/event-stream response.
type Sink interface {
	// Send pushes one serialized event frame.
	Send(env event.Envelope) error
	// Comment pushes a comment-only keepalive frame, ignored by parsers.
	Comment(text string) error
	// Flush forces buffered frames onto the wire.
	Flush() error
	// Context is cancelled when the transport disconnects.
	Context() context.Context
}

// Options configures a session.
type Options struct {
	Principal auth.Principal
	// OrderFilter restricts delivery to one order id when non-empty
	// (customer view). Empty means unfiltered (staff/owner views).
	OrderFilter string
	// Topics the session observes. Defaults to every topic.
	Topics  []event.Topic
	Channel Channel
	// KeepaliveInterval defaults to 30s.
	KeepaliveInterval time.Duration
	// Buffer is the outbound queue length. Defaults to 256. Delivery is
	// fire-and-forget: when the queue is full the frame is dropped.
	Buffer int
	Logger zerolog.Logger
}

// Session is the server-side state machine for one connected viewer.
type Session struct {
	opts  Options
	state atomic.Int32

	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	stopCh func()
}

// New returns a session in Connecting state. The caller has already passed
// authorization; unauthorized requests never construct a session.
func New(opts Options) *Session {
	if len(opts.Topics) == 0 {
		opts.Topics = event.AllTopics()
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	s := &Session{opts: opts}
	s.state.Store(int32(StateConnecting))
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run drives the session until the transport disconnects. It pushes the
// `connected` handshake frame, subscribes to the channel, and then pumps
// events and keepalives. The final cleanup runs exactly once no matter how
// the loop exits or how many disconnect signals arrive.
func (s *Session) Run(sink Sink) error {
	logger := s.opts.Logger.With().
		Str("component", "session").
		Str("role", string(s.opts.Principal.Role)).
		Str("order_filter", s.opts.OrderFilter).
		Logger()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.state.Store(int32(StateOpen))
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()
	defer s.Close()

	if err := sink.Send(event.Connected(string(s.opts.Principal.Role))); err != nil {
		return err
	}
	_ = sink.Flush()

	out := make(chan event.Envelope, s.opts.Buffer)
	stop, err := s.opts.Channel.Subscribe(s.opts.Topics, func(topic event.Topic, ev event.OrderEvent) {
		if s.opts.OrderFilter != "" && ev.OrderID != s.opts.OrderFilter {
			return
		}
		select {
		case out <- event.EnvelopeFor(topic, ev):
		default:
			logger.Warn().Str("order_id", ev.OrderID).Msg("outbound queue full, frame dropped")
		}
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		// Close won the race before the subscription existed; tear it
		// down here since the close handler saw a nil handle
		s.mu.Unlock()
		stop()
		return nil
	}
	s.stopCh = stop
	s.mu.Unlock()

	keepalive := time.NewTicker(s.opts.KeepaliveInterval)
	defer keepalive.Stop()
	kaC := keepalive.C

	ctx := sink.Context()
	logger.Debug().Msg("session open")
	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(StateClosing))
			logger.Debug().Msg("transport disconnected")
			return nil
		case env := <-out:
			if err := sink.Send(env); err != nil {
				// connection already gone; the ctx signal follows shortly
				s.state.Store(int32(StateClosing))
				return nil
			}
			metrics.EventsDelivered.Inc()
			_ = sink.Flush()
		case <-kaC:
			if err := sink.Comment("keepalive"); err != nil {
				// push failed because the connection is gone: stop the
				// keepalive timer only, leave the rest of the session to
				// the disconnect signal
				keepalive.Stop()
				kaC = nil
				continue
			}
			_ = sink.Flush()
		}
	}
}

// Close tears the session down: the channel subscription is deregistered
// and the state moves to Closed. Idempotent; extra disconnect signals are
// no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stop := s.stopCh
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		s.state.Store(int32(StateClosed))
	})
}
