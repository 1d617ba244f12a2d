// Package sse is the client side of the streaming endpoints: it opens a
// text/event-stream connection, decodes envelope frames, and reconnects with
// exponential backoff when the connection drops. Each reconnect is a fresh
// subscription on the server, so events emitted while disconnected are not
// replayed.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/event"
)

// Backoff shapes the reconnect delay: base * factor^(attempt-1), capped,
// with optional jitter drawing uniformly from [delay/2, delay].
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Jitter bool
	// MaxAttempts bounds consecutive failed connects. Zero means retry
	// forever.
	MaxAttempts int
}

// DefaultBackoff reconnects forever: 1s base doubling to a 30s cap, with
// jitter so a fleet of clients does not reconnect in lockstep.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 30 * time.Second, Factor: 2.0, Jitter: true}
}

func (b Backoff) delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 2.0
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if b.Cap > 0 && time.Duration(d) >= b.Cap {
			d = float64(b.Cap)
			break
		}
	}
	out := time.Duration(d)
	if b.Cap > 0 && out > b.Cap {
		out = b.Cap
	}
	if b.Jitter {
		half := out / 2
		out = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return out
}

// Options configures a stream.
type Options struct {
	// Header is attached to every connect attempt, typically Authorization.
	Header http.Header
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	Backoff    Backoff
	// OnEvent receives every decoded frame, including the `connected`
	// handshake. Called from the stream's goroutine.
	OnEvent func(env event.Envelope)
	// OnStateChange fires on connect (connected=true, err=nil) and on
	// disconnect (connected=false with the triggering error). Optional.
	OnStateChange func(connected bool, err error)
	Logger        zerolog.Logger
}

// ErrMaxAttempts reports that the backoff budget ran out.
var ErrMaxAttempts = errors.New("sse: max reconnect attempts reached")

// Stream is a live subscription handle.
type Stream struct {
	endpoint string
	opts     Options
	client   *http.Client
	logger   zerolog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	closed atomic.Bool
	// inCallback is set by the run goroutine around callback invocations so
	// a reentrant Close can skip waiting on itself.
	inCallback atomic.Bool
}

// Open starts the stream and returns immediately; frames arrive on
// opts.OnEvent until Close. The first connect happens asynchronously too,
// so a server that is briefly down at startup is just a reconnect case.
func Open(ctx context.Context, endpoint string, opts Options) (*Stream, error) {
	if opts.OnEvent == nil {
		return nil, errors.New("sse: OnEvent is required")
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		endpoint: endpoint,
		opts:     opts,
		client:   client,
		logger:   opts.Logger.With().Str("component", "sse-client").Logger(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(sctx)
	return s, nil
}

// Close tears the stream down. Idempotent, and safe to call from inside a
// callback: no new callback begins after Close returns; a callback that
// Close itself was called from simply finishes.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	// waiting here would deadlock when Close is called from the callback
	// the run goroutine is currently inside
	if s.inCallback.Load() {
		return
	}
	<-s.done
}

// emit invokes a callback unless the stream is closed.
func (s *Stream) emit(fn func()) {
	if s.closed.Load() {
		return
	}
	s.inCallback.Store(true)
	fn()
	s.inCallback.Store(false)
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempt++
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// the connection was live; start the backoff ladder over
			attempt = 0
			err = errors.New("sse: connection closed")
		}
		if s.opts.OnStateChange != nil {
			cbErr := err
			s.emit(func() { s.opts.OnStateChange(false, cbErr) })
		}
		if s.opts.Backoff.MaxAttempts > 0 && attempt >= s.opts.Backoff.MaxAttempts {
			if s.opts.OnStateChange != nil {
				s.emit(func() { s.opts.OnStateChange(false, ErrMaxAttempts) })
			}
			return
		}
		d := s.opts.Backoff.delay(attempt)
		s.logger.Debug().Err(err).Dur("retry_in", d).Msg("stream disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

// connectOnce dials the endpoint and pumps frames until the connection
// fails. A nil return means the connection was established and later
// dropped; a non-nil return means the connect attempt itself failed.
func (s *Stream) connectOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return err
	}
	for k, vs := range s.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sse: server returned %d", resp.StatusCode)
	}

	if s.opts.OnStateChange != nil {
		s.emit(func() { s.opts.OnStateChange(true, nil) })
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			// blank separators and keepalive comments
		case strings.HasPrefix(line, "data: "):
			var env event.Envelope
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
				s.logger.Warn().Err(err).Str("line", line).Msg("malformed frame dropped")
				continue
			}
			s.emit(func() { s.opts.OnEvent(env) })
		default:
			s.logger.Debug().Str("line", line).Msg("unrecognized frame line dropped")
		}
	}
	return nil
}
