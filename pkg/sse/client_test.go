package sse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/event"
)

func fastBackoff() Backoff {
	return Backoff{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond, Factor: 2.0}
}

type recorder struct {
	mu     sync.Mutex
	events []event.Envelope
	states []bool
	errs   []error
}

func (r *recorder) onEvent(env event.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
}

func (r *recorder) onState(connected bool, err error) {
	r.mu.Lock()
	r.states = append(r.states, connected)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() []event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Envelope, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReceivesFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"connected\",\"role\":\"STAFF\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"order_created\",\"orderId\":\"o1\",\"status\":\"PENDING\",\"timestamp\":5}\n\n")
		f.Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	rec := &recorder{}
	s, err := Open(context.Background(), ts.URL, Options{
		OnEvent: rec.onEvent,
		Backoff: fastBackoff(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	waitFor(t, func() bool { return rec.eventCount() >= 2 }, "frames never arrived")
	got := rec.snapshot()
	if got[0].Type != event.TypeConnected || got[0].Role != "STAFF" {
		t.Fatalf("handshake frame = %+v", got[0])
	}
	if got[1].Type != event.TypeOrderCreated || got[1].OrderID != "o1" || got[1].Timestamp != 5 {
		t.Fatalf("event frame = %+v", got[1])
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		connects++
		n := connects
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"connected\",\"role\":\"OWNER\"}\n\n")
		w.(http.Flusher).Flush()
		if n == 1 {
			// drop the first connection immediately after the handshake
			return
		}
		<-r.Context().Done()
	}))
	defer ts.Close()

	rec := &recorder{}
	s, err := Open(context.Background(), ts.URL, Options{
		OnEvent:       rec.onEvent,
		OnStateChange: rec.onState,
		Backoff:       fastBackoff(),
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// one handshake per physical connection
	waitFor(t, func() bool { return rec.eventCount() >= 2 }, "second handshake never arrived")
	mu.Lock()
	n := connects
	mu.Unlock()
	if n < 2 {
		t.Fatalf("connects = %d, want >= 2", n)
	}
	for _, env := range rec.snapshot() {
		if env.Type != event.TypeConnected {
			t.Fatalf("unexpected frame %+v", env)
		}
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {broken\n\n")
		fmt.Fprint(w, "data: {\"type\":\"order_updated\",\"orderId\":\"o7\",\"status\":\"READY\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	rec := &recorder{}
	s, err := Open(context.Background(), ts.URL, Options{
		OnEvent: rec.onEvent,
		Backoff: fastBackoff(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	waitFor(t, func() bool { return rec.eventCount() >= 1 }, "valid frame never arrived")
	got := rec.snapshot()
	if got[0].Type != event.TypeOrderUpdated || got[0].OrderID != "o7" {
		t.Fatalf("frame = %+v", got[0])
	}
}

func TestMaxAttemptsStopsRetrying(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	rec := &recorder{}
	b := fastBackoff()
	b.MaxAttempts = 3
	s, err := Open(context.Background(), ts.URL, Options{
		OnEvent:       rec.onEvent,
		OnStateChange: rec.onState,
		Backoff:       b,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, e := range rec.errs {
			if e == ErrMaxAttempts {
				return true
			}
		}
		return false
	}, "never gave up")
}

func TestCloseFromCallbackReturns(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "data: {\"type\":\"order_updated\",\"orderId\":\"o%d\"}\n\n", i); err != nil {
				return
			}
			f.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer ts.Close()

	rec := &recorder{}
	var stream *Stream
	var once sync.Once
	ready := make(chan struct{})
	closed := make(chan struct{})
	s, err := Open(context.Background(), ts.URL, Options{
		OnEvent: func(env event.Envelope) {
			rec.onEvent(env)
			// stop after the first frame, from inside the callback
			once.Do(func() {
				<-ready
				stream.Close()
				close(closed)
			})
		},
		Backoff: fastBackoff(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	stream = s
	close(ready)
	defer s.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close called from OnEvent never returned")
	}

	// the run goroutine must still wind down, and no frames may arrive
	// after the in-callback Close returned its count
	s.Close()
	n := rec.eventCount()
	time.Sleep(50 * time.Millisecond)
	if got := rec.eventCount(); got != n {
		t.Fatalf("events after Close: %d -> %d", n, got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	rec := &recorder{}
	s, err := Open(context.Background(), ts.URL, Options{
		OnEvent: rec.onEvent,
		Backoff: fastBackoff(),
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return rec.eventCount() >= 1 }, "handshake never arrived")
	s.Close()
	s.Close()
	n := rec.eventCount()
	time.Sleep(30 * time.Millisecond)
	if rec.eventCount() != n {
		t.Fatal("events delivered after Close")
	}
}

func TestBackoffDelayLadder(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2.0}
	wants := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, want := range wants {
		if got := b.delay(i + 1); got != want*time.Millisecond {
			t.Errorf("delay(%d) = %v, want %v", i+1, got, want*time.Millisecond)
		}
	}

	j := Backoff{Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2.0, Jitter: true}
	for i := 0; i < 50; i++ {
		d := j.delay(3)
		if d < 200*time.Millisecond || d > 400*time.Millisecond {
			t.Fatalf("jittered delay(3) = %v, outside [200ms, 400ms]", d)
		}
	}
}
