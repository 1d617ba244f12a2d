package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/socratat-b/orderbean/internal/event"
)

// sseSink adapts an http response to the session sink over the
// text/event-stream framing: one `data:` line per event, comment lines for
// keepalives.
type sseSink struct {
	w http.ResponseWriter
	f http.Flusher
	r *http.Request
}

func newSSESink(w http.ResponseWriter, r *http.Request) (sseSink, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return sseSink{}, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return sseSink{w: w, f: f, r: r}, true
}

func (s sseSink) Send(env event.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "data: %s\n\n", b)
	return err
}

func (s sseSink) Comment(text string) error {
	_, err := fmt.Fprintf(s.w, ": %s\n\n", text)
	return err
}

func (s sseSink) Flush() error {
	s.f.Flush()
	return nil
}

func (s sseSink) Context() context.Context { return s.r.Context() }
