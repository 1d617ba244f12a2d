// Package broker defines the durable stream client used for cross-instance
// event distribution: an append-only, multi-consumer log per topic with
// bounded retention. Two implementations exist: Redis Streams for shared
// external deployments, and an embedded Pebble-backed log for single-node
// ones. Reads are non-destructive; every consumer keeps its own cursor.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/socratat-b/orderbean/internal/event"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("broker: client closed")

// Entry is one stream record returned by Read, tagged with the stream it
// came from so consumers can merge multiple topics in one call.
type Entry struct {
	Stream string
	ID     string
	Event  event.OrderEvent
}

// ReadOptions bounds a Read call.
type ReadOptions struct {
	// Count caps entries returned per stream. Zero means implementation
	// default.
	Count int64
	// Block is the maximum time to wait for new entries when none are
	// immediately available. Zero or negative means return immediately.
	Block time.Duration
}

// Client is the durable stream broker contract.
//
// Entry IDs are broker-assigned, strictly increasing per stream, and opaque
// to callers: treat them as cursors to hand back to Read, not as values
// with comparable ordering.
type Client interface {
	// Append stores the flattened field set of ev at the tail of stream and
	// returns the assigned entry id.
	Append(ctx context.Context, stream string, ev event.OrderEvent) (string, error)

	// Read returns entries strictly after the per-stream cursor in after,
	// which must be parallel to streams. An empty result is not an error.
	Read(ctx context.Context, streams []string, after []string, opts ReadOptions) ([]Entry, error)

	// Trim caps the stream to approximately maxLen entries. The stream may
	// transiently hold slightly more; callers must not assume exactness.
	Trim(ctx context.Context, stream string, maxLen int64) error

	// LatestID returns the id of the newest entry in stream, or the zero
	// cursor if the stream is empty or absent. Used to start a session at
	// "latest at connect time".
	LatestID(ctx context.Context, stream string) (string, error)

	Close() error
}
