package pebblebroker

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/broker"
	"github.com/socratat-b/orderbean/internal/event"
	pebblestore "github.com/socratat-b/orderbean/internal/storage/pebble"
)

const (
	defaultReadCount = 128
	// trimSlack is how far a stream may run past its max length before a
	// trim actually deletes anything. Retention is therefore bounded by
	// maxLen+trimSlack, not exact.
	trimSlack = 16
)

// Options configures the embedded broker.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
}

type streamState struct {
	lastSeq uint64
}

// Client is a durable stream broker backed by a local Pebble store. Entry
// ids are zero-padded decimal sequences so their string order matches
// append order.
type Client struct {
	db     *pebblestore.DB
	logger zerolog.Logger

	mu      sync.Mutex
	streams map[string]*streamState
	notify  chan struct{}
	closed  bool
}

var _ broker.Client = (*Client)(nil)

// Open initializes the store and returns a ready client.
func Open(opts Options, logger zerolog.Logger) (*Client, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync})
	if err != nil {
		return nil, fmt.Errorf("pebblebroker: open store: %w", err)
	}
	return &Client{
		db:      db,
		logger:  logger.With().Str("component", "broker").Str("backend", "embedded").Logger(),
		streams: make(map[string]*streamState),
		notify:  make(chan struct{}),
	}, nil
}

// state loads (and caches) the lastSeq metadata for a stream. Caller holds mu.
func (c *Client) state(stream string) (*streamState, error) {
	if st, ok := c.streams[stream]; ok {
		return st, nil
	}
	st := &streamState{}
	meta, err := c.db.Get(keyStreamMeta(stream))
	if err == nil && len(meta) >= 8 {
		st.lastSeq = binary.BigEndian.Uint64(meta[:8])
	} else if err != nil && !pebblestore.IsNotFound(err) {
		return nil, err
	}
	c.streams[stream] = st
	return st, nil
}

func formatID(seq uint64) string { return fmt.Sprintf("%020d", seq) }

func parseID(id string) uint64 {
	if id == "" {
		return 0
	}
	seq, _ := strconv.ParseUint(id, 10, 64)
	return seq
}

// Append stores ev at the tail of stream and returns the assigned id.
func (c *Client) Append(ctx context.Context, stream string, ev event.OrderEvent) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", broker.ErrClosed
	}
	st, err := c.state(stream)
	if err != nil {
		return "", fmt.Errorf("pebblebroker: load stream %q: %w", stream, err)
	}
	seq := st.lastSeq + 1

	b := c.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyStreamEntry(stream, seq), encodeRecord(ev), nil); err != nil {
		return "", err
	}
	if err := b.Set(keyStreamMeta(stream), appendBE8(nil, seq), nil); err != nil {
		return "", err
	}
	if err := c.db.CommitBatch(ctx, b); err != nil {
		return "", fmt.Errorf("pebblebroker: commit append: %w", err)
	}
	st.lastSeq = seq

	// wake blocked readers
	close(c.notify)
	c.notify = make(chan struct{})
	return formatID(seq), nil
}

// Read returns entries strictly after the per-stream cursors, blocking up to
// opts.Block when nothing is immediately available.
func (c *Client) Read(ctx context.Context, streams []string, after []string, opts broker.ReadOptions) ([]broker.Entry, error) {
	if len(streams) != len(after) {
		return nil, fmt.Errorf("pebblebroker: %d streams but %d cursors", len(streams), len(after))
	}
	count := opts.Count
	if count <= 0 {
		count = defaultReadCount
	}
	deadline := time.Now().Add(opts.Block)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, broker.ErrClosed
		}
		wait := c.notify
		c.mu.Unlock()

		out, err := c.readOnce(streams, after, count)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 || opts.Block <= 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		case <-time.After(remaining):
			return nil, nil
		}
	}
}

func (c *Client) readOnce(streams []string, after []string, count int64) ([]broker.Entry, error) {
	var out []broker.Entry
	for i, stream := range streams {
		startSeq := parseID(after[i]) + 1
		low, hi := entryBounds(stream)
		iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
		if err != nil {
			return nil, err
		}
		n := int64(0)
		for ok := iter.SeekGE(keyStreamEntry(stream, startSeq)); ok && n < count; ok = iter.Next() {
			seq := seqFromEntryKey(iter.Key())
			ev, valid := decodeRecord(iter.Value())
			if !valid {
				c.logger.Warn().Str("stream", stream).Uint64("seq", seq).Msg("dropping corrupt entry")
				continue
			}
			out = append(out, broker.Entry{Stream: stream, ID: formatID(seq), Event: ev})
			n++
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Trim caps stream to approximately maxLen entries. Nothing is deleted until
// the stream runs past maxLen by the slack bucket; a trim then cuts back to
// exactly maxLen.
func (c *Client) Trim(ctx context.Context, stream string, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return broker.ErrClosed
	}
	c.mu.Unlock()

	low, hi := entryBounds(stream)
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return err
	}
	var total int64
	for ok := iter.First(); ok; ok = iter.Next() {
		total++
	}
	if total <= maxLen+trimSlack {
		return iter.Close()
	}

	b := c.db.NewBatch()
	excess := total - maxLen
	for ok := iter.First(); ok && excess > 0; ok = iter.Next() {
		if err := b.Delete(iter.Key(), nil); err != nil {
			_ = iter.Close()
			b.Close()
			return err
		}
		excess--
	}
	if err := iter.Close(); err != nil {
		b.Close()
		return err
	}
	defer b.Close()
	if err := c.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("pebblebroker: commit trim: %w", err)
	}
	return nil
}

// LatestID returns the id of the newest entry, or the zero cursor when the
// stream is empty.
func (c *Client) LatestID(ctx context.Context, stream string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", broker.ErrClosed
	}
	st, err := c.state(stream)
	if err != nil {
		return "", err
	}
	return formatID(st.lastSeq), nil
}

// Close releases the underlying store. Blocked readers are woken and return
// ErrClosed on their next cycle.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()
	return c.db.Close()
}
