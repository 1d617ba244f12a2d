package pebblebroker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/broker"
	"github.com/socratat-b/orderbean/internal/event"
	pebblestore "github.com/socratat-b/orderbean/internal/storage/pebble"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	var prev string
	for i := 0; i < 5; i++ {
		id, err := c.Append(ctx, "order-created", event.OrderEvent{OrderID: fmt.Sprintf("o%d", i)})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %q not greater than %q", id, prev)
		}
		prev = id
	}
}

func TestReadAfterCursorNeverRedelivers(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := c.Append(ctx, "order-updated", event.OrderEvent{OrderID: fmt.Sprintf("o%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	for {
		entries, err := c.Read(ctx, []string{"order-updated"}, []string{cursor}, broker.ReadOptions{Count: 3})
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if seen[e.ID] {
				t.Fatalf("entry %s delivered twice", e.ID)
			}
			seen[e.ID] = true
			cursor = e.ID
		}
	}
	if len(seen) != 10 {
		t.Fatalf("delivered %d entries, want 10", len(seen))
	}
}

func TestReadMergesMultipleStreams(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Append(ctx, "order-created", event.OrderEvent{OrderID: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := c.Append(ctx, "order-status-changed", event.OrderEvent{OrderID: "b", Status: event.StatusReady}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := c.Read(ctx,
		[]string{"order-created", "order-status-changed"},
		[]string{"", ""},
		broker.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries across streams, got %d", len(entries))
	}
	if entries[0].Stream != "order-created" || entries[1].Stream != "order-status-changed" {
		t.Fatalf("entries not tagged by stream: %+v", entries)
	}
}

func TestRetentionBoundApproximate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	const maxLen = 100
	for i := 0; i < 150; i++ {
		if _, err := c.Append(ctx, "order-updated", event.OrderEvent{OrderID: fmt.Sprintf("o%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := c.Trim(ctx, "order-updated", maxLen); err != nil {
			t.Fatalf("trim: %v", err)
		}
	}

	entries, err := c.Read(ctx, []string{"order-updated"}, []string{""}, broker.ReadOptions{Count: 1000})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) < maxLen {
		t.Fatalf("retained %d entries, want at least %d", len(entries), maxLen)
	}
	if len(entries) > maxLen+trimSlack {
		t.Fatalf("retained %d entries, want at most %d", len(entries), maxLen+trimSlack)
	}
}

func TestBlockingReadWakesOnAppend(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	latest, err := c.LatestID(ctx, "order-created")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	done := make(chan []broker.Entry, 1)
	go func() {
		entries, err := c.Read(ctx, []string{"order-created"}, []string{latest}, broker.ReadOptions{Block: 2 * time.Second})
		if err != nil {
			t.Errorf("read: %v", err)
		}
		done <- entries
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := c.Append(ctx, "order-created", event.OrderEvent{OrderID: "o1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case entries := <-done:
		if len(entries) != 1 || entries[0].Event.OrderID != "o1" {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("blocked read did not wake on append")
	}
}

func TestBlockingReadTimesOut(t *testing.T) {
	c := newTestClient(t)
	start := time.Now()
	entries, err := c.Read(context.Background(), []string{"order-created"}, []string{""}, broker.ReadOptions{Block: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty result, got %d", len(entries))
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatalf("returned before block window elapsed")
	}
}

func TestLatestIDStartsSessionsAtTail(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Append(ctx, "order-created", event.OrderEvent{OrderID: fmt.Sprintf("old%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	latest, err := c.LatestID(ctx, "order-created")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	// nothing published before connect is visible
	entries, err := c.Read(ctx, []string{"order-created"}, []string{latest}, broker.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("events before connect leaked: %+v", entries)
	}

	if _, err := c.Append(ctx, "order-created", event.OrderEvent{OrderID: "new"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err = c.Read(ctx, []string{"order-created"}, []string{latest}, broker.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.OrderID != "new" {
		t.Fatalf("want only the new event, got %+v", entries)
	}
}

func TestLastSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	first, err := c.Append(ctx, "order-created", event.OrderEvent{OrderID: "a"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c2, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways}, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = c2.Close() })
	second, err := c2.Append(ctx, "order-created", event.OrderEvent{OrderID: "b"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if second <= first {
		t.Fatalf("sequence regressed across reopen: %s then %s", first, second)
	}
}
