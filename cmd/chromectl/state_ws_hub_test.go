package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chromectl"
	"chromectl/wire"
)

// NOTE: These tests focus on hub behavior (fanout + slow-client disconnection)
// and broadcaster coalescing without standing up a real websocket server.
//
// We intentionally avoid relying on network I/O. We construct Clients with a nil
// websocket.Conn and ensure our test paths never require actual writes.
// For slow-client eviction, the hub calls conn.Close(); nil is safe (hub guards against nil).

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, addr string, sendBuf int) *Client {
	return &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, sendBuf),
		remoteAddr: addr,
		logger:     slog.Default(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, "client not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	msg := []byte(`{"type":"snapshot","data":{"surface":"page"}}`)

	// Avoid BroadcastBytes() here because it is intentionally non-blocking and may
	// drop if the hub broadcast queue is temporarily full during scheduling.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Errorf("client %s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("client %s did not receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	<-done
}

func TestHub_SlowClientIsEvicted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	// A client whose send buffer is already full cannot accept another
	// frame; the hub must drop it rather than block the broadcast loop.
	slow := newTestClient(hub, "slow", 1)
	slow.send <- []byte("stale")
	registerAndWait(t, hub, slow)

	healthy := newTestClient(hub, "healthy", 4)
	registerAndWait(t, hub, healthy)

	hub.broadcast <- []byte(`{"type":"snapshot"}`)

	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[slow]
		return !ok
	}, "slow client not evicted")

	hub.mu.Lock()
	_, healthyStillIn := hub.clients[healthy]
	hub.mu.Unlock()
	if !healthyStillIn {
		t.Error("healthy client should survive a broadcast that evicts a slow one")
	}

	cancel()
	<-done
}

func TestBroadcaster_CoalescesSnapshotsPerSurface(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 16, 16)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	c := newTestClient(hub, "watcher", 16)
	registerAndWait(t, hub, c)

	src := make(chan wire.Message, 32)
	bcastDone := make(chan struct{})
	go func() {
		defer close(bcastDone)
		RunBroadcaster(ctx, hub, src, slog.Default())
	}()

	// A burst of snapshots for one surface within a single coalesce
	// window must reach the wire as one frame carrying the last update.
	for i := 0; i < 10; i++ {
		src <- wire.SnapshotUpdate{
			Surface:  "page",
			Snapshot: chromectl.Snapshot{Scroll: chromectl.ScrollState{OffsetPx: float64(i * 10)}},
		}
	}

	var got []byte
	select {
	case got = <-c.send:
	case <-time.After(time.Second):
		t.Fatal("no coalesced snapshot arrived")
	}
	if !strings.Contains(string(got), `"offset_px":90`) {
		t.Errorf("coalesced frame should carry the latest update, got %s", got)
	}

	// The window collapsed the burst to one frame.
	select {
	case extra := <-c.send:
		t.Errorf("expected exactly one coalesced frame, got extra: %s", extra)
	case <-time.After(3 * snapshotCoalesceWindow):
	}

	cancel()
	<-bcastDone
	<-hubDone
}

func TestBroadcaster_LifecycleEventsFlushImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 16, 16)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	c := newTestClient(hub, "watcher", 16)
	registerAndWait(t, hub, c)

	src := make(chan wire.Message, 8)
	bcastDone := make(chan struct{})
	go func() {
		defer close(bcastDone)
		RunBroadcaster(ctx, hub, src, slog.Default())
	}()

	// A pending snapshot must be flushed before the lifecycle event so a
	// watcher never sees a session end before its last state.
	src <- wire.SnapshotUpdate{Surface: "page", Snapshot: chromectl.Snapshot{}}
	src <- wire.SessionEnded{Surface: "page", SessionID: "id", Reason: "test"}

	first := receiveFrame(t, c)
	second := receiveFrame(t, c)
	if !strings.Contains(string(first), `"type":"snapshot"`) {
		t.Errorf("first frame should be the flushed snapshot, got %s", first)
	}
	if !strings.Contains(string(second), `"type":"session_ended"`) {
		t.Errorf("second frame should be the lifecycle event, got %s", second)
	}

	cancel()
	<-bcastDone
	<-hubDone
}

func receiveFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame arrived")
		return nil
	}
}
