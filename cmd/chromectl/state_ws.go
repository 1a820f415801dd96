package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chromectl/wire"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket watchers
//   - Per-client write pumps so one slow watcher doesn't block others
//   - A broadcaster loop that reads session-emitted messages and fans out
//
// Design constraints (project architecture):
//   - Controllers own their state; watchers only ever see wire snapshots.
//   - Scroll activity produces snapshot bursts at frame rate; the
//     broadcaster coalesces them per surface (latest-wins) so the wire
//     carries at most one snapshot per surface per coalesce window.
//   - Slow clients must be disconnected if they can't keep up.
//
// Messages are JSON text frames in the wire envelope format. The initial
// messages on connect are one "snapshot" per active session, so a watcher
// renders current state before the first change arrives.
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	// Configuration
	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Avoid mutating the clients map while ranging over it.
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		// Guard against double-close by recovering (best-effort).
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait = 5 * time.Second

	// Keepalive defaults: conservative.
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// snapshotCoalesceWindow is the maximum time window during which bursty
// snapshot updates are coalesced per surface (latest-wins) before
// broadcasting to clients.
const snapshotCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (write error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Info("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Info("ws writePump exiting (ping error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			// Continue to read.
		}

		_, _, err := c.conn.ReadMessage()
		if err != nil {
			// Normal close is expected on client disconnect.
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					c.logger.Info("ws readPump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
				} else {
					c.logger.Info("ws readPump exiting (read error)", "remote_addr", c.remoteAddr, "error", err)
				}
			}

			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

var upgrader = websocket.Upgrader{
	// NOTE: If you need stricter origin checks, implement them at integration time.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a watcher, then sends the current
// snapshot of every active session so it can render before the first
// change arrives.
func handleStateWS(hub *Hub, mgr *SessionManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", "error", err)
			return
		}

		client := NewClient(hub, conn, r.RemoteAddr, logger)

		// Register client first so broadcasts can reach it.
		hub.register <- client

		// Start pumps.
		//
		// IMPORTANT:
		// Do not tie the pumps to the HTTP request context (r.Context()).
		// net/http cancels the request context when the handler returns, which would
		// prematurely stop the pumps and cause abnormal WS closures (e.g. code 1006).
		// The connection lifetime is instead managed by the hub (close/unregister) and
		// by the websocket read/write errors.
		go client.writePump(context.Background())
		go client.readPump(context.Background())

		// Initial state: one snapshot per active session. Controllers
		// publish snapshots atomically, so querying the manager here
		// cannot observe a half-applied transition.
		snaps, err := mgr.Snapshots("")
		if err != nil {
			return
		}
		for _, snap := range snaps {
			msg, mErr := wire.Marshal(snap)
			if mErr != nil {
				logger.Warn("ws initial snapshot marshal failed", "error", mErr, "surface", snap.Surface)
				continue
			}
			// Enqueue init message; if client is already slow, disconnect.
			select {
			case client.send <- msg:
			default:
				hub.unregister <- client
				return
			}
		}
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads session-emitted wire messages, marshals them, and
// broadcasts them to all hub clients. Intended to run as a single
// goroutine.
//
// Scroll activity makes controllers publish snapshots at frame rate, per
// surface. The wire doesn't need that cadence: pending snapshots are
// coalesced latest-wins per surface and flushed at most once per
// snapshotCoalesceWindow, even while updates keep arriving (no
// debounce-on-silence). Session lifecycle events flush immediately and
// push out any pending snapshots first so ordering stays sane.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan wire.Message, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	pending := make(map[string]wire.SnapshotUpdate)
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(m wire.Message) {
		msg, err := wire.Marshal(m)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		for surface, snap := range pending {
			emit(snap)
			delete(pending, surface)
		}
	}

	stopTimer := func() {
		if timer == nil {
			timerCh = nil
			return
		}
		if !timer.Stop() {
			// Drain if needed.
			select {
			case <-timer.C:
			default:
			}
		}
		timerCh = nil
		timer = nil
	}

	startTimerIfNeeded := func() {
		if timer != nil {
			return
		}
		timer = time.NewTimer(snapshotCoalesceWindow)
		timerCh = timer.C
	}

	resetTimer := func() {
		// Timer must already exist.
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(snapshotCoalesceWindow)
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush pending snapshots before exit.
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			// Timer tick: flush whatever accumulated this window.
			flushPending()
			if len(pending) == 0 {
				stopTimer()
			} else {
				resetTimer()
			}

		case m, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			// Rate-limit only snapshots; do NOT reset the timer on each
			// update. Latest-wins per surface, and the periodic timer
			// keeps running while anything is pending.
			if snap, isSnap := m.(wire.SnapshotUpdate); isSnap {
				pending[snap.Surface] = snap
				startTimerIfNeeded()
				continue
			}

			// Lifecycle event: flush pending snapshots first, then emit
			// this event immediately.
			flushPending()
			stopTimer()
			emit(m)
		}
	}
}
