package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"chromectl/wire"
)

// chromectl-watch observes a chromectl daemon's state WebSocket.
//
// Plain mode prints state changes as they happen (visibility flips,
// keyboard toggles, settle edges). TUI mode renders a live navigation bar
// per surface from TransformOffsetPx and Animate alone, which is exactly
// the contract a real navigation view consumes.

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:8372/state", "chromectl state websocket URL")
		surface = flag.String("surface", "", "Only show this surface (default: all)")
		tui     = flag.Bool("tui", false, "Render a live navigation bar instead of printing changes")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Set up ping/pong handlers for connection health
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Start ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	if *tui {
		if err := runTUI(conn, *surface); err != nil {
			log.Fatalf("tui error: %v", err)
		}
		return
	}

	log.Printf("connected! (press Ctrl+C to exit)")

	// Track last state per surface for change detection
	last := make(map[string]surfaceState)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			handleMessage(message, *surface, last)
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// surfaceState is the slice of a snapshot that plain mode diffs against.
type surfaceState struct {
	seen     bool
	visible  bool
	settling bool
	keyboard bool
}

// handleMessage prints the interesting edges of one wire message.
func handleMessage(message []byte, filter string, last map[string]surfaceState) {
	msg, err := wire.Unmarshal(message)
	if err != nil {
		fmt.Printf("[RAW] %s\n", string(message))
		return
	}

	switch m := msg.(type) {
	case wire.SessionStarted:
		if filter != "" && m.Surface != filter {
			return
		}
		fmt.Printf("[%s] session started (%s)\n", m.Surface, m.SessionID)

	case wire.SessionEnded:
		if filter != "" && m.Surface != filter {
			return
		}
		delete(last, m.Surface)
		fmt.Printf("[%s] session ended: %s\n", m.Surface, m.Reason)

	case wire.SnapshotUpdate:
		if filter != "" && m.Surface != filter {
			return
		}
		printSnapshotChanges(m, last)
	}
}

func printSnapshotChanges(m wire.SnapshotUpdate, last map[string]surfaceState) {
	prev := last[m.Surface]
	snap := m.Snapshot
	cur := surfaceState{
		seen:     true,
		visible:  snap.Visibility.Visible,
		settling: snap.Scroll.IsSettling,
		keyboard: snap.Keyboard.Visible,
	}
	last[m.Surface] = cur

	if !prev.seen {
		fmt.Printf("[%s] %s offset=%.0f transform=%.0f animate=%v\n",
			m.Surface, visibilityWord(cur.visible),
			snap.Scroll.OffsetPx, snap.Visibility.TransformOffsetPx, snap.Visibility.Animate)
		return
	}

	if cur.visible != prev.visible {
		fmt.Printf("[%s] %s (offset=%.0f v=%.2f %s transform=%.0f)\n",
			m.Surface, visibilityWord(cur.visible),
			snap.Scroll.OffsetPx, snap.Scroll.VelocityPxPerMs, snap.Scroll.Direction,
			snap.Visibility.TransformOffsetPx)
	}
	if cur.keyboard != prev.keyboard {
		if cur.keyboard {
			fmt.Printf("[%s] keyboard SHOWN (height=%.0fpx)\n", m.Surface, snap.Keyboard.HeightPx)
		} else {
			fmt.Printf("[%s] keyboard HIDDEN\n", m.Surface)
		}
	}
	if cur.settling != prev.settling && !cur.settling {
		fmt.Printf("[%s] settled at offset=%.0f\n", m.Surface, snap.Scroll.OffsetPx)
	}
}

func visibilityWord(visible bool) string {
	if visible {
		return "VISIBLE"
	}
	return "HIDDEN"
}
