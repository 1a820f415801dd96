package main

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chromectl"
	"chromectl/wire"
)

// ============================================================================
// Telemetry WebSocket - host surface ingest
// ============================================================================
// A host surface connects, sends a "hello" declaring which surface it is
// and what it can measure, then streams telemetry envelopes. Each
// connection owns exactly one session (and therefore one controller);
// disconnecting tears the session down.
//
// Capabilities are fixed at hello time. That is deliberate: the library
// treats them as a construction-time fact, never re-probed per call.
// ============================================================================

// hostClock maps a host's own monotonic milliseconds onto the daemon
// clock. Hosts batch scroll events, so stamping them with arrival time
// would flatten bursts and distort velocity; anchoring the first host
// timestamp to its arrival time preserves the inter-sample spacing the
// host measured.
type hostClock struct {
	anchored bool
	hostMs   float64
	at       time.Time
}

func (hc *hostClock) resolve(tsMs float64) time.Time {
	if tsMs <= 0 {
		return time.Now()
	}
	if !hc.anchored {
		hc.anchored = true
		hc.hostMs = tsMs
		hc.at = time.Now()
	}
	return hc.at.Add(time.Duration((tsMs - hc.hostMs) * float64(time.Millisecond)))
}

// handleTelemetryWS upgrades a host connection and runs its session until
// the host disconnects.
func handleTelemetryWS(mgr *SessionManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("telemetry upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		// Server-side pings keep half-dead host connections from holding
		// a surface hostage. Writes are rare on this socket, so a mutex
		// is all the coordination the ping goroutine needs.
		var writeMu sync.Mutex
		pingDone := make(chan struct{})
		defer close(pingDone)
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-pingDone:
					return
				case <-ticker.C:
					writeMu.Lock()
					err := conn.WriteMessage(websocket.PingMessage, nil)
					writeMu.Unlock()
					if err != nil {
						return
					}
				}
			}
		}()

		// First message must be a hello.
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("telemetry connection closed before hello", "remote_addr", r.RemoteAddr)
			return
		}
		msg, err := wire.Unmarshal(raw)
		if err != nil {
			logger.Warn("telemetry handshake parse failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}
		hello, ok := msg.(wire.Hello)
		if !ok {
			logger.Warn("telemetry connection did not start with hello", "remote_addr", r.RemoteAddr)
			return
		}

		caps := chromectl.Capabilities{FineViewportMetrics: hello.FineViewport}
		s, err := mgr.Create(hello.Surface, caps)
		if err != nil {
			logger.Warn("telemetry session rejected", "remote_addr", r.RemoteAddr, "error", err)
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			writeMu.Unlock()
			return
		}
		reason := "host disconnected"
		defer func() { mgr.CloseSession(hello.Surface, reason) }()

		// Seed the controller from the hello so it starts from observed
		// reality instead of defaults.
		if hello.ViewportHeightPx > 0 {
			s.ctrl.ReportViewportHeight(hello.ViewportHeightPx)
		}
		if hello.Orientation != "" {
			s.ctrl.ReportOrientation(chromectl.Orientation(hello.Orientation))
		}
		s.ctrl.ReportReducedMotion(hello.ReducedMotion)
		if hello.SafeArea != nil {
			s.ctrl.ReportSafeAreaInsets(hello.SafeArea.Insets())
		}

		var clock hostClock
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if code, text, ok := closeStatus(err); ok {
					logger.Debug("telemetry connection closed", "surface", hello.Surface, "code", code, "reason", text)
				} else {
					logger.Debug("telemetry connection closed", "surface", hello.Surface, "error", err)
				}
				return
			}

			msg, err := wire.Unmarshal(raw)
			if err != nil {
				// One malformed frame doesn't kill the session; the next
				// valid report supersedes whatever this one meant.
				logger.Warn("telemetry parse failed", "surface", hello.Surface, "error", err)
				continue
			}

			switch m := msg.(type) {
			case wire.ScrollReport:
				s.ctrl.RecordSample(m.OffsetPx, clock.resolve(m.TsMs))
			case wire.ViewportReport:
				s.ctrl.ReportViewportHeight(m.HeightPx)
			case wire.OrientationReport:
				s.ctrl.ReportOrientation(chromectl.Orientation(m.Orientation))
			case wire.ReducedMotionReport:
				s.ctrl.ReportReducedMotion(m.Enabled)
			case wire.SafeAreaReport:
				s.ctrl.ReportSafeAreaInsets(m.Insets.Insets())
			case wire.Hello:
				reason = "duplicate hello"
				logger.Warn("telemetry session sent a second hello, closing", "surface", hello.Surface)
				return
			default:
				logger.Warn("unexpected message on telemetry socket", "surface", hello.Surface)
			}
		}
	}
}
