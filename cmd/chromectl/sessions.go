package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chromectl"
	"chromectl/journal"
	"chromectl/wire"
)

// ============================================================================
// Session Manager
// ============================================================================
// One telemetry session per surface, one controller per session. The
// manager owns session lifecycle; each controller owns its own state on
// its own goroutine. Snapshot changes fan out through the broadcast
// channel (consumed by RunBroadcaster) and visibility flips are recorded
// to the journal.
// ============================================================================

// session binds one surface to its controller instance.
type session struct {
	id        string
	surface   string
	startedAt time.Time
	caps      chromectl.Capabilities

	ctrl  *chromectl.Controller
	unsub func()
}

// SessionInfo is the externally consumable session description, served by
// /debug/sessions.
type SessionInfo struct {
	Surface      string             `json:"surface"`
	SessionID    string             `json:"session_id"`
	StartedAt    time.Time          `json:"started_at"`
	FineViewport bool               `json:"fine_viewport"`
	Snapshot     chromectl.Snapshot `json:"snapshot"`
}

type SessionManager struct {
	logger *slog.Logger
	base   chromectl.Config
	jnl    *journal.Journal // nil when the journal is disabled

	broadcast chan wire.Message

	mu       sync.Mutex
	sessions map[string]*session // keyed by surface
}

func NewSessionManager(base chromectl.Config, jnl *journal.Journal, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		logger:    logger,
		base:      base,
		jnl:       jnl,
		broadcast: make(chan wire.Message, 256),
		sessions:  make(map[string]*session),
	}
}

// Broadcasts is the stream RunBroadcaster consumes.
func (m *SessionManager) Broadcasts() <-chan wire.Message { return m.broadcast }

// publish enqueues a broadcast message. It never blocks; if the queue is
// full the message is dropped. Watchers always converge on the next
// snapshot, so a dropped frame costs nothing but staleness.
func (m *SessionManager) publish(msg wire.Message) {
	select {
	case m.broadcast <- msg:
	default:
		m.logger.Warn("broadcast queue full, dropping message")
	}
}

// Create registers a new session for surface and starts its controller.
// A surface may only have one live session; the previous host must
// disconnect (or be closed over IPC) before a new one can attach.
func (m *SessionManager) Create(surface string, caps chromectl.Capabilities) (*session, error) {
	if surface == "" {
		return nil, fmt.Errorf("surface name is empty")
	}

	m.mu.Lock()
	if _, exists := m.sessions[surface]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("surface %q already has an active session", surface)
	}

	s := &session{
		id:        uuid.New().String(),
		surface:   surface,
		startedAt: time.Now(),
		caps:      caps,
	}

	logger := m.logger.With("surface", surface, "session_id", s.id)
	s.ctrl = chromectl.New(m.base, chromectl.Callbacks{},
		chromectl.WithLogger(logger),
		chromectl.WithCapabilities(caps),
	)

	// The subscriber runs on the controller goroutine; lastVisible needs
	// no locking. Controllers start visible, so only actual flips are
	// journaled.
	lastVisible := true
	s.unsub = s.ctrl.Subscribe(func(snap chromectl.Snapshot) {
		m.publish(wire.SnapshotUpdate{Surface: surface, Snapshot: snap})
		if snap.Visibility.Visible != lastVisible {
			lastVisible = snap.Visibility.Visible
			if m.jnl != nil {
				m.jnl.Record(surface, time.Now(), snap)
			}
		}
	})
	s.ctrl.Start()

	m.sessions[surface] = s
	n := len(m.sessions)
	m.mu.Unlock()

	logger.Info("session started", "fine_viewport", caps.FineViewportMetrics, "sessions", n)
	m.publish(wire.SessionStarted{Surface: surface, SessionID: s.id})
	return s, nil
}

// CloseSession tears down the session for surface. Closing a surface with
// no session is a no-op.
func (m *SessionManager) CloseSession(surface, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[surface]
	if ok {
		delete(m.sessions, surface)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}

	s.unsub()
	s.ctrl.Destroy()
	m.logger.Info("session ended", "surface", surface, "session_id", s.id, "reason", reason, "sessions", n)
	m.publish(wire.SessionEnded{Surface: surface, SessionID: s.id, Reason: reason})
}

// CloseAll tears down every session. Used on shutdown.
func (m *SessionManager) CloseAll(reason string) {
	m.mu.Lock()
	surfaces := make([]string, 0, len(m.sessions))
	for surface := range m.sessions {
		surfaces = append(surfaces, surface)
	}
	m.mu.Unlock()

	for _, surface := range surfaces {
		m.CloseSession(surface, reason)
	}
}

// lookup returns the sessions a control command targets: one for a named
// surface, all of them for the empty string.
func (m *SessionManager) lookup(surface string) ([]*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if surface != "" {
		s, ok := m.sessions[surface]
		if !ok {
			return nil, fmt.Errorf("no active session for surface %q", surface)
		}
		return []*session{s}, nil
	}

	out := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

// ForceVisibility applies an external visibility override to one surface,
// or to every active session when surface is empty.
func (m *SessionManager) ForceVisibility(surface string, visible, force bool) error {
	targets, err := m.lookup(surface)
	if err != nil {
		return err
	}
	for _, s := range targets {
		s.ctrl.ForceVisibility(visible, force)
	}
	return nil
}

// PatchConfig applies a partial config update to one surface, or to every
// active session when surface is empty.
func (m *SessionManager) PatchConfig(surface string, p chromectl.Patch) error {
	targets, err := m.lookup(surface)
	if err != nil {
		return err
	}
	for _, s := range targets {
		s.ctrl.UpdateConfig(p)
	}
	return nil
}

// Snapshots returns the current snapshot of one surface, or of every
// active session when surface is empty.
func (m *SessionManager) Snapshots(surface string) ([]wire.SnapshotUpdate, error) {
	targets, err := m.lookup(surface)
	if err != nil {
		return nil, err
	}
	out := make([]wire.SnapshotUpdate, 0, len(targets))
	for _, s := range targets {
		out = append(out, wire.SnapshotUpdate{Surface: s.surface, Snapshot: s.ctrl.Snapshot()})
	}
	return out, nil
}

// Infos describes every active session for the debug endpoint.
func (m *SessionManager) Infos() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			Surface:      s.surface,
			SessionID:    s.id,
			StartedAt:    s.startedAt,
			FineViewport: s.caps.FineViewportMetrics,
			Snapshot:     s.ctrl.Snapshot(),
		})
	}
	return out
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
