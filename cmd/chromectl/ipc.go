package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"chromectl/journal"
	"chromectl/wire"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server allows external clients to send control commands to the
// daemon via a Unix domain socket. This enables:
//   - Forcing chrome visibility from scripts and window managers
//   - Live config patching per surface
//   - Snapshot and transition-history queries
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "command_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or
//     {"status": "error", "error": "msg"}
// ============================================================================

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, mgr *SessionManager, jnl *journal.Journal, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Make socket accessible (consider security implications in production)
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Exit cleanly on shutdown/close.
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}

			// Some platforms return net.ErrClosed; keep this defensive.
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, mgr, jnl, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(conn net.Conn, mgr *SessionManager, jnl *journal.Journal, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		resp := executeIPCCommand(line, mgr, jnl)
		if encErr := encoder.Encode(resp); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// executeIPCCommand parses and runs one command line, producing the reply.
func executeIPCCommand(line string, mgr *SessionManager, jnl *journal.Journal) wire.Response {
	msg, err := wire.Unmarshal([]byte(line))
	if err != nil {
		return errResponse(fmt.Errorf("parse command: %w", err))
	}

	switch m := msg.(type) {
	case wire.ForceVisibility:
		if err := mgr.ForceVisibility(m.Surface, m.Visible, m.Force); err != nil {
			return errResponse(err)
		}
		return wire.Response{Status: "ok"}

	case wire.ConfigPatch:
		if err := mgr.PatchConfig(m.Surface, m.Patch()); err != nil {
			return errResponse(err)
		}
		return wire.Response{Status: "ok"}

	case wire.GetSnapshot:
		snaps, err := mgr.Snapshots(m.Surface)
		if err != nil {
			return errResponse(err)
		}
		return dataResponse(snaps)

	case wire.GetHistory:
		if jnl == nil {
			return errResponse(errors.New("transition journal is disabled"))
		}
		transitions, err := jnl.Recent(m.Surface, m.Limit)
		if err != nil {
			return errResponse(err)
		}
		return dataResponse(transitions)

	default:
		return errResponse(fmt.Errorf("message type %T is not an IPC command", msg))
	}
}

func errResponse(err error) wire.Response {
	return wire.Response{Status: "error", Error: err.Error()}
}

func dataResponse(v any) wire.Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse(fmt.Errorf("marshal response data: %w", err))
	}
	return wire.Response{Status: "ok", Data: data}
}
