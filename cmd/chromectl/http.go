package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chromectl/journal"
)

// ============================================================================
// HTTP server - telemetry ingest, state hub, health and debug endpoints
// ============================================================================

// newMux wires up every HTTP endpoint the daemon serves.
func newMux(hub *Hub, mgr *SessionManager, jnl *journal.Journal, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", handleTelemetryWS(mgr, logger.With("component", "telemetry")))
	mux.HandleFunc("/state", handleStateWS(hub, mgr, logger.With("component", "state_ws")))
	mux.HandleFunc("/healthz", handleHealthz(mgr))
	mux.HandleFunc("/debug/sessions", handleDebugSessions(mgr))
	mux.HandleFunc("/debug/transitions", handleDebugTransitions(jnl))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleHealthz(mgr *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": mgr.Count(),
		})
	}
}

func handleDebugSessions(mgr *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mgr.Infos())
	}
}

// handleDebugTransitions serves recent visibility flips from the journal:
// /debug/transitions?surface=<name>&limit=<n>
func handleDebugTransitions(jnl *journal.Journal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jnl == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "transition journal is disabled",
			})
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "limit must be a positive integer",
				})
				return
			}
			limit = n
		}

		transitions, err := jnl.Recent(r.URL.Query().Get("surface"), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, transitions)
	}
}

// runHTTPServer starts the HTTP server on listenAddr and shuts it down
// gracefully when ctx is canceled.
func runHTTPServer(ctx context.Context, listenAddr string, handler http.Handler, logger *slog.Logger) error {
	logger.Info("http server listening", "addr", listenAddr)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// Graceful shutdown with a timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		_ = <-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
