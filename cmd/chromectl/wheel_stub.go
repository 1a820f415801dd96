//go:build !linux

package main

import (
	"context"
	"log/slog"
)

// runWheelSource is a no-op on platforms without evdev. Capability
// absence, not an error: the daemon still serves WebSocket telemetry.
func runWheelSource(ctx context.Context, cfg WheelConfig, mgr *SessionManager, logger *slog.Logger) error {
	logger.Info("wheel source unsupported on this platform, skipping", "devices", cfg.Devices)
	<-ctx.Done()
	return nil
}
