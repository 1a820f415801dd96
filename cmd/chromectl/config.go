package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"chromectl"
)

// Config is the top-level YAML configuration for the chromectl daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation are centralized here so the rest of the code can assume
// a well-formed config.
type Config struct {
	// Controller tuning applied to every new telemetry session.
	Controller ControllerConfig `yaml:"controller"`

	// HTTP server hosting /telemetry, /state and the debug endpoints.
	HTTP HTTPConfig `yaml:"http"`

	// IPC configuration (Unix socket for control commands)
	IPC IPCConfig `yaml:"ipc"`

	// Journal persists visibility transitions to SQLite.
	Journal JournalConfig `yaml:"journal"`

	// Wheel turns a local evdev scroll wheel into a telemetry source.
	Wheel WheelConfig `yaml:"wheel"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ControllerConfig is the user-facing controller tuning as represented in
// YAML. It maps 1:1 to chromectl.Config but uses YAML-friendly types
// (durations in milliseconds).
type ControllerConfig struct {
	HideThresholdPx              float64 `yaml:"hide_threshold_px"`
	ShowThresholdPx              float64 `yaml:"show_threshold_px"`
	HideVelocityThreshold        float64 `yaml:"hide_velocity_threshold"`
	ShowVelocityThreshold        float64 `yaml:"show_velocity_threshold"`
	SettleDebounceMS             int     `yaml:"settle_debounce_ms"`
	KeyboardDetectionThresholdPx float64 `yaml:"keyboard_detection_threshold_px"`
	RespectReducedMotion         bool    `yaml:"respect_reduced_motion"`
	EnableKeyboardDetection      bool    `yaml:"enable_keyboard_detection"`
	EnableSafeAreaDetection      bool    `yaml:"enable_safe_area_detection"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type WheelConfig struct {
	Enabled bool     `yaml:"enabled"`
	Devices []string `yaml:"devices,omitempty"`

	// Surface is the session name registered for the local wheel.
	Surface string `yaml:"surface"`

	// LineHeightPx converts one wheel detent into a scroll distance.
	LineHeightPx float64 `yaml:"line_height_px"`

	// ViewportHeightPx seeds the session's viewport report; the wheel
	// itself carries no viewport telemetry.
	ViewportHeightPx float64 `yaml:"viewport_height_px"`

	// MaxOffsetPx clamps the synthesized scroll position. Zero means
	// unbounded.
	MaxOffsetPx float64 `yaml:"max_offset_px"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep the controller section aligned with chromectl.DefaultConfig.
func DefaultConfig() Config {
	lib := chromectl.DefaultConfig()
	return Config{
		Controller: ControllerConfig{
			HideThresholdPx:              lib.HideThresholdPx,
			ShowThresholdPx:              lib.ShowThresholdPx,
			HideVelocityThreshold:        lib.HideVelocityThreshold,
			ShowVelocityThreshold:        lib.ShowVelocityThreshold,
			SettleDebounceMS:             int(lib.SettleDebounce / time.Millisecond),
			KeyboardDetectionThresholdPx: lib.KeyboardDetectionThresholdPx,
			RespectReducedMotion:         lib.RespectReducedMotion,
			EnableKeyboardDetection:      lib.EnableKeyboardDetection,
			EnableSafeAreaDetection:      lib.EnableSafeAreaDetection,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8372",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/chromectl.sock",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "~/.local/share/chromectl/journal.db",
		},
		Wheel: WheelConfig{
			Enabled:          false,
			Devices:          nil,
			Surface:          "console",
			LineHeightPx:     53,
			ViewportHeightPx: 1080,
			MaxOffsetPx:      20000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer
// is non-nil. Keeping the override mechanism separate makes it easy to
// evolve flags without proliferating conditionals all over the code.
type FlagOverrides struct {
	ListenAddr    *string
	IPCSocketPath *string

	JournalEnabled *bool
	JournalPath    *string

	WheelEnabled *bool
	WheelDevice  *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is
// ignored. If the pointer is non-nil, the value is applied (even if it is a
// zero value).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ListenAddr != nil {
		cfg.HTTP.ListenAddr = *o.ListenAddr
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.JournalEnabled != nil {
		cfg.Journal.Enabled = *o.JournalEnabled
	}
	if o.JournalPath != nil {
		cfg.Journal.Path = *o.JournalPath
	}
	if o.WheelEnabled != nil {
		cfg.Wheel.Enabled = *o.WheelEnabled
	}
	if o.WheelDevice != nil {
		// Setting the device flag also enables the source; a device
		// nobody reads would be surprising.
		cfg.Wheel.Devices = []string{*o.WheelDevice}
		cfg.Wheel.Enabled = true
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are
// applied. Controller tuning is deliberately not validated here: the
// library clamps out-of-range values itself and must never refuse to run.
func (c *Config) Validate() error {
	if c.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr must not be empty")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.Controller.SettleDebounceMS < 0 {
		return errors.New("controller.settle_debounce_ms must be >= 0")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.enabled is true but journal.path is empty")
	}

	if c.Wheel.Enabled {
		if len(c.Wheel.Devices) == 0 {
			return errors.New("wheel.enabled is true but wheel.devices is empty")
		}
		for i, dev := range c.Wheel.Devices {
			if dev == "" {
				return fmt.Errorf("wheel.devices[%d] is empty", i)
			}
		}
		if c.Wheel.Surface == "" {
			return errors.New("wheel.surface must not be empty")
		}
		if c.Wheel.LineHeightPx <= 0 {
			return errors.New("wheel.line_height_px must be > 0")
		}
		if c.Wheel.ViewportHeightPx <= 0 {
			return errors.New("wheel.viewport_height_px must be > 0")
		}
		if c.Wheel.MaxOffsetPx < 0 {
			return errors.New("wheel.max_offset_px must be >= 0")
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ToControllerConfig converts the file tuning into the library config.
// Out-of-range values are passed through: the library clamps them with a
// warning, which keeps the clamping rules in one place.
func (c *Config) ToControllerConfig() chromectl.Config {
	return chromectl.Config{
		HideThresholdPx:              c.Controller.HideThresholdPx,
		ShowThresholdPx:              c.Controller.ShowThresholdPx,
		HideVelocityThreshold:        c.Controller.HideVelocityThreshold,
		ShowVelocityThreshold:        c.Controller.ShowVelocityThreshold,
		SettleDebounce:               time.Duration(c.Controller.SettleDebounceMS) * time.Millisecond,
		KeyboardDetectionThresholdPx: c.Controller.KeyboardDetectionThresholdPx,
		RespectReducedMotion:         c.Controller.RespectReducedMotion,
		EnableKeyboardDetection:      c.Controller.EnableKeyboardDetection,
		EnableSafeAreaDetection:      c.Controller.EnableSafeAreaDetection,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like journal.path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
