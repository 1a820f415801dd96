// Package wire defines the JSON messages that cross a chromectl
// transport: telemetry from host surfaces, control commands over IPC, and
// state broadcasts to watchers. Since Go doesn't have union types, a type
// discriminator envelope wraps every message.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"chromectl"
)

// Message is a marker interface for everything that travels in an
// Envelope.
type Message interface {
	messageMarker()
}

// ============================================================================
// Telemetry (host surface -> daemon)
// ============================================================================

// InsetsData carries safe-area insets on the wire.
type InsetsData struct {
	TopPx    float64 `json:"top_px"`
	BottomPx float64 `json:"bottom_px"`
}

// Insets converts to the controller's inset type.
func (d InsetsData) Insets() chromectl.Insets {
	return chromectl.Insets{TopPx: d.TopPx, BottomPx: d.BottomPx}
}

// Hello opens a telemetry session: which surface is talking, what it can
// measure, and the initial environment so the controller starts from
// reality instead of defaults.
type Hello struct {
	Surface          string      `json:"surface"`
	FineViewport     bool        `json:"fine_viewport"`
	ViewportHeightPx float64     `json:"viewport_height_px,omitempty"`
	Orientation      string      `json:"orientation,omitempty"`
	ReducedMotion    bool        `json:"reduced_motion,omitempty"`
	SafeArea         *InsetsData `json:"safe_area,omitempty"`
}

// ScrollReport is one scroll position sample. TsMs is the host's own
// monotonic clock in milliseconds; zero means "use arrival time".
type ScrollReport struct {
	OffsetPx float64 `json:"offset_px"`
	TsMs     float64 `json:"ts_ms,omitempty"`
}

// ViewportReport carries a viewport height measurement.
type ViewportReport struct {
	HeightPx float64 `json:"height_px"`
}

// OrientationReport announces the surface orientation, "portrait" or
// "landscape".
type OrientationReport struct {
	Orientation string `json:"orientation"`
}

// ReducedMotionReport carries the reduced-motion preference.
type ReducedMotionReport struct {
	Enabled bool `json:"enabled"`
}

// SafeAreaReport carries fresh safe-area insets.
type SafeAreaReport struct {
	Insets InsetsData `json:"insets"`
}

func (Hello) messageMarker()               {}
func (ScrollReport) messageMarker()        {}
func (ViewportReport) messageMarker()      {}
func (OrientationReport) messageMarker()   {}
func (ReducedMotionReport) messageMarker() {}
func (SafeAreaReport) messageMarker()      {}

// ============================================================================
// Control (IPC / admin)
// ============================================================================

// ForceVisibility overrides the decision engine. An empty surface targets
// every active session.
type ForceVisibility struct {
	Surface string `json:"surface,omitempty"`
	Visible bool   `json:"visible"`
	Force   bool   `json:"force,omitempty"`
}

// ConfigPatch is a partial controller config update. Durations travel as
// milliseconds on the wire.
type ConfigPatch struct {
	Surface                      string   `json:"surface,omitempty"`
	HideThresholdPx              *float64 `json:"hide_threshold_px,omitempty"`
	ShowThresholdPx              *float64 `json:"show_threshold_px,omitempty"`
	HideVelocityThreshold        *float64 `json:"hide_velocity_threshold,omitempty"`
	ShowVelocityThreshold        *float64 `json:"show_velocity_threshold,omitempty"`
	SettleDebounceMs             *float64 `json:"settle_debounce_ms,omitempty"`
	KeyboardDetectionThresholdPx *float64 `json:"keyboard_detection_threshold_px,omitempty"`
	RespectReducedMotion         *bool    `json:"respect_reduced_motion,omitempty"`
	EnableKeyboardDetection      *bool    `json:"enable_keyboard_detection,omitempty"`
	EnableSafeAreaDetection      *bool    `json:"enable_safe_area_detection,omitempty"`
}

// Patch converts to the controller's patch type.
func (p ConfigPatch) Patch() chromectl.Patch {
	out := chromectl.Patch{
		HideThresholdPx:              p.HideThresholdPx,
		ShowThresholdPx:              p.ShowThresholdPx,
		HideVelocityThreshold:        p.HideVelocityThreshold,
		ShowVelocityThreshold:        p.ShowVelocityThreshold,
		KeyboardDetectionThresholdPx: p.KeyboardDetectionThresholdPx,
		RespectReducedMotion:         p.RespectReducedMotion,
		EnableKeyboardDetection:      p.EnableKeyboardDetection,
		EnableSafeAreaDetection:      p.EnableSafeAreaDetection,
	}
	if p.SettleDebounceMs != nil {
		d := time.Duration(*p.SettleDebounceMs * float64(time.Millisecond))
		out.SettleDebounce = &d
	}
	return out
}

// GetSnapshot asks for the current state of one surface, or all surfaces
// when Surface is empty.
type GetSnapshot struct {
	Surface string `json:"surface,omitempty"`
}

// GetHistory asks for recent visibility transitions from the journal.
type GetHistory struct {
	Surface string `json:"surface,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (ForceVisibility) messageMarker() {}
func (ConfigPatch) messageMarker()     {}
func (GetSnapshot) messageMarker()     {}
func (GetHistory) messageMarker()      {}

// ============================================================================
// Broadcasts (daemon -> watchers)
// ============================================================================

// SnapshotUpdate publishes one surface's combined state.
type SnapshotUpdate struct {
	Surface  string             `json:"surface"`
	Snapshot chromectl.Snapshot `json:"snapshot"`
}

// SessionStarted announces a new telemetry session.
type SessionStarted struct {
	Surface   string `json:"surface"`
	SessionID string `json:"session_id"`
}

// SessionEnded announces a closed telemetry session.
type SessionEnded struct {
	Surface   string `json:"surface"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (SnapshotUpdate) messageMarker() {}
func (SessionStarted) messageMarker() {}
func (SessionEnded) messageMarker()   {}

// ============================================================================
// IPC reply frame
// ============================================================================

// Response is the reply to one IPC command line. Data is present on
// successful queries.
type Response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ============================================================================
// Envelope codec
// ============================================================================

// Envelope wraps a message with a type discriminator for JSON marshaling.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Unmarshal deserializes a JSON envelope into a concrete Message.
func Unmarshal(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "hello":
		var m Hello
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal Hello: %w", err)
		}
		return m, nil

	case "scroll":
		var m ScrollReport
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal ScrollReport: %w", err)
		}
		return m, nil

	case "viewport":
		var m ViewportReport
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal ViewportReport: %w", err)
		}
		return m, nil

	case "orientation":
		var m OrientationReport
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal OrientationReport: %w", err)
		}
		return m, nil

	case "reduced_motion":
		var m ReducedMotionReport
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal ReducedMotionReport: %w", err)
		}
		return m, nil

	case "safe_area":
		var m SafeAreaReport
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal SafeAreaReport: %w", err)
		}
		return m, nil

	case "force_visibility":
		var m ForceVisibility
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal ForceVisibility: %w", err)
		}
		return m, nil

	case "config_patch":
		var m ConfigPatch
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal ConfigPatch: %w", err)
		}
		return m, nil

	case "get_snapshot":
		var m GetSnapshot
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &m); err != nil {
				return nil, fmt.Errorf("unmarshal GetSnapshot: %w", err)
			}
		}
		return m, nil

	case "get_history":
		var m GetHistory
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &m); err != nil {
				return nil, fmt.Errorf("unmarshal GetHistory: %w", err)
			}
		}
		return m, nil

	case "snapshot":
		var m SnapshotUpdate
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal SnapshotUpdate: %w", err)
		}
		return m, nil

	case "session_started":
		var m SessionStarted
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal SessionStarted: %w", err)
		}
		return m, nil

	case "session_ended":
		var m SessionEnded
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal SessionEnded: %w", err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown message type: %q", env.Type)
	}
}

// Marshal serializes a Message into a JSON envelope with type
// discriminator.
func Marshal(m Message) ([]byte, error) {
	var env Envelope

	switch m := m.(type) {
	case Hello:
		env.Type = "hello"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal Hello: %w", err)
		}
		env.Data = data

	case ScrollReport:
		env.Type = "scroll"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal ScrollReport: %w", err)
		}
		env.Data = data

	case ViewportReport:
		env.Type = "viewport"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal ViewportReport: %w", err)
		}
		env.Data = data

	case OrientationReport:
		env.Type = "orientation"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal OrientationReport: %w", err)
		}
		env.Data = data

	case ReducedMotionReport:
		env.Type = "reduced_motion"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal ReducedMotionReport: %w", err)
		}
		env.Data = data

	case SafeAreaReport:
		env.Type = "safe_area"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal SafeAreaReport: %w", err)
		}
		env.Data = data

	case ForceVisibility:
		env.Type = "force_visibility"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal ForceVisibility: %w", err)
		}
		env.Data = data

	case ConfigPatch:
		env.Type = "config_patch"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal ConfigPatch: %w", err)
		}
		env.Data = data

	case GetSnapshot:
		env.Type = "get_snapshot"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal GetSnapshot: %w", err)
		}
		env.Data = data

	case GetHistory:
		env.Type = "get_history"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal GetHistory: %w", err)
		}
		env.Data = data

	case SnapshotUpdate:
		env.Type = "snapshot"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal SnapshotUpdate: %w", err)
		}
		env.Data = data

	case SessionStarted:
		env.Type = "session_started"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal SessionStarted: %w", err)
		}
		env.Data = data

	case SessionEnded:
		env.Type = "session_ended"
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal SessionEnded: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported message type: %T", m)
	}

	return json.Marshal(env)
}
