package chromectl

import (
	"log/slog"
	"time"
)

// Config tunes the decision engine. All thresholds are in CSS pixels and
// px/ms to match what host surfaces report. Invalid values never abort the
// controller: they are clamped back to defaults with a warning, on the
// grounds that broken chrome is worse than default chrome.
type Config struct {
	// HideThresholdPx: downward scrolling can hide the chrome only once
	// the offset exceeds this depth.
	HideThresholdPx float64 `json:"hide_threshold_px"`

	// ShowThresholdPx: at or above the top of the page by this margin the
	// chrome always shows, regardless of direction.
	ShowThresholdPx float64 `json:"show_threshold_px"`

	// HideVelocityThreshold: minimum downward speed (px/ms) before a hide
	// triggers. Slow drifts keep the chrome in place.
	HideVelocityThreshold float64 `json:"hide_velocity_threshold"`

	// ShowVelocityThreshold: minimum upward speed (px/ms) before a show
	// triggers. The default of 0 makes any upward movement show.
	ShowVelocityThreshold float64 `json:"show_velocity_threshold"`

	// SettleDebounce: how long after the last processed sample the scroll
	// state is still considered in motion.
	SettleDebounce time.Duration `json:"settle_debounce"`

	// KeyboardDetectionThresholdPx: viewport height loss beyond this is
	// attributed to the on-screen keyboard.
	KeyboardDetectionThresholdPx float64 `json:"keyboard_detection_threshold_px"`

	// RespectReducedMotion: when set and the environment prefers reduced
	// motion, visibility changes are published with Animate=false.
	RespectReducedMotion bool `json:"respect_reduced_motion"`

	// EnableKeyboardDetection gates keyboard inference. When off,
	// viewport reports still update baselines but never toggle the
	// keyboard state or force visibility.
	EnableKeyboardDetection bool `json:"enable_keyboard_detection"`

	// EnableSafeAreaDetection gates safe-area handling. When off, the
	// published insets are always zero and the hidden transform uses the
	// bare chrome height.
	EnableSafeAreaDetection bool `json:"enable_safe_area_detection"`
}

// DefaultConfig returns the tuning used when the host provides nothing.
func DefaultConfig() Config {
	return Config{
		HideThresholdPx:              48,
		ShowThresholdPx:              4,
		HideVelocityThreshold:        0.1,
		ShowVelocityThreshold:        0,
		SettleDebounce:               150 * time.Millisecond,
		KeyboardDetectionThresholdPx: 150,
		RespectReducedMotion:         true,
		EnableKeyboardDetection:      true,
		EnableSafeAreaDetection:      true,
	}
}

// Patch is a partial Config for runtime updates. Nil fields keep their
// current value. The merged result is sanitized before it reaches the
// controller, so a patch can degrade tuning but never break the engine.
type Patch struct {
	HideThresholdPx              *float64       `json:"hide_threshold_px,omitempty"`
	ShowThresholdPx              *float64       `json:"show_threshold_px,omitempty"`
	HideVelocityThreshold        *float64       `json:"hide_velocity_threshold,omitempty"`
	ShowVelocityThreshold        *float64       `json:"show_velocity_threshold,omitempty"`
	SettleDebounce               *time.Duration `json:"settle_debounce,omitempty"`
	KeyboardDetectionThresholdPx *float64       `json:"keyboard_detection_threshold_px,omitempty"`
	RespectReducedMotion         *bool          `json:"respect_reduced_motion,omitempty"`
	EnableKeyboardDetection      *bool          `json:"enable_keyboard_detection,omitempty"`
	EnableSafeAreaDetection      *bool          `json:"enable_safe_area_detection,omitempty"`
}

// applied merges the patch over cfg and returns the result.
func (p Patch) applied(cfg Config) Config {
	if p.HideThresholdPx != nil {
		cfg.HideThresholdPx = *p.HideThresholdPx
	}
	if p.ShowThresholdPx != nil {
		cfg.ShowThresholdPx = *p.ShowThresholdPx
	}
	if p.HideVelocityThreshold != nil {
		cfg.HideVelocityThreshold = *p.HideVelocityThreshold
	}
	if p.ShowVelocityThreshold != nil {
		cfg.ShowVelocityThreshold = *p.ShowVelocityThreshold
	}
	if p.SettleDebounce != nil {
		cfg.SettleDebounce = *p.SettleDebounce
	}
	if p.KeyboardDetectionThresholdPx != nil {
		cfg.KeyboardDetectionThresholdPx = *p.KeyboardDetectionThresholdPx
	}
	if p.RespectReducedMotion != nil {
		cfg.RespectReducedMotion = *p.RespectReducedMotion
	}
	if p.EnableKeyboardDetection != nil {
		cfg.EnableKeyboardDetection = *p.EnableKeyboardDetection
	}
	if p.EnableSafeAreaDetection != nil {
		cfg.EnableSafeAreaDetection = *p.EnableSafeAreaDetection
	}
	return cfg
}

// sanitized clamps out-of-range values back to defaults and logs what it
// repaired. It never rejects: the controller must keep running with
// whatever tuning survives.
func (c Config) sanitized(logger *slog.Logger) Config {
	def := DefaultConfig()

	if c.HideThresholdPx < 0 {
		logger.Warn("negative hide threshold, using default",
			"got", c.HideThresholdPx, "default", def.HideThresholdPx)
		c.HideThresholdPx = def.HideThresholdPx
	}
	if c.ShowThresholdPx < 0 {
		logger.Warn("negative show threshold, using default",
			"got", c.ShowThresholdPx, "default", def.ShowThresholdPx)
		c.ShowThresholdPx = def.ShowThresholdPx
	}
	if c.HideVelocityThreshold < 0 {
		logger.Warn("negative hide velocity threshold, using default",
			"got", c.HideVelocityThreshold, "default", def.HideVelocityThreshold)
		c.HideVelocityThreshold = def.HideVelocityThreshold
	}
	if c.ShowVelocityThreshold < 0 {
		logger.Warn("negative show velocity threshold, using default",
			"got", c.ShowVelocityThreshold, "default", def.ShowVelocityThreshold)
		c.ShowVelocityThreshold = def.ShowVelocityThreshold
	}
	if c.SettleDebounce <= 0 {
		logger.Warn("non-positive settle debounce, using default",
			"got", c.SettleDebounce, "default", def.SettleDebounce)
		c.SettleDebounce = def.SettleDebounce
	}
	if c.KeyboardDetectionThresholdPx <= 0 {
		logger.Warn("non-positive keyboard detection threshold, using default",
			"got", c.KeyboardDetectionThresholdPx, "default", def.KeyboardDetectionThresholdPx)
		c.KeyboardDetectionThresholdPx = def.KeyboardDetectionThresholdPx
	}

	// The hysteresis band must be a band. A show threshold at or above
	// the hide threshold would let a single offset satisfy both sides,
	// so both fall back together.
	if c.ShowThresholdPx >= c.HideThresholdPx {
		logger.Warn("show threshold must be below hide threshold, using defaults",
			"show", c.ShowThresholdPx, "hide", c.HideThresholdPx)
		c.ShowThresholdPx = def.ShowThresholdPx
		c.HideThresholdPx = def.HideThresholdPx
	}
	return c
}
