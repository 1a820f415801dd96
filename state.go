package chromectl

import "time"

// Direction classifies the movement of the scroll position between the two
// most recent processed samples.
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Orientation of the host viewport. The chrome occupies a different height
// in each orientation, which feeds the hidden-state transform offset.
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// ScrollSample is one raw scroll position report from the host surface.
// Samples arrive at whatever rate the host produces them; the controller
// coalesces them down to at most one recomputation per frame interval.
type ScrollSample struct {
	OffsetPx float64   `json:"offset_px"`
	At       time.Time `json:"at"`
}

// ScrollState is the derived view of scroll activity after the most recent
// recomputation.
type ScrollState struct {
	OffsetPx         float64   `json:"offset_px"`
	PreviousOffsetPx float64   `json:"previous_offset_px"`
	VelocityPxPerMs  float64   `json:"velocity_px_per_ms"`
	Direction        Direction `json:"direction"`
	IsSettling       bool      `json:"is_settling"`
	SampledAt        time.Time `json:"sampled_at"`
}

// Insets carries safe-area distances reported by the host environment
// (notches, home indicators, rounded corners).
type Insets struct {
	TopPx    float64 `json:"top_px"`
	BottomPx float64 `json:"bottom_px"`
}

// VisibilityState is the externally consumable outcome of the decision
// engine. TransformOffsetPx is 0 when visible; when hidden it is the
// negative of the chrome height for the current orientation plus the top
// safe-area inset, so the chrome clears the viewport entirely.
type VisibilityState struct {
	Visible           bool    `json:"visible"`
	Animate           bool    `json:"animate"`
	TransformOffsetPx float64 `json:"transform_offset_px"`
	SafeAreaInsets    Insets  `json:"safe_area_insets"`
}

// KeyboardState reports the inferred on-screen keyboard. HeightPx is the
// viewport height lost to the keyboard, zero while hidden.
type KeyboardState struct {
	Visible  bool    `json:"visible"`
	HeightPx float64 `json:"height_px"`
}

// Snapshot is the combined immutable state handed to subscribers. Each
// notification carries a fresh copy; holding on to one is always safe.
type Snapshot struct {
	Scroll     ScrollState     `json:"scroll"`
	Visibility VisibilityState `json:"visibility"`
	Keyboard   KeyboardState   `json:"keyboard"`
}

// Capabilities describes what the host surface can measure. A surface
// without fine-grained viewport metrics only learns of large viewport
// changes, so keyboard inference falls back to a more conservative
// threshold.
type Capabilities struct {
	FineViewportMetrics bool `json:"fine_viewport_metrics"`
}

// DefaultCapabilities assumes a fully instrumented surface.
func DefaultCapabilities() Capabilities {
	return Capabilities{FineViewportMetrics: true}
}

// Callbacks are optional per-concern hooks invoked from the controller
// goroutine. Any field may be nil. They fire before registered
// subscribers, and only when the corresponding state actually changed.
type Callbacks struct {
	OnVisibilityChange  func(VisibilityState)
	OnScrollStateChange func(ScrollState)
	OnKeyboardToggle    func(visible bool, heightPx float64)
}

// ============================================================================
// Internal controller state
// ============================================================================

// environmentState is the controller's observed view of the host
// environment, distinct from the derived outputs above. Baseline viewport
// height is captured from the first report after start and re-captured when
// an orientation change settles, so keyboard inference always compares
// against the current posture.
type environmentState struct {
	orientation    Orientation
	reducedMotion  bool
	insets         Insets
	viewportPx     float64
	baselinePx     float64
	baselineKnown  bool
	viewportKnown  bool
	orientationSet bool

	// rotationPending suppresses keyboard inference between an
	// orientation report and its settle, when viewport heights reflect
	// mid-rotation geometry.
	rotationPending bool
}

// controllerState is everything the run loop owns. It is mutated only by
// the controller goroutine (single-owner); the loop publishes immutable
// snapshots for everyone else.
type controllerState struct {
	cfg  Config
	caps Capabilities

	scroll     ScrollState
	visibility VisibilityState
	keyboard   KeyboardState
	env        environmentState

	// sampleSeen distinguishes the very first sample, which has no
	// predecessor and therefore no velocity or direction.
	sampleSeen bool
}

func newControllerState(cfg Config, caps Capabilities) *controllerState {
	s := &controllerState{
		cfg:  cfg,
		caps: caps,
		scroll: ScrollState{
			Direction: DirectionNone,
		},
		env: environmentState{
			orientation: OrientationPortrait,
		},
	}
	// Fail open: until told otherwise the chrome is visible, animated, and
	// flush with the top of the viewport.
	s.visibility = VisibilityState{
		Visible:           true,
		Animate:           true,
		TransformOffsetPx: 0,
	}
	return s
}

// snapshot copies the externally visible portion of the state.
func (s *controllerState) snapshot() Snapshot {
	return Snapshot{
		Scroll:     s.scroll,
		Visibility: s.visibility,
		Keyboard:   s.keyboard,
	}
}

// chromeHeightPx is the height the chrome occupies in the given
// orientation, used to size the hidden-state transform.
func chromeHeightPx(o Orientation) float64 {
	if o == OrientationLandscape {
		return chromeHeightLandscapePx
	}
	return chromeHeightPortraitPx
}

// applyTransform recomputes TransformOffsetPx from the current visibility,
// orientation, and safe-area insets.
func (s *controllerState) applyTransform() {
	if s.visibility.Visible {
		s.visibility.TransformOffsetPx = 0
		return
	}
	s.visibility.TransformOffsetPx = -(chromeHeightPx(s.env.orientation) + s.visibility.SafeAreaInsets.TopPx)
}

// setVisible flips the visibility outcome and keeps the transform offset
// consistent. Callers detect the change by diffing against the previous
// VisibilityState.
func (s *controllerState) setVisible(v bool) {
	if s.visibility.Visible == v {
		return
	}
	s.visibility.Visible = v
	s.applyTransform()
}

// effectiveInsets returns the insets the visibility output should carry,
// honoring the safe-area toggle.
func (s *controllerState) effectiveInsets() Insets {
	if !s.cfg.EnableSafeAreaDetection {
		return Insets{}
	}
	return s.env.insets
}
