package chromectl

import "time"

// event is what the run loop feeds the reducer: coalesced scroll frames,
// timer expirations, environment reports, and control operations. Events
// are plain data; all interpretation lives in reduce.
type event interface {
	eventMarker()
}

// frameTick delivers the latest coalesced scroll sample at frame cadence.
type frameTick struct {
	Sample ScrollSample
}

// settleElapsed fires when the settle debounce ran out with no new sample.
type settleElapsed struct {
	At time.Time
}

// viewportReport carries a viewport height measurement from the host.
type viewportReport struct {
	HeightPx float64
}

// orientationReport announces an orientation change. Geometry is not
// trusted again until orientationSettled.
type orientationReport struct {
	Orientation Orientation
}

// orientationSettled fires once the post-rotation settle delay elapsed.
type orientationSettled struct{}

// reducedMotionReport carries the environment's reduced-motion preference.
type reducedMotionReport struct {
	Enabled bool
}

// safeAreaReport carries fresh safe-area insets.
type safeAreaReport struct {
	Insets Insets
}

// forceVisibilityOp is the external override. Force re-emits the
// visibility state even when nothing changed.
type forceVisibilityOp struct {
	Visible bool
	Force   bool
}

// configOp swaps in a fully merged and sanitized Config at a recomputation
// boundary.
type configOp struct {
	Config Config
}

func (frameTick) eventMarker()           {}
func (settleElapsed) eventMarker()       {}
func (viewportReport) eventMarker()      {}
func (orientationReport) eventMarker()   {}
func (orientationSettled) eventMarker()  {}
func (reducedMotionReport) eventMarker() {}
func (safeAreaReport) eventMarker()      {}
func (forceVisibilityOp) eventMarker()   {}
func (configOp) eventMarker()            {}

// ============================================================================
// Reducer outputs
// ============================================================================

// effect asks the run loop to (re)arm one of its timers. Timers stay
// outside the reducer so it remains a pure state transition.
type effect interface {
	effectMarker()
	String() string
}

// armSettle restarts the settle debounce window.
type armSettle struct {
	After time.Duration
}

// armOrientationSettle restarts the post-rotation settle window.
type armOrientationSettle struct {
	After time.Duration
}

func (armSettle) effectMarker()            {}
func (armOrientationSettle) effectMarker() {}

func (armSettle) String() string            { return "arm-settle" }
func (armOrientationSettle) String() string { return "arm-orientation-settle" }

// note tells the run loop which per-concern callback to invoke. Notes are
// derived by diffing state before and after an event, so callbacks fire
// exactly when the visible state changed.
type note interface {
	noteMarker()
}

type noteScroll struct {
	State ScrollState
}

type noteVisibility struct {
	State VisibilityState
}

type noteKeyboard struct {
	Visible  bool
	HeightPx float64
}

func (noteScroll) noteMarker()     {}
func (noteVisibility) noteMarker() {}
func (noteKeyboard) noteMarker()   {}
