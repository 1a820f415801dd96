package chromectl

import (
	"testing"
	"time"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleTime(ms int) time.Time {
	return testBase.Add(time.Duration(ms) * time.Millisecond)
}

func newTestState() *controllerState {
	return newControllerState(DefaultConfig(), DefaultCapabilities())
}

func feedFrame(s *controllerState, offsetPx float64, at time.Time) reduceResult {
	return reduce(s, frameTick{Sample: ScrollSample{OffsetPx: offsetPx, At: at}})
}

// scrollToHidden drives the state into Hidden with a fast, deep downward
// scroll and fails the test if it did not take.
func scrollToHidden(t *testing.T, s *controllerState) {
	t.Helper()
	feedFrame(s, 0, sampleTime(0))
	feedFrame(s, 100, sampleTime(200)) // 0.5 px/ms downward, past the hide threshold
	if s.visibility.Visible {
		t.Fatal("expected hidden after fast deep downward scroll")
	}
}

func containsScrollNote(rr reduceResult) bool {
	for _, n := range rr.notes {
		if _, ok := n.(noteScroll); ok {
			return true
		}
	}
	return false
}

func containsVisibilityNote(rr reduceResult) bool {
	for _, n := range rr.notes {
		if _, ok := n.(noteVisibility); ok {
			return true
		}
	}
	return false
}

func containsKeyboardNote(rr reduceResult) bool {
	for _, n := range rr.notes {
		if _, ok := n.(noteKeyboard); ok {
			return true
		}
	}
	return false
}

// TestReduce_FirstSampleHasNoVelocity checks that the first sample ever
// contributes position only: no predecessor, no direction, no velocity,
// and no hide no matter the offset.
func TestReduce_FirstSampleHasNoVelocity(t *testing.T) {
	s := newTestState()
	rr := feedFrame(s, 100, sampleTime(0))

	if s.scroll.Direction != DirectionNone {
		t.Fatalf("expected direction none on first sample, got %s", s.scroll.Direction)
	}
	if s.scroll.VelocityPxPerMs != 0 {
		t.Fatalf("expected 0 velocity on first sample, got %f", s.scroll.VelocityPxPerMs)
	}
	if s.scroll.PreviousOffsetPx != 100 {
		t.Fatalf("expected previous offset to equal the first offset, got %f", s.scroll.PreviousOffsetPx)
	}
	if !s.scroll.IsSettling {
		t.Fatal("expected settling after a processed sample")
	}
	if !s.visibility.Visible {
		t.Fatal("expected chrome to stay visible on first sample")
	}
	if !containsScrollNote(rr) {
		t.Fatal("expected a scroll note for the first sample")
	}
	if len(rr.effects) != 1 {
		t.Fatalf("expected 1 effect (settle arm), got %d", len(rr.effects))
	}
	if _, ok := rr.effects[0].(armSettle); !ok {
		t.Fatalf("expected armSettle effect, got %T", rr.effects[0])
	}
}

// TestReduce_ShallowScrollNeverHides: a fast flick that stays above the
// hide threshold depth keeps the chrome, velocity notwithstanding.
func TestReduce_ShallowScrollNeverHides(t *testing.T) {
	s := newTestState()
	feedFrame(s, 0, sampleTime(0))
	rr := feedFrame(s, 40, sampleTime(100)) // 0.4 px/ms, well past the velocity gate

	if s.scroll.Direction != DirectionDown {
		t.Fatalf("expected down, got %s", s.scroll.Direction)
	}
	if !s.visibility.Visible {
		t.Fatal("expected visible: offset 40 is above the 48px hide threshold")
	}
	if containsVisibilityNote(rr) {
		t.Fatal("expected no visibility note when nothing changed")
	}
}

// TestReduce_SlowScrollNeverHides: a deep but slow drift stays below the
// hide velocity gate and keeps the chrome.
func TestReduce_SlowScrollNeverHides(t *testing.T) {
	s := newTestState()
	feedFrame(s, 0, sampleTime(0))
	feedFrame(s, 60, sampleTime(1200)) // 0.05 px/ms

	if got := s.scroll.VelocityPxPerMs; got != 0.05 {
		t.Fatalf("expected velocity 0.05, got %f", got)
	}
	if !s.visibility.Visible {
		t.Fatal("expected visible: 0.05 px/ms is below the 0.1 hide velocity gate")
	}
}

// TestReduce_FastDeepScrollHides: both gates pass, chrome hides, and the
// transform clears the full chrome height.
func TestReduce_FastDeepScrollHides(t *testing.T) {
	s := newTestState()
	feedFrame(s, 0, sampleTime(0))
	rr := feedFrame(s, 60, sampleTime(300)) // 0.2 px/ms downward, offset past 48

	if s.visibility.Visible {
		t.Fatal("expected hidden")
	}
	if !containsVisibilityNote(rr) {
		t.Fatal("expected a visibility note for the hide")
	}
	if got := s.visibility.TransformOffsetPx; got != -chromeHeightPortraitPx {
		t.Fatalf("expected transform %f while hidden in portrait, got %f", -chromeHeightPortraitPx, got)
	}
}

// TestReduce_SingleUpwardSampleShows: from Hidden, one upward sample of
// any magnitude brings the chrome back.
func TestReduce_SingleUpwardSampleShows(t *testing.T) {
	s := newTestState()
	scrollToHidden(t, s)

	rr := feedFrame(s, 99, sampleTime(216)) // 1px up
	if !s.visibility.Visible {
		t.Fatal("expected visible after a single upward sample")
	}
	if s.visibility.TransformOffsetPx != 0 {
		t.Fatalf("expected transform 0 while visible, got %f", s.visibility.TransformOffsetPx)
	}
	if !containsVisibilityNote(rr) {
		t.Fatal("expected a visibility note for the show")
	}
}

// TestReduce_OffsetZeroShowsSameTick: offset zero shows in the same tick
// it is processed, even with no direction signal at all.
func TestReduce_OffsetZeroShowsSameTick(t *testing.T) {
	s := newTestState()
	reduce(s, forceVisibilityOp{Visible: false})
	if s.visibility.Visible {
		t.Fatal("expected hidden after force")
	}

	// First sample ever: direction none, so only the zero-offset rule can
	// fire here.
	feedFrame(s, 0, sampleTime(0))
	if !s.visibility.Visible {
		t.Fatal("expected visible at offset 0")
	}
}

// TestReduce_ShowBandBeatsDownDirection: inside the show band the chrome
// shows even while still moving downward.
func TestReduce_ShowBandBeatsDownDirection(t *testing.T) {
	s := newTestState()
	reduce(s, forceVisibilityOp{Visible: false})

	feedFrame(s, 10, sampleTime(0))
	if s.visibility.Visible {
		t.Fatal("expected still hidden at offset 10")
	}
	feedFrame(s, 3, sampleTime(16))
	if !s.visibility.Visible {
		t.Fatal("expected visible inside the show band")
	}
}

// TestReduce_ZeroDtIsDirectionOnly: a duplicate timestamp yields zero
// velocity, which can never satisfy the hide gate.
func TestReduce_ZeroDtIsDirectionOnly(t *testing.T) {
	s := newTestState()
	feedFrame(s, 0, sampleTime(0))
	feedFrame(s, 500, sampleTime(0))

	if s.scroll.VelocityPxPerMs != 0 {
		t.Fatalf("expected 0 velocity for dt=0, got %f", s.scroll.VelocityPxPerMs)
	}
	if s.scroll.Direction != DirectionDown {
		t.Fatalf("expected down direction, got %s", s.scroll.Direction)
	}
	if !s.visibility.Visible {
		t.Fatal("expected visible: zero velocity cannot pass the hide gate")
	}
}

// TestReduce_SettleElapsedClearsSettling checks the debounce transition
// and that a stale settle expiration is a no-op.
func TestReduce_SettleElapsedClearsSettling(t *testing.T) {
	s := newTestState()
	feedFrame(s, 20, sampleTime(0))
	if !s.scroll.IsSettling {
		t.Fatal("expected settling after sample")
	}

	rr := reduce(s, settleElapsed{At: sampleTime(150)})
	if s.scroll.IsSettling {
		t.Fatal("expected settled after debounce")
	}
	if !containsScrollNote(rr) {
		t.Fatal("expected a scroll note for the settle transition")
	}

	rr = reduce(s, settleElapsed{At: sampleTime(300)})
	if rr.changed {
		t.Fatal("expected a stale settle expiration to change nothing")
	}
}

// TestReduce_KeyboardShrinkForcesVisible: a viewport height drop past the
// threshold flags the keyboard and forces the chrome in, even while
// hidden from a downscroll.
func TestReduce_KeyboardShrinkForcesVisible(t *testing.T) {
	s := newTestState()
	reduce(s, viewportReport{HeightPx: 800})
	scrollToHidden(t, s)

	rr := reduce(s, viewportReport{HeightPx: 600})
	if !s.keyboard.Visible {
		t.Fatal("expected keyboard visible after 200px shrink")
	}
	if s.keyboard.HeightPx != 200 {
		t.Fatalf("expected keyboard height 200, got %f", s.keyboard.HeightPx)
	}
	if !s.visibility.Visible {
		t.Fatal("expected keyboard to force the chrome visible")
	}
	if !containsKeyboardNote(rr) || !containsVisibilityNote(rr) {
		t.Fatal("expected keyboard and visibility notes")
	}
}

// TestReduce_KeyboardRestoreReportsHidden: growing back past the
// threshold toggles the keyboard off without touching visibility.
func TestReduce_KeyboardRestoreReportsHidden(t *testing.T) {
	s := newTestState()
	reduce(s, viewportReport{HeightPx: 800})
	reduce(s, viewportReport{HeightPx: 600})
	if !s.keyboard.Visible {
		t.Fatal("expected keyboard visible")
	}

	rr := reduce(s, viewportReport{HeightPx: 800})
	if s.keyboard.Visible {
		t.Fatal("expected keyboard hidden after restore")
	}
	if s.keyboard.HeightPx != 0 {
		t.Fatalf("expected keyboard height 0 while hidden, got %f", s.keyboard.HeightPx)
	}
	if !containsKeyboardNote(rr) {
		t.Fatal("expected a keyboard note for the toggle")
	}
	if containsVisibilityNote(rr) {
		t.Fatal("expected no visibility note: keyboard hiding forces nothing")
	}
}

// TestReduce_KeyboardSuspendsHide: while the keyboard is up, even a fast
// deep downward scroll keeps the chrome.
func TestReduce_KeyboardSuspendsHide(t *testing.T) {
	s := newTestState()
	reduce(s, viewportReport{HeightPx: 800})
	reduce(s, viewportReport{HeightPx: 600})

	feedFrame(s, 0, sampleTime(0))
	feedFrame(s, 400, sampleTime(200)) // 2 px/ms, deep
	if !s.visibility.Visible {
		t.Fatal("expected visible: hide is suspended while the keyboard is up")
	}
}

// TestReduce_SmallShrinkIsNotKeyboard: height deltas at or below the
// threshold (browser chrome, URL bar collapse) do not toggle.
func TestReduce_SmallShrinkIsNotKeyboard(t *testing.T) {
	s := newTestState()
	reduce(s, viewportReport{HeightPx: 800})
	reduce(s, viewportReport{HeightPx: 700})
	if s.keyboard.Visible {
		t.Fatal("expected no keyboard for a 100px shrink")
	}
	// Exactly at the threshold is still not a keyboard.
	reduce(s, viewportReport{HeightPx: 650})
	if s.keyboard.Visible {
		t.Fatal("expected no keyboard for a shrink equal to the threshold")
	}
}

// TestReduce_CoarseMetricsRaiseThreshold: without fine viewport metrics
// the conservative threshold applies.
func TestReduce_CoarseMetricsRaiseThreshold(t *testing.T) {
	s := newControllerState(DefaultConfig(), Capabilities{FineViewportMetrics: false})
	reduce(s, viewportReport{HeightPx: 800})

	reduce(s, viewportReport{HeightPx: 600})
	if s.keyboard.Visible {
		t.Fatal("expected no keyboard: 200px is below the coarse threshold")
	}
	reduce(s, viewportReport{HeightPx: 500})
	if !s.keyboard.Visible {
		t.Fatal("expected keyboard: 300px exceeds the coarse threshold")
	}
}

// TestReduce_KeyboardDetectionDisabled: the feature toggle keeps viewport
// bookkeeping but never toggles the keyboard or forces visibility.
func TestReduce_KeyboardDetectionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableKeyboardDetection = false
	s := newControllerState(cfg, DefaultCapabilities())

	reduce(s, viewportReport{HeightPx: 800})
	scrollToHidden(t, s)
	reduce(s, viewportReport{HeightPx: 500})

	if s.keyboard.Visible {
		t.Fatal("expected no keyboard state with detection disabled")
	}
	if s.visibility.Visible {
		t.Fatal("expected chrome to stay hidden with detection disabled")
	}
}

// TestReduce_RotationSuppressesKeyboardInference: viewport reports between
// an orientation change and its settle must not read as a keyboard; the
// settle re-baselines instead.
func TestReduce_RotationSuppressesKeyboardInference(t *testing.T) {
	s := newTestState()
	reduce(s, orientationReport{Orientation: OrientationPortrait})
	reduce(s, viewportReport{HeightPx: 800})

	rr := reduce(s, orientationReport{Orientation: OrientationLandscape})
	if len(rr.effects) != 1 {
		t.Fatalf("expected 1 effect for the rotation, got %d", len(rr.effects))
	}
	if _, ok := rr.effects[0].(armOrientationSettle); !ok {
		t.Fatalf("expected armOrientationSettle, got %T", rr.effects[0])
	}

	// Mid-rotation the viewport collapses to the landscape height. A
	// naive delta (800-450=350) would read as a keyboard.
	reduce(s, viewportReport{HeightPx: 450})
	if s.keyboard.Visible {
		t.Fatal("expected no keyboard from mid-rotation geometry")
	}

	reduce(s, orientationSettled{})
	if s.keyboard.Visible {
		t.Fatal("expected no keyboard after settle re-baseline")
	}

	// With the new 450px baseline, a real keyboard is detected again.
	reduce(s, viewportReport{HeightPx: 280})
	if !s.keyboard.Visible {
		t.Fatal("expected keyboard after post-settle shrink")
	}
	if s.keyboard.HeightPx != 170 {
		t.Fatalf("expected keyboard height 170 against the new baseline, got %f", s.keyboard.HeightPx)
	}
}

// TestReduce_InitialOrientationIsNotARotation: the first orientation
// report sets posture without a settle window.
func TestReduce_InitialOrientationIsNotARotation(t *testing.T) {
	s := newTestState()
	rr := reduce(s, orientationReport{Orientation: OrientationLandscape})
	if len(rr.effects) != 0 {
		t.Fatalf("expected no settle effect for the initial orientation, got %d", len(rr.effects))
	}
	if s.env.orientation != OrientationLandscape {
		t.Fatalf("expected landscape, got %s", s.env.orientation)
	}

	// Repeating the same orientation is a no-op.
	rr = reduce(s, orientationReport{Orientation: OrientationLandscape})
	if rr.changed || len(rr.effects) != 0 {
		t.Fatal("expected repeated orientation report to change nothing")
	}
}

// TestReduce_HiddenTransformTracksOrientationAndInsets: the hidden
// transform clears chrome height plus top inset, and follows the new
// chrome height only once the rotation settles.
func TestReduce_HiddenTransformTracksOrientationAndInsets(t *testing.T) {
	s := newTestState()
	reduce(s, orientationReport{Orientation: OrientationPortrait})
	reduce(s, safeAreaReport{Insets: Insets{TopPx: 44, BottomPx: 34}})
	scrollToHidden(t, s)

	if got := s.visibility.TransformOffsetPx; got != -(chromeHeightPortraitPx + 44) {
		t.Fatalf("expected transform %f, got %f", -(chromeHeightPortraitPx + 44), got)
	}

	reduce(s, orientationReport{Orientation: OrientationLandscape})
	if got := s.visibility.TransformOffsetPx; got != -(chromeHeightPortraitPx + 44) {
		t.Fatalf("expected transform unchanged before settle, got %f", got)
	}

	reduce(s, orientationSettled{})
	if got := s.visibility.TransformOffsetPx; got != -(chromeHeightLandscapePx + 44) {
		t.Fatalf("expected transform %f after settle, got %f", -(chromeHeightLandscapePx + 44), got)
	}
}

// TestReduce_ReducedMotionTogglesAnimate: the animate flag follows the
// environment preference while RespectReducedMotion is set.
func TestReduce_ReducedMotionTogglesAnimate(t *testing.T) {
	s := newTestState()
	if !s.visibility.Animate {
		t.Fatal("expected animate by default")
	}

	rr := reduce(s, reducedMotionReport{Enabled: true})
	if s.visibility.Animate {
		t.Fatal("expected animate off under reduced motion")
	}
	if !containsVisibilityNote(rr) {
		t.Fatal("expected a visibility note for the animate change")
	}

	reduce(s, reducedMotionReport{Enabled: false})
	if !s.visibility.Animate {
		t.Fatal("expected animate back on")
	}
}

// TestReduce_ReducedMotionIgnoredWhenNotRespected.
func TestReduce_ReducedMotionIgnoredWhenNotRespected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RespectReducedMotion = false
	s := newControllerState(cfg, DefaultCapabilities())

	rr := reduce(s, reducedMotionReport{Enabled: true})
	if !s.visibility.Animate {
		t.Fatal("expected animate to stay on when the preference is not respected")
	}
	if rr.changed {
		t.Fatal("expected no externally visible change")
	}
}

// TestReduce_SafeAreaDisabledKeepsZeroInsets: with detection off the
// published insets stay zero, but the environment report is retained and
// picked up when a config change re-enables the feature.
func TestReduce_SafeAreaDisabledKeepsZeroInsets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSafeAreaDetection = false
	s := newControllerState(cfg, DefaultCapabilities())

	reduce(s, safeAreaReport{Insets: Insets{TopPx: 44}})
	if s.visibility.SafeAreaInsets != (Insets{}) {
		t.Fatalf("expected zero insets while disabled, got %+v", s.visibility.SafeAreaInsets)
	}

	scrollToHidden(t, s)
	if got := s.visibility.TransformOffsetPx; got != -chromeHeightPortraitPx {
		t.Fatalf("expected bare chrome height transform, got %f", got)
	}

	enabled := DefaultConfig() // EnableSafeAreaDetection back on
	reduce(s, configOp{Config: enabled})
	if s.visibility.SafeAreaInsets.TopPx != 44 {
		t.Fatalf("expected retained insets applied after enabling, got %+v", s.visibility.SafeAreaInsets)
	}
	if got := s.visibility.TransformOffsetPx; got != -(chromeHeightPortraitPx + 44) {
		t.Fatalf("expected inset-aware transform after enabling, got %f", got)
	}
}

// TestReduce_ForceWithoutChangeReEmits: force republishes the visibility
// state even when nothing changed; without force it is a no-op.
func TestReduce_ForceWithoutChangeReEmits(t *testing.T) {
	s := newTestState()
	rr := reduce(s, forceVisibilityOp{Visible: true, Force: false})
	if rr.changed || len(rr.notes) != 0 {
		t.Fatal("expected no-op for a non-forced override to the current state")
	}

	rr = reduce(s, forceVisibilityOp{Visible: true, Force: true})
	if !rr.changed {
		t.Fatal("expected forced override to count as a change")
	}
	if !containsVisibilityNote(rr) {
		t.Fatal("expected a visibility note for the forced override")
	}
}

// TestReduce_ConfigOpRefreshesDerivedState: swapping the config re-derives
// animate, insets, and keyboard state immediately.
func TestReduce_ConfigOpRefreshesDerivedState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RespectReducedMotion = false
	s := newControllerState(cfg, DefaultCapabilities())

	reduce(s, reducedMotionReport{Enabled: true})
	reduce(s, viewportReport{HeightPx: 800})
	reduce(s, viewportReport{HeightPx: 600})
	if !s.keyboard.Visible {
		t.Fatal("expected keyboard visible")
	}
	if !s.visibility.Animate {
		t.Fatal("expected animate on while the preference is not respected")
	}

	next := DefaultConfig()
	next.EnableKeyboardDetection = false
	rr := reduce(s, configOp{Config: next})

	if s.visibility.Animate {
		t.Fatal("expected animate off once the preference is respected")
	}
	if s.keyboard.Visible {
		t.Fatal("expected keyboard cleared once detection is disabled")
	}
	if !containsKeyboardNote(rr) {
		t.Fatal("expected a keyboard note for the forced clear")
	}
}
