package chromectl

// reduceResult is what one reducer step hands back to the run loop: the
// mutated state, timers to (re)arm, and which callbacks to fire. changed
// reports whether anything externally visible moved; the loop publishes a
// fresh snapshot and notifies subscribers only when it did.
type reduceResult struct {
	state   *controllerState
	effects []effect
	notes   []note
	changed bool
}

// reduce is the pure state transition of the controller. It never performs
// I/O and never touches timers or channels directly; those are expressed
// as effects for the run loop to execute. This keeps every rule testable
// by feeding events and inspecting state.
//
// Design rules:
//   - Show conditions beat hide conditions inside a tick.
//   - While the keyboard is visible the hide side is suspended.
//   - Environment reports are recorded even when the matching feature is
//     disabled, so enabling it later picks up current values.
func reduce(s *controllerState, ev event) reduceResult {
	prevScroll := s.scroll
	prevVis := s.visibility
	prevKb := s.keyboard

	var fx []effect
	forceNote := false

	switch ev := ev.(type) {
	case frameTick:
		fx = s.handleFrame(ev.Sample, fx)

	case settleElapsed:
		if s.scroll.IsSettling {
			s.scroll.IsSettling = false
		}

	case viewportReport:
		s.handleViewport(ev.HeightPx)

	case orientationReport:
		switch {
		case !s.env.orientationSet:
			// Initial posture, not a rotation: geometry is already
			// settled, only the transform needs the right chrome height.
			s.env.orientation = ev.Orientation
			s.env.orientationSet = true
			s.applyTransform()
		case s.env.orientation != ev.Orientation:
			s.env.orientation = ev.Orientation
			s.env.rotationPending = true
			fx = append(fx, armOrientationSettle{After: orientationSettleDelay})
		}

	case orientationSettled:
		s.handleOrientationSettled()

	case reducedMotionReport:
		s.env.reducedMotion = ev.Enabled
		s.refreshAnimate()

	case safeAreaReport:
		s.env.insets = ev.Insets
		s.refreshInsets()

	case forceVisibilityOp:
		s.setVisible(ev.Visible)
		if ev.Force {
			forceNote = true
		}

	case configOp:
		s.cfg = ev.Config
		// Derived outputs follow the new tuning immediately; the
		// hysteresis itself is only re-run on the next scroll frame.
		s.refreshAnimate()
		s.refreshInsets()
		s.reevaluateKeyboard()
	}

	rr := reduceResult{state: s, effects: fx}
	if s.scroll != prevScroll {
		rr.notes = append(rr.notes, noteScroll{State: s.scroll})
	}
	if s.visibility != prevVis || forceNote {
		rr.notes = append(rr.notes, noteVisibility{State: s.visibility})
	}
	if s.keyboard.Visible != prevKb.Visible {
		rr.notes = append(rr.notes, noteKeyboard{Visible: s.keyboard.Visible, HeightPx: s.keyboard.HeightPx})
	}
	rr.changed = len(rr.notes) > 0 || s.keyboard != prevKb
	return rr
}

// handleFrame folds one coalesced sample into the scroll state and runs
// the decision engine. The first sample ever has no predecessor, so it
// contributes position only.
func (s *controllerState) handleFrame(sm ScrollSample, fx []effect) []effect {
	prev := s.scroll
	next := ScrollState{
		OffsetPx:         sm.OffsetPx,
		PreviousOffsetPx: prev.OffsetPx,
		Direction:        DirectionNone,
		IsSettling:       true,
		SampledAt:        sm.At,
	}
	if s.sampleSeen {
		next.Direction = estimateDirection(prev.OffsetPx, sm.OffsetPx)
		next.VelocityPxPerMs = estimateVelocity(prev.OffsetPx, sm.OffsetPx, prev.SampledAt, sm.At)
	} else {
		s.sampleSeen = true
		next.PreviousOffsetPx = sm.OffsetPx
	}
	s.scroll = next
	s.decide()
	return append(fx, armSettle{After: s.cfg.SettleDebounce})
}

// decide applies the hysteresis rules to the current scroll state. Show is
// evaluated first: when a tick satisfies both sides, showing wins. The
// at-top conditions ignore direction entirely so the chrome can never be
// lost at offset zero.
func (s *controllerState) decide() {
	sc := s.scroll
	show := sc.OffsetPx == 0 ||
		sc.OffsetPx <= s.cfg.ShowThresholdPx ||
		(sc.Direction == DirectionUp && sc.VelocityPxPerMs >= s.cfg.ShowVelocityThreshold)
	if show {
		s.setVisible(true)
		return
	}
	if s.keyboard.Visible {
		// A user typing into a form keeps their chrome no matter how
		// the page scrolls underneath.
		return
	}
	if sc.Direction == DirectionDown &&
		sc.OffsetPx > s.cfg.HideThresholdPx &&
		sc.VelocityPxPerMs > s.cfg.HideVelocityThreshold {
		s.setVisible(false)
	}
}

// handleViewport records a height measurement. The first report after
// start seeds the keyboard baseline.
func (s *controllerState) handleViewport(heightPx float64) {
	if heightPx <= 0 {
		// Junk measurement; keeping the previous reading is safer than
		// inferring a keyboard from it.
		return
	}
	s.env.viewportPx = heightPx
	s.env.viewportKnown = true
	if !s.env.baselineKnown {
		s.env.baselinePx = heightPx
		s.env.baselineKnown = true
	}
	s.reevaluateKeyboard()
}

// reevaluateKeyboard re-derives keyboard state from the baseline delta.
// Called on every viewport report, after orientation settles, and when the
// config changes.
func (s *controllerState) reevaluateKeyboard() {
	if !s.cfg.EnableKeyboardDetection {
		s.keyboard = KeyboardState{}
		return
	}
	if s.env.rotationPending {
		// Mid-rotation heights would read as a phantom keyboard; wait
		// for the settle re-baseline.
		return
	}
	if !s.env.baselineKnown || !s.env.viewportKnown {
		return
	}
	// A viewport taller than the baseline means the baseline was captured
	// in a shrunken state; adopt the larger value so the delta cannot go
	// negative and later report a phantom keyboard.
	if s.env.viewportPx > s.env.baselinePx {
		s.env.baselinePx = s.env.viewportPx
	}
	delta := s.env.baselinePx - s.env.viewportPx
	threshold := s.cfg.KeyboardDetectionThresholdPx
	if !s.caps.FineViewportMetrics && threshold < coarseKeyboardThresholdPx {
		threshold = coarseKeyboardThresholdPx
	}
	visible := delta > threshold

	switch {
	case visible && !s.keyboard.Visible:
		s.keyboard = KeyboardState{Visible: true, HeightPx: delta}
		// Keyboard up forces the chrome in, even mid-downscroll.
		s.setVisible(true)
	case !visible && s.keyboard.Visible:
		s.keyboard = KeyboardState{}
	case visible:
		s.keyboard.HeightPx = delta
	}
}

// handleOrientationSettled runs once geometry is trustworthy again after a
// rotation: re-baseline the viewport, re-check the keyboard, and re-apply
// the transform for the new chrome height.
func (s *controllerState) handleOrientationSettled() {
	s.env.rotationPending = false
	if s.env.viewportKnown {
		s.env.baselinePx = s.env.viewportPx
		s.env.baselineKnown = true
	}
	s.reevaluateKeyboard()
	s.refreshInsets()
}

// refreshAnimate re-derives the Animate flag from config and environment.
func (s *controllerState) refreshAnimate() {
	s.visibility.Animate = !(s.cfg.RespectReducedMotion && s.env.reducedMotion)
}

// refreshInsets re-derives the published insets and the transform that
// depends on them.
func (s *controllerState) refreshInsets() {
	s.visibility.SafeAreaInsets = s.effectiveInsets()
	s.applyTransform()
}
