// Package chromectl decides whether scroll-reactive chrome (navigation
// bars, toolbars) should be visible, based on scroll samples and
// environment reports from a host surface. It implements hide/show
// hysteresis with velocity gating, settle debouncing, keyboard inference
// from viewport height, and safe-area aware transform offsets.
package chromectl

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Controller is the public face of the engine. One Controller serves one
// surface; create as many as you have surfaces.
//
// Design rules:
//   - A single goroutine (started by Start) owns all mutable state. Every
//     input becomes an event on a channel; the loop runs the reducer and
//     publishes immutable snapshots.
//   - Scroll samples go through a latest-wins mailbox and are processed at
//     most once per frame interval, no matter how fast the host fires.
//   - Callbacks and subscribers are invoked synchronously from the loop,
//     so a notification completes before the next recomputation begins.
//   - Absent or broken inputs degrade to the safe outcome: chrome
//     visible. No input path can abort the loop.
type Controller struct {
	logger *slog.Logger
	caps   Capabilities
	cb     Callbacks

	ops     chan event
	samples chan ScrollSample
	done    chan struct{}

	startOnce   sync.Once
	destroyOnce sync.Once
	running     atomic.Bool
	destroyed   atomic.Bool

	mu   sync.RWMutex
	cfg  Config
	snap Snapshot

	subs *subscriberList
}

// Option customizes a Controller at construction.
type Option func(*Controller)

// WithLogger routes controller diagnostics to l instead of slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCapabilities declares what the host surface can measure.
func WithCapabilities(caps Capabilities) Option {
	return func(c *Controller) {
		c.caps = caps
	}
}

// New builds a Controller with the given tuning and callbacks. The config
// is sanitized here; see Config for the clamping rules. Nothing runs until
// Start.
func New(cfg Config, cb Callbacks, opts ...Option) *Controller {
	c := &Controller{
		logger:  slog.Default(),
		caps:    DefaultCapabilities(),
		cb:      cb,
		ops:     make(chan event, 64),
		samples: make(chan ScrollSample, 1),
		done:    make(chan struct{}),
		subs:    newSubscriberList(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = cfg.sanitized(c.logger)
	c.snap = newControllerState(c.cfg, c.caps).snapshot()
	return c
}

// Start launches the controller goroutine. Calling it again is a no-op,
// as is calling it after Destroy.
func (c *Controller) Start() {
	if c.destroyed.Load() {
		return
	}
	c.startOnce.Do(func() {
		st := newControllerState(c.Config(), c.caps)
		c.running.Store(true)
		go c.run(st)
		c.logger.Debug("controller started")
	})
}

// Destroy stops the controller and drops all subscribers. Idempotent;
// every input method becomes a no-op afterwards. Queries keep returning
// the last published snapshot.
func (c *Controller) Destroy() {
	c.destroyOnce.Do(func() {
		c.destroyed.Store(true)
		c.running.Store(false)
		close(c.done)
		c.subs.clear()
		c.logger.Debug("controller destroyed")
	})
}

func (c *Controller) operational() bool {
	return c.running.Load()
}

// ============================================================================
// Inputs
// ============================================================================

// RecordSample feeds one scroll position report. Bursts are welcome: only
// the newest sample is kept per frame interval. A zero timestamp means
// "now"; negative offsets (rubber-band overscroll) clamp to the top.
func (c *Controller) RecordSample(offsetPx float64, at time.Time) {
	if !c.operational() {
		return
	}
	if math.IsNaN(offsetPx) || math.IsInf(offsetPx, 0) {
		return
	}
	if offsetPx < 0 {
		offsetPx = 0
	}
	if at.IsZero() {
		at = time.Now()
	}
	sm := ScrollSample{OffsetPx: offsetPx, At: at}
	select {
	case c.samples <- sm:
		return
	default:
	}
	// Mailbox occupied: evict the stale sample and retry once. If a
	// racing producer wins the slot, dropping this sample is fine; the
	// slot holds something newer than what was there.
	select {
	case <-c.samples:
	default:
	}
	select {
	case c.samples <- sm:
	default:
	}
}

// ReportViewportHeight feeds a viewport height measurement in px. The
// first report after Start seeds the keyboard detection baseline.
func (c *Controller) ReportViewportHeight(heightPx float64) {
	if !c.operational() {
		return
	}
	if math.IsNaN(heightPx) || math.IsInf(heightPx, 0) {
		return
	}
	c.post(viewportReport{HeightPx: heightPx})
}

// ReportOrientation feeds an orientation change. Unknown values are
// ignored.
func (c *Controller) ReportOrientation(o Orientation) {
	if !c.operational() {
		return
	}
	if o != OrientationPortrait && o != OrientationLandscape {
		c.logger.Debug("ignoring unknown orientation", "orientation", o)
		return
	}
	c.post(orientationReport{Orientation: o})
}

// ReportReducedMotion feeds the environment's reduced-motion preference.
func (c *Controller) ReportReducedMotion(enabled bool) {
	if !c.operational() {
		return
	}
	c.post(reducedMotionReport{Enabled: enabled})
}

// ReportSafeAreaInsets feeds fresh safe-area insets. Negative components
// clamp to zero.
func (c *Controller) ReportSafeAreaInsets(in Insets) {
	if !c.operational() {
		return
	}
	if math.IsNaN(in.TopPx) || in.TopPx < 0 {
		in.TopPx = 0
	}
	if math.IsNaN(in.BottomPx) || in.BottomPx < 0 {
		in.BottomPx = 0
	}
	c.post(safeAreaReport{Insets: in})
}

// ForceVisibility overrides the decision engine once. With force set the
// visibility state is re-published even if it did not change, re-firing
// callbacks and subscribers.
func (c *Controller) ForceVisibility(visible, force bool) {
	if !c.operational() {
		return
	}
	c.post(forceVisibilityOp{Visible: visible, Force: force})
}

// UpdateConfig merges a partial config over the current one, sanitizes
// the result, and applies it at the next event boundary. Concurrent
// updates resolve latest-wins.
func (c *Controller) UpdateConfig(p Patch) {
	if !c.operational() {
		return
	}
	next := p.applied(c.Config()).sanitized(c.logger)
	c.post(configOp{Config: next})
}

func (c *Controller) post(ev event) {
	select {
	case c.ops <- ev:
	case <-c.done:
	}
}

// ============================================================================
// Queries
// ============================================================================

// Config returns the active configuration.
func (c *Controller) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Snapshot returns the last published combined state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// ScrollState returns the scroll portion of the last published snapshot.
func (c *Controller) ScrollState() ScrollState {
	return c.Snapshot().Scroll
}

// VisibilityState returns the visibility portion of the last published
// snapshot.
func (c *Controller) VisibilityState() VisibilityState {
	return c.Snapshot().Visibility
}

// KeyboardState returns the keyboard portion of the last published
// snapshot.
func (c *Controller) KeyboardState() KeyboardState {
	return c.Snapshot().Keyboard
}

// Subscribe registers fn for every published snapshot change and returns
// its unsubscribe func. Subscribers run synchronously on the controller
// goroutine in registration order; keep them fast. Subscribing after
// Destroy returns a no-op unsubscribe.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil || c.destroyed.Load() {
		return func() {}
	}
	return c.subs.add(fn)
}

// ============================================================================
// Run loop
// ============================================================================

// loopTimer wraps a lazily created time.Timer with the stop/drain/reset
// dance, so a stale expiration can never leak into a fresh window. A nil
// channel never fires in the select, which covers the not-yet-created
// case.
type loopTimer struct {
	t     *time.Timer
	C     <-chan time.Time
	armed bool
}

func (lt *loopTimer) arm(d time.Duration) {
	if lt.t == nil {
		lt.t = time.NewTimer(d)
		lt.C = lt.t.C
		lt.armed = true
		return
	}
	if !lt.t.Stop() {
		select {
		case <-lt.t.C:
		default:
		}
	}
	lt.t.Reset(d)
	lt.armed = true
}

// armOnce arms only when no window is already pending. Used for frame
// pacing, where an armed tick must not be pushed back by newer samples.
func (lt *loopTimer) armOnce(d time.Duration) {
	if !lt.armed {
		lt.arm(d)
	}
}

func (lt *loopTimer) fired() {
	lt.armed = false
}

func (lt *loopTimer) stop() {
	if lt.t != nil {
		lt.t.Stop()
	}
}

// run is the controller goroutine. It is the single owner of st; nothing
// else may touch it.
func (c *Controller) run(st *controllerState) {
	var frame, settle, orient loopTimer
	defer frame.stop()
	defer settle.stop()
	defer orient.stop()

	var pending *ScrollSample

	for {
		// Shutdown beats everything, including an already expired frame
		// timer. Without this bias a pending tick could still be
		// processed after Destroy.
		select {
		case <-c.done:
			return
		default:
		}

		select {
		case <-c.done:
			return

		case sm := <-c.samples:
			pending = &sm
			frame.armOnce(frameInterval)

		case <-frame.C:
			frame.fired()
			if pending == nil {
				continue
			}
			sm := *pending
			pending = nil
			c.apply(st, frameTick{Sample: sm}, &settle, &orient)

		case <-settle.C:
			settle.fired()
			c.apply(st, settleElapsed{At: time.Now()}, &settle, &orient)

		case <-orient.C:
			orient.fired()
			c.apply(st, orientationSettled{}, &settle, &orient)

		case ev := <-c.ops:
			c.apply(st, ev, &settle, &orient)
		}
	}
}

// apply runs one reducer step and carries out its consequences: timer
// effects, snapshot publication, callbacks, then subscribers. Everything
// here completes before the loop picks the next event, which is what
// makes notifications ordered and non-overlapping.
func (c *Controller) apply(st *controllerState, ev event, settle, orient *loopTimer) {
	rr := reduce(st, ev)

	for _, fx := range rr.effects {
		switch fx := fx.(type) {
		case armSettle:
			settle.arm(fx.After)
		case armOrientationSettle:
			orient.arm(fx.After)
		}
	}

	snap := st.snapshot()
	c.mu.Lock()
	c.cfg = st.cfg
	if rr.changed {
		c.snap = snap
	}
	c.mu.Unlock()
	if !rr.changed {
		return
	}

	for _, n := range rr.notes {
		switch n := n.(type) {
		case noteScroll:
			if c.cb.OnScrollStateChange != nil {
				c.cb.OnScrollStateChange(n.State)
			}
		case noteVisibility:
			if c.cb.OnVisibilityChange != nil {
				c.cb.OnVisibilityChange(n.State)
			}
			c.logger.Debug("visibility",
				"visible", n.State.Visible,
				"animate", n.State.Animate,
				"transform_offset_px", n.State.TransformOffsetPx)
		case noteKeyboard:
			if c.cb.OnKeyboardToggle != nil {
				c.cb.OnKeyboardToggle(n.Visible, n.HeightPx)
			}
			c.logger.Debug("keyboard", "visible", n.Visible, "height_px", n.HeightPx)
		}
	}
	c.subs.notify(snap)
}
