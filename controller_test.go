package chromectl

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

// snapshotRecorder is a goroutine-safe subscriber double.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *snapshotRecorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *snapshotRecorder) countSettled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.snaps {
		if !s.Scroll.IsSettling {
			n++
		}
	}
	return n
}

type keyboardToggle struct {
	visible  bool
	heightPx float64
}

// toggleRecorder is a goroutine-safe OnKeyboardToggle double.
type toggleRecorder struct {
	mu      sync.Mutex
	toggles []keyboardToggle
}

func (r *toggleRecorder) record(visible bool, heightPx float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles = append(r.toggles, keyboardToggle{visible: visible, heightPx: heightPx})
}

func (r *toggleRecorder) all() []keyboardToggle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]keyboardToggle, len(r.toggles))
	copy(out, r.toggles)
	return out
}

// scrollRecorder is a goroutine-safe OnScrollStateChange double.
type scrollRecorder struct {
	mu     sync.Mutex
	states []ScrollState
}

func (r *scrollRecorder) record(s ScrollState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *scrollRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// TestController_BurstCoalescesAndSettlesOnce floods the controller with a
// sub-frame burst of samples and verifies (a) the burst collapses to one
// recomputation per frame, keeping the newest sample, and (b) after
// silence exactly one settled notification fires.
func TestController_BurstCoalescesAndSettlesOnce(t *testing.T) {
	rec := &snapshotRecorder{}
	c := New(DefaultConfig(), Callbacks{}, WithLogger(testLogger()))
	c.Subscribe(rec.record)
	c.Start()
	defer c.Destroy()

	for i := 0; i < 50; i++ {
		c.RecordSample(float64(i), sampleTime(i/10))
	}

	waitUntil(t, time.Second, func() bool { return rec.count() >= 1 }, "first recompute")
	time.Sleep(3 * frameInterval)

	// The whole burst lands inside one frame window; allow two in case
	// the scheduler splits it across a frame boundary.
	if n := rec.count(); n > 2 {
		t.Fatalf("expected the burst to coalesce to at most 2 recomputations, got %d", n)
	}
	if got := rec.last().Scroll.OffsetPx; got != 49 {
		t.Fatalf("expected the newest sample (49) to win, got offset %f", got)
	}
	if !rec.last().Scroll.IsSettling {
		t.Fatal("expected settling immediately after the burst")
	}

	waitUntil(t, time.Second, func() bool { return rec.countSettled() >= 1 }, "settle notification")
	time.Sleep(100 * time.Millisecond)
	if n := rec.countSettled(); n != 1 {
		t.Fatalf("expected exactly one settled notification after silence, got %d", n)
	}
	if rec.last().Scroll.IsSettling {
		t.Fatal("expected the final snapshot to be settled")
	}
}

// TestController_SequentialSamplesDriveHysteresis runs the hide/show cycle
// through the real loop. Sample timestamps are logical, so the velocity
// math is deterministic regardless of frame pacing.
func TestController_SequentialSamplesDriveHysteresis(t *testing.T) {
	rec := &snapshotRecorder{}
	c := New(DefaultConfig(), Callbacks{}, WithLogger(testLogger()))
	c.Subscribe(rec.record)
	c.Start()
	defer c.Destroy()

	c.RecordSample(0, sampleTime(0))
	waitUntil(t, time.Second, func() bool { return rec.count() >= 1 }, "first sample processed")

	c.RecordSample(100, sampleTime(200)) // 0.5 px/ms down, past the hide threshold
	waitUntil(t, time.Second, func() bool { return !c.VisibilityState().Visible }, "hide")
	if got := c.VisibilityState().TransformOffsetPx; got != -chromeHeightPortraitPx {
		t.Fatalf("expected hidden transform %f, got %f", -chromeHeightPortraitPx, got)
	}

	c.RecordSample(99, sampleTime(216)) // 1px up
	waitUntil(t, time.Second, func() bool { return c.VisibilityState().Visible }, "show on upward sample")
	if got := c.VisibilityState().TransformOffsetPx; got != 0 {
		t.Fatalf("expected visible transform 0, got %f", got)
	}
}

// TestController_DestroySilencesEverything verifies destroy is idempotent,
// inputs afterwards are no-ops, and the last snapshot stays queryable.
func TestController_DestroySilencesEverything(t *testing.T) {
	scrolls := &scrollRecorder{}
	rec := &snapshotRecorder{}
	c := New(DefaultConfig(), Callbacks{OnScrollStateChange: scrolls.record}, WithLogger(testLogger()))
	c.Subscribe(rec.record)
	c.Start()

	c.RecordSample(30, sampleTime(0))
	waitUntil(t, time.Second, func() bool { return rec.count() >= 1 }, "sample processed")

	c.Destroy()
	c.Destroy() // idempotent

	before := rec.count()
	scrollsBefore := scrolls.count()
	for i := 0; i < 5; i++ {
		c.RecordSample(float64(100+i), sampleTime(100+i))
	}
	c.ReportViewportHeight(400)
	c.ForceVisibility(false, true)
	time.Sleep(4 * frameInterval)

	if rec.count() != before {
		t.Fatalf("expected no subscriber calls after destroy, got %d new", rec.count()-before)
	}
	if scrolls.count() != scrollsBefore {
		t.Fatalf("expected no callbacks after destroy, got %d new", scrolls.count()-scrollsBefore)
	}
	if got := c.ScrollState().OffsetPx; got != 30 {
		t.Fatalf("expected the last snapshot to stay queryable, got offset %f", got)
	}

	// Subscribing after destroy hands back a working no-op unsubscribe.
	unsub := c.Subscribe(func(Snapshot) { t.Error("subscriber after destroy must never fire") })
	unsub()
}

// TestController_SubscribersInRegistrationOrder checks ordering and
// unsubscription through the live loop.
func TestController_SubscribersInRegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	push := func(tag string) func(Snapshot) {
		return func(Snapshot) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := make([]string, len(order))
		copy(out, order)
		return out
	}

	c := New(DefaultConfig(), Callbacks{}, WithLogger(testLogger()))
	unsubA := c.Subscribe(push("a"))
	c.Subscribe(push("b"))
	c.Start()
	defer c.Destroy()

	c.RecordSample(10, sampleTime(0))
	waitUntil(t, time.Second, func() bool { return len(seen()) >= 2 }, "both subscribers notified")
	got := seen()
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected registration order [a b], got %v", got[:2])
	}

	unsubA()
	c.RecordSample(20, sampleTime(100))
	waitUntil(t, time.Second, func() bool { return len(seen()) >= 3 }, "remaining subscriber notified")
	time.Sleep(2 * frameInterval)
	for _, tag := range seen()[2:] {
		if tag == "a" {
			t.Fatal("expected no notifications for an unsubscribed subscriber")
		}
	}
}

// TestController_ForceVisibilityRoundTrip drives the override through the
// loop, including forced re-emission without a state change.
func TestController_ForceVisibilityRoundTrip(t *testing.T) {
	rec := &snapshotRecorder{}
	c := New(DefaultConfig(), Callbacks{}, WithLogger(testLogger()))
	c.Subscribe(rec.record)
	c.Start()
	defer c.Destroy()

	c.ForceVisibility(false, false)
	waitUntil(t, time.Second, func() bool { return !c.VisibilityState().Visible }, "forced hide")
	if got := c.VisibilityState().TransformOffsetPx; got != -chromeHeightPortraitPx {
		t.Fatalf("expected hidden transform %f, got %f", -chromeHeightPortraitPx, got)
	}

	c.ForceVisibility(true, false)
	waitUntil(t, time.Second, func() bool { return c.VisibilityState().Visible }, "forced show")

	// force re-publishes even though nothing changes.
	n := rec.count()
	c.ForceVisibility(true, true)
	waitUntil(t, time.Second, func() bool { return rec.count() > n }, "forced re-emission")
}

// TestController_KeyboardFlowEndToEnd walks baseline capture, keyboard
// show with forced visibility, and keyboard hide through the loop.
func TestController_KeyboardFlowEndToEnd(t *testing.T) {
	toggles := &toggleRecorder{}
	c := New(DefaultConfig(), Callbacks{OnKeyboardToggle: toggles.record}, WithLogger(testLogger()))
	c.Start()
	defer c.Destroy()

	c.ReportViewportHeight(800) // baseline
	c.ReportViewportHeight(600)
	waitUntil(t, time.Second, func() bool { return c.KeyboardState().Visible }, "keyboard visible")
	if got := c.KeyboardState().HeightPx; got != 200 {
		t.Fatalf("expected keyboard height 200, got %f", got)
	}
	if !c.VisibilityState().Visible {
		t.Fatal("expected keyboard to force the chrome visible")
	}

	c.ReportViewportHeight(800)
	waitUntil(t, time.Second, func() bool { return !c.KeyboardState().Visible }, "keyboard hidden")

	got := toggles.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 keyboard toggles, got %d", len(got))
	}
	if !got[0].visible || got[0].heightPx != 200 {
		t.Fatalf("expected first toggle (true, 200), got (%v, %f)", got[0].visible, got[0].heightPx)
	}
	if got[1].visible || got[1].heightPx != 0 {
		t.Fatalf("expected second toggle (false, 0), got (%v, %f)", got[1].visible, got[1].heightPx)
	}
}

// TestController_UpdateConfigClampsAndApplies: a valid field lands, a
// band-collapsing one falls back to defaults.
func TestController_UpdateConfigClampsAndApplies(t *testing.T) {
	c := New(DefaultConfig(), Callbacks{}, WithLogger(testLogger()))
	c.Start()
	defer c.Destroy()

	hide := 80.0
	c.UpdateConfig(Patch{HideThresholdPx: &hide})
	waitUntil(t, time.Second, func() bool { return c.Config().HideThresholdPx == 80 }, "valid patch applied")

	show := 200.0 // above the hide threshold: collapses the band
	c.UpdateConfig(Patch{ShowThresholdPx: &show})
	waitUntil(t, time.Second, func() bool {
		cfg := c.Config()
		return cfg.ShowThresholdPx == 4 && cfg.HideThresholdPx == 48
	}, "collapsed band reset to defaults")
}

// TestController_FailOpenDefaults: before Start (and even without one)
// queries return the safe resting state and inputs are harmless.
func TestController_FailOpenDefaults(t *testing.T) {
	c := New(DefaultConfig(), Callbacks{}, WithLogger(testLogger()))

	vis := c.VisibilityState()
	if !vis.Visible || !vis.Animate || vis.TransformOffsetPx != 0 {
		t.Fatalf("expected fail-open resting state, got %+v", vis)
	}
	if c.KeyboardState().Visible {
		t.Fatal("expected keyboard hidden by default")
	}

	// Inputs before Start are no-ops, not panics.
	c.RecordSample(100, sampleTime(0))
	c.ReportViewportHeight(800)
	c.ForceVisibility(false, true)

	// Destroy before Start wins over a later Start.
	c.Destroy()
	c.Start()
	rec := &snapshotRecorder{}
	c.Subscribe(rec.record)
	c.RecordSample(100, sampleTime(10))
	time.Sleep(3 * frameInterval)
	if rec.count() != 0 {
		t.Fatalf("expected no activity after destroy-then-start, got %d notifications", rec.count())
	}
}
