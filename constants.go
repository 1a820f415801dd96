package chromectl

import "time"

const (
	// frameInterval paces recomputation. Scroll samples arriving faster
	// than this are coalesced: only the latest one is processed per tick.
	frameInterval = time.Second / 60

	// Chrome heights per orientation. These size the hidden-state
	// transform so the bar fully clears the viewport.
	chromeHeightPortraitPx  = 64.0
	chromeHeightLandscapePx = 48.0

	// coarseKeyboardThresholdPx replaces the configured keyboard
	// detection threshold on surfaces without fine-grained viewport
	// metrics, where small height deltas are unreliable.
	coarseKeyboardThresholdPx = 240.0

	// orientationSettleDelay is how long after an orientation report the
	// controller waits before trusting viewport geometry again. Hosts
	// deliver orientation and the resized viewport in either order.
	orientationSettleDelay = 300 * time.Millisecond
)
