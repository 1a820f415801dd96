package chromectl

import "time"

// estimateVelocity returns scroll velocity in px/ms between two samples.
// A non-positive elapsed time (clock glitch, duplicate timestamp) yields
// zero rather than a division blowup; the decision engine then treats the
// tick as direction-only.
func estimateVelocity(prevOffsetPx, offsetPx float64, prevAt, at time.Time) float64 {
	dtMs := float64(at.Sub(prevAt)) / float64(time.Millisecond)
	if dtMs <= 0 {
		return 0
	}
	d := offsetPx - prevOffsetPx
	if d < 0 {
		d = -d
	}
	return d / dtMs
}

// estimateDirection classifies movement between two offsets. Equal offsets
// report DirectionNone, which satisfies neither the hide nor the show
// direction predicate.
func estimateDirection(prevOffsetPx, offsetPx float64) Direction {
	switch {
	case offsetPx > prevOffsetPx:
		return DirectionDown
	case offsetPx < prevOffsetPx:
		return DirectionUp
	default:
		return DirectionNone
	}
}
