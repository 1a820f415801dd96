package chromectl

import (
	"testing"
	"time"
)

// TestEstimateVelocity_Basic checks the px/ms math for a plain move.
func TestEstimateVelocity_Basic(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := estimateVelocity(0, 100, base, base.Add(200*time.Millisecond))
	if v != 0.5 {
		t.Fatalf("expected velocity 0.5 px/ms, got %f", v)
	}
}

// TestEstimateVelocity_Magnitude verifies velocity is unsigned: direction
// is carried separately.
func TestEstimateVelocity_Magnitude(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	down := estimateVelocity(0, 100, base, base.Add(100*time.Millisecond))
	up := estimateVelocity(100, 0, base, base.Add(100*time.Millisecond))
	if down != up {
		t.Fatalf("expected symmetric velocity, got down=%f up=%f", down, up)
	}
	if down != 1.0 {
		t.Fatalf("expected velocity 1.0 px/ms, got %f", down)
	}
}

// TestEstimateVelocity_ZeroDt checks that a duplicate or out-of-order
// timestamp yields zero velocity instead of a division blowup.
func TestEstimateVelocity_ZeroDt(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if v := estimateVelocity(0, 500, base, base); v != 0 {
		t.Fatalf("expected 0 velocity for dt=0, got %f", v)
	}
	if v := estimateVelocity(0, 500, base, base.Add(-10*time.Millisecond)); v != 0 {
		t.Fatalf("expected 0 velocity for negative dt, got %f", v)
	}
}

// TestEstimateDirection covers the three classifications.
func TestEstimateDirection(t *testing.T) {
	if d := estimateDirection(10, 50); d != DirectionDown {
		t.Fatalf("expected down, got %s", d)
	}
	if d := estimateDirection(50, 10); d != DirectionUp {
		t.Fatalf("expected up, got %s", d)
	}
	if d := estimateDirection(50, 50); d != DirectionNone {
		t.Fatalf("expected none, got %s", d)
	}
}
