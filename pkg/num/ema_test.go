package num

import (
	"math"
	"testing"
)

func TestEMASeedAndConverge(t *testing.T) {
	e := NewEMA(9) // alpha 0.2

	if got := e.Update(100); got != 100 {
		t.Errorf("first update = %v, want the seed 100", got)
	}
	got := e.Update(110)
	want := 0.2*110 + 0.8*100
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("second update = %v, want %v", got, want)
	}

	// Feeding a constant drives the average to it.
	for i := 0; i < 200; i++ {
		e.Update(50)
	}
	if math.Abs(e.Value()-50) > 1e-6 {
		t.Errorf("converged value = %v, want 50", e.Value())
	}
}

func TestEMAWindowClamp(t *testing.T) {
	if w := NewEMA(0).Window(); w != 1 {
		t.Errorf("window = %d, want clamp to 1", w)
	}
	if w := NewEMAWithAlpha(1).Window(); w != 1 {
		t.Errorf("window = %d, want 1 for alpha 1", w)
	}
}

func TestEMAHistory(t *testing.T) {
	e := NewEMA(3)
	e.EnableHistory()
	for i := 1; i <= 5; i++ {
		e.Update(float64(i))
	}
	h := e.History()
	if len(h) != 3 {
		t.Fatalf("history len = %d, want window 3", len(h))
	}
	if h[2] != e.Value() {
		t.Errorf("newest history entry = %v, want current %v", h[2], e.Value())
	}
}

func TestEMAReset(t *testing.T) {
	e := NewEMA(5)
	e.Update(100)
	e.Reset()
	if e.Value() != 0 {
		t.Errorf("value after reset = %v, want 0", e.Value())
	}
	if got := e.Update(42); got != 42 {
		t.Errorf("update after reset = %v, want reseed 42", got)
	}
}
