package gasoracle

import (
	"math"
	"testing"
)

func TestRollingWindow_PartialFill(t *testing.T) {
	w := newWindow(4)
	w.add(10)
	w.add(20)

	mean, std := w.stats()
	if mean != 15 {
		t.Errorf("mean = %v; want 15", mean)
	}
	if math.Abs(std-5) > 1e-9 {
		t.Errorf("std = %v; want 5", std)
	}
}

func TestRollingWindow_EvictsOldest(t *testing.T) {
	w := newWindow(3)
	for _, x := range []float64{100, 1, 2, 3} {
		w.add(x)
	}
	mean, _ := w.stats()
	if mean != 2 {
		t.Errorf("mean = %v; want 2 after eviction of 100", mean)
	}
}

func TestObserve_ZeroUntilVariation(t *testing.T) {
	tr := NewCongestionTracker(16)

	if z := tr.Observe("ethereum", 2e-8); z != 0 {
		t.Errorf("first observation z = %v; want 0", z)
	}
	if z := tr.Observe("ethereum", 2e-8); z != 0 {
		t.Errorf("flat history z = %v; want 0", z)
	}

	z := tr.Observe("ethereum", 8e-8)
	if z <= 1 {
		t.Errorf("spike z = %v; want > 1", z)
	}
}

func TestObserve_ChainsAreIndependent(t *testing.T) {
	tr := NewCongestionTracker(16)
	tr.Observe("ethereum", 1)
	tr.Observe("ethereum", 100)

	if z := tr.Observe("polygon", 50); z != 0 {
		t.Errorf("fresh chain z = %v; want 0", z)
	}
}
