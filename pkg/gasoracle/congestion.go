package gasoracle

import (
	"math"
	"sync"

	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
)

// rollingWindow holds a fixed-size ring buffer for O(1) mean/stddev.
type rollingWindow struct {
	buf        []float64
	sum, sqsum float64
	idx        int
	full       bool
}

func newWindow(size int) *rollingWindow {
	return &rollingWindow{buf: make([]float64, size)}
}

func (w *rollingWindow) add(x float64) {
	if w.full {
		old := w.buf[w.idx]
		w.sum -= old
		w.sqsum -= old * old
	}
	w.buf[w.idx] = x
	w.sum += x
	w.sqsum += x * x
	w.idx = (w.idx + 1) % len(w.buf)
	if w.idx == 0 {
		w.full = true
	}
}

func (w *rollingWindow) stats() (mean, std float64) {
	n := float64(len(w.buf))
	if !w.full {
		n = float64(w.idx)
	}
	if n == 0 {
		return 0, 0
	}
	mean = w.sum / n
	variance := (w.sqsum / n) - (mean * mean)
	if variance < 0 {
		variance = 0
	}
	std = math.Sqrt(variance)
	return
}

// CongestionTracker derives a per-chain congestion signal from the recent
// gas price history: the z-score of the latest observation against a rolling
// window. A chain with no variation yet reports zero.
type CongestionTracker struct {
	mu      sync.Mutex
	size    int
	windows map[models.ChainID]*rollingWindow
}

// NewCongestionTracker builds a tracker with the given window size.
func NewCongestionTracker(windowSize int) *CongestionTracker {
	if windowSize < 2 {
		windowSize = 2
	}
	return &CongestionTracker{
		size:    windowSize,
		windows: make(map[models.ChainID]*rollingWindow),
	}
}

// Observe records one gas price and returns the congestion z-score for it.
func (t *CongestionTracker) Observe(chain models.ChainID, gasPrice float64) float64 {
	t.mu.Lock()
	w, ok := t.windows[chain]
	if !ok {
		w = newWindow(t.size)
		t.windows[chain] = w
	}
	w.add(gasPrice)
	mean, std := w.stats()
	t.mu.Unlock()

	if std == 0 {
		return 0
	}
	z := (gasPrice - mean) / std
	metrics.CongestionScore.WithLabelValues(string(chain)).Set(z)
	return z
}
