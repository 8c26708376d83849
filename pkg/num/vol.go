package num

import "math"

// RollingVolatility tracks the standard deviation of log returns over a
// sliding window, plus the z-score of the latest return. Owned by the caller,
// not safe for concurrent use.
type RollingVolatility struct {
	window     int
	returns    []float64
	sum        float64
	sumSquares float64
	lastPrice  float64
	hasPrice   bool
	current    float64
}

// NewRollingVolatility creates a tracker over window returns.
func NewRollingVolatility(window int) *RollingVolatility {
	if window < 2 {
		window = 2
	}
	return &RollingVolatility{
		window:  window,
		returns: make([]float64, 0, window),
	}
}

// Update folds in a new price. It returns the current volatility and the
// z-score of the latest return; ok is false until at least two returns have
// been observed.
func (rv *RollingVolatility) Update(price float64) (vol, zscore float64, ok bool) {
	if rv.hasPrice {
		ret := math.Log(price / rv.lastPrice)
		if len(rv.returns) == rv.window {
			old := rv.returns[0]
			rv.returns = rv.returns[1:]
			rv.sum -= old
			rv.sumSquares -= old * old
		}
		rv.returns = append(rv.returns, ret)
		rv.sum += ret
		rv.sumSquares += ret * ret
	}
	rv.lastPrice = price
	rv.hasPrice = true

	if len(rv.returns) < 2 {
		return 0, 0, false
	}

	n := float64(len(rv.returns))
	mean := rv.sum / n
	variance := rv.sumSquares/n - mean*mean
	vol = math.Sqrt(math.Max(variance, 0))
	rv.current = vol

	latest := rv.returns[len(rv.returns)-1]
	if vol != 0 {
		zscore = (latest - mean) / vol
	}
	return vol, zscore, true
}

// Value returns the most recently computed volatility.
func (rv *RollingVolatility) Value() float64 { return rv.current }

// Count returns the number of returns currently in the window.
func (rv *RollingVolatility) Count() int { return len(rv.returns) }

// Reset clears all state.
func (rv *RollingVolatility) Reset() {
	rv.returns = rv.returns[:0]
	rv.sum = 0
	rv.sumSquares = 0
	rv.hasPrice = false
	rv.current = 0
}
