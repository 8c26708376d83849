package num

// EMA is an exponential moving average with alpha = 2/(window+1). Instances
// are owned by the caller and are not safe for concurrent use.
type EMA struct {
	window      int
	alpha       float64
	value       float64
	initialized bool
	history     []float64 // ring of recent values, nil unless enabled
}

// NewEMA creates an EMA over the given window; windows below 1 are clamped.
func NewEMA(window int) *EMA {
	if window < 1 {
		window = 1
	}
	return &EMA{
		window: window,
		alpha:  2.0 / float64(window+1),
	}
}

// NewEMAWithAlpha creates an EMA from a smoothing factor in (0, 1], deriving
// the equivalent window.
func NewEMAWithAlpha(alpha float64) *EMA {
	alpha = Clip(alpha, 1e-12, 1)
	window := int(2.0/alpha) - 1
	if window < 1 {
		window = 1
	}
	return &EMA{window: window, alpha: alpha}
}

// EnableHistory keeps the last window values of the average.
func (e *EMA) EnableHistory() {
	if e.history == nil {
		e.history = make([]float64, 0, e.window)
	}
}

// Update folds in a new observation and returns the new average. The first
// observation seeds the average directly.
func (e *EMA) Update(price float64) float64 {
	if !e.initialized {
		e.initialized = true
		e.value = price
	} else {
		e.value = e.alpha*price + (1-e.alpha)*e.value
	}
	if e.history != nil {
		if len(e.history) == e.window {
			e.history = e.history[1:]
		}
		e.history = append(e.history, e.value)
	}
	return e.value
}

// Value returns the current average; zero before the first update.
func (e *EMA) Value() float64 { return e.value }

// Window returns the effective window length.
func (e *EMA) Window() int { return e.window }

// History returns the retained values, oldest first, or nil when disabled.
func (e *EMA) History() []float64 { return e.history }

// Reset clears the average but keeps the history setting.
func (e *EMA) Reset() {
	e.value = 0
	e.initialized = false
	if e.history != nil {
		e.history = e.history[:0]
	}
}
