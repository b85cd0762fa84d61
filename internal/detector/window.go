package detector

import "math"

// Window is a fixed-capacity FIFO of recent prices for one asset.
// Statistics are undefined until at least minSamples prices have been pushed.
type Window struct {
	buf        []float64
	head       int
	count      int
	minSamples int
}

// NewWindow allocates a window. capacity and minSamples are clamped to sane minimums.
func NewWindow(capacity, minSamples int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	if minSamples < 1 {
		minSamples = 1
	}
	return &Window{buf: make([]float64, capacity), minSamples: minSamples}
}

// Push appends price, evicting the oldest sample once the window is full.
func (w *Window) Push(price float64) {
	idx := (w.head + w.count) % len(w.buf)
	if w.count == len(w.buf) {
		w.buf[w.head] = price
		w.head = (w.head + 1) % len(w.buf)
		return
	}
	w.buf[idx] = price
	w.count++
}

// Len reports the number of retained samples.
func (w *Window) Len() int { return w.count }

// Capacity reports the maximum number of retained samples.
func (w *Window) Capacity() int { return len(w.buf) }

// MinSamples reports the sample count required before statistics are valid.
func (w *Window) MinSamples() int { return w.minSamples }

// Ready reports whether Mean and StdDev are defined.
func (w *Window) Ready() bool { return w.count >= w.minSamples }

// Values returns a copy of the retained samples, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Mean returns the arithmetic mean, or false while the window is below minSamples.
func (w *Window) Mean() (float64, bool) {
	if !w.Ready() {
		return 0, false
	}
	return w.mean(), true
}

// StdDev returns the sample standard deviation (n-1 denominator) in IEEE double
// precision, or false while the window is below minSamples. A single sample has
// zero spread.
func (w *Window) StdDev() (float64, bool) {
	if !w.Ready() {
		return 0, false
	}
	if w.count < 2 {
		return 0, true
	}
	mean := w.mean()
	var ss float64
	for i := 0; i < w.count; i++ {
		d := w.buf[(w.head+i)%len(w.buf)] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(w.count-1)), true
}

// Stats snapshots the window statistics for classification.
func (w *Window) Stats() Stats {
	st := Stats{Count: w.count, MinSamples: w.minSamples}
	if mean, ok := w.Mean(); ok {
		sd, _ := w.StdDev()
		st.Mean, st.StdDev, st.Ready = mean, sd, true
	}
	return st
}

func (w *Window) mean() float64 {
	var sum float64
	for i := 0; i < w.count; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(w.count)
}

// Stats carries window statistics into Classify. Mean and StdDev are meaningful
// only when Ready is true.
type Stats struct {
	Mean       float64
	StdDev     float64
	Count      int
	MinSamples int
	Ready      bool
}
