package estimator

import (
	"sort"
	"time"
)

// DataSample is one filtered-window entry
type DataSample struct {
	Current     float64
	Voltage     float64
	Timestamp   time.Time
	Temperature float64
}

// SampleWindow keeps the last N samples in a fixed ring buffer
type SampleWindow struct {
	samples []DataSample
	start   int // index of the oldest sample
	length  int
	evicted bool // the last Push dropped the oldest sample
	scratch []DataSample
}

// NewSampleWindow creates a window holding at most capacity samples
func NewSampleWindow(capacity int) *SampleWindow {
	return &SampleWindow{
		samples: make([]DataSample, capacity),
		scratch: make([]DataSample, 0, capacity),
	}
}

// Push appends a sample, evicting the oldest one when full
func (w *SampleWindow) Push(s DataSample) {
	capacity := len(w.samples)
	if w.length < capacity {
		w.samples[(w.start+w.length)%capacity] = s
		w.length++
		w.evicted = false
		return
	}
	w.samples[w.start] = s
	w.start = (w.start + 1) % capacity
	w.evicted = true
}

// Len returns the number of samples held
func (w *SampleWindow) Len() int {
	return w.length
}

// Cap returns the maximum number of samples held
func (w *SampleWindow) Cap() int {
	return len(w.samples)
}

// Samples returns a copy of the samples, oldest first
func (w *SampleWindow) Samples() []DataSample {
	out := make([]DataSample, w.length)
	for i := range out {
		out[i] = w.samples[(w.start+i)%len(w.samples)]
	}
	return out
}

// MedianByCurrent returns the middle-ranked sample ordered by current
func (w *SampleWindow) MedianByCurrent() (DataSample, bool) {
	return w.median(func(a, b DataSample) bool { return a.Current < b.Current })
}

// MedianByVoltage returns the middle-ranked sample ordered by voltage
func (w *SampleWindow) MedianByVoltage() (DataSample, bool) {
	return w.median(func(a, b DataSample) bool { return a.Voltage < b.Voltage })
}

// median picks index n/2 of the stably sorted window, where n is the length before the
// last eviction: len/2 while filling, (len+1)/2 once samples roll off. Ties keep arrival order.
func (w *SampleWindow) median(less func(a, b DataSample) bool) (DataSample, bool) {
	if w.length == 0 {
		return DataSample{}, false
	}

	w.scratch = w.scratch[:0]
	for i := 0; i < w.length; i++ {
		w.scratch = append(w.scratch, w.samples[(w.start+i)%len(w.samples)])
	}
	sort.SliceStable(w.scratch, func(i, j int) bool {
		return less(w.scratch[i], w.scratch[j])
	})

	return w.scratch[w.medianIndex()], true
}

// medianIndex returns the position picked by median, clamped for a single-sample window
func (w *SampleWindow) medianIndex() int {
	n := w.length
	if w.evicted {
		n++
	}
	return min(n/2, w.length-1)
}
