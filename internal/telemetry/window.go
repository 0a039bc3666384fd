package telemetry

// window is a fixed-size circular buffer of utilization samples.
type window struct {
	samples []float64
	next    int
	filled  int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 12
	}
	return &window{samples: make([]float64, size)}
}

func (w *window) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

func (w *window) avg() float64 {
	if w.filled == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.filled; i++ {
		sum += w.samples[i]
	}
	return sum / float64(w.filled)
}
