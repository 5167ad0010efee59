package features

import "math"

// Ring is a fixed-capacity ring buffer of float64 values.
type Ring struct {
	buf   []float64
	next  int
	first int
	size  int
}

// NewRing creates a ring buffer with the given capacity.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]float64, capacity)}
}

// Size returns the number of stored values.
func (r *Ring) Size() int { return r.size }

// Push appends a value, returning the evicted value and true when full.
func (r *Ring) Push(x float64) (evicted float64, ok bool) {
	if r.size == len(r.buf) {
		evicted, ok = r.buf[r.next], true
		r.first = (r.first + 1) % len(r.buf)
	} else {
		r.size++
	}
	r.buf[r.next] = x
	r.next = (r.next + 1) % len(r.buf)
	return evicted, ok
}

// Max returns the largest stored value, or -Inf when empty.
func (r *Ring) Max() float64 {
	max := math.Inf(-1)
	for k := 0; k < r.size; k++ {
		if v := r.buf[(r.first+k)%len(r.buf)]; v > max {
			max = v
		}
	}
	return max
}

// Min returns the smallest stored value, or +Inf when empty.
func (r *Ring) Min() float64 {
	min := math.Inf(1)
	for k := 0; k < r.size; k++ {
		if v := r.buf[(r.first+k)%len(r.buf)]; v < min {
			min = v
		}
	}
	return min
}

// Mean returns the arithmetic mean of stored values, or 0 when empty.
func (r *Ring) Mean() float64 {
	if r.size == 0 {
		return 0
	}
	var sum float64
	for k := 0; k < r.size; k++ {
		sum += r.buf[(r.first+k)%len(r.buf)]
	}
	return sum / float64(r.size)
}

// RollingMeanStd maintains mean and standard deviation over a fixed window
// using running sums.
type RollingMeanStd struct {
	buf  *Ring
	sum  float64
	sum2 float64
}

// NewRollingMeanStd creates a tracker over a window of n values.
func NewRollingMeanStd(n int) *RollingMeanStd {
	return &RollingMeanStd{buf: NewRing(n)}
}

// Push feeds one value into the window.
func (r *RollingMeanStd) Push(x float64) {
	evicted, ok := r.buf.Push(x)
	r.sum += x
	r.sum2 += x * x
	if ok {
		r.sum -= evicted
		r.sum2 -= evicted * evicted
	}
}

// Mean returns the window mean, or NaN when empty.
func (r *RollingMeanStd) Mean() float64 {
	if r.buf.Size() == 0 {
		return math.NaN()
	}
	return r.sum / float64(r.buf.Size())
}

// Std returns the window standard deviation, or NaN when empty.
func (r *RollingMeanStd) Std() float64 {
	n := r.buf.Size()
	if n == 0 {
		return math.NaN()
	}
	m := r.sum / float64(n)
	v := r.sum2/float64(n) - m*m
	if v < 0 {
		v = 0 // guard against float drift
	}
	return math.Sqrt(v)
}

// Z returns the z-score of x against the window, or 0 when the deviation is
// zero or undefined.
func (r *RollingMeanStd) Z(x float64) float64 {
	s := r.Std()
	if math.IsNaN(s) || s <= 0 {
		return 0
	}
	return (x - r.Mean()) / s
}
